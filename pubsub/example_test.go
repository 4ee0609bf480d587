package pubsub_test

import (
	"context"
	"fmt"

	"github.com/infigaming-com/go-pubsub-worker/pubsub"
	"github.com/infigaming-com/go-pubsub-worker/pubsub/driver/inmem"
)

type orderCreated struct {
	ID string `json:"id"`
}

func ExampleBackend() {
	ctx := context.Background()
	transport := inmem.New()
	transport.Bind("orders-topic", "orders-sub")

	backend, err := pubsub.New[orderCreated](ctx, transport, "orders-topic", "orders-sub")
	if err != nil {
		panic(err)
	}

	sink := backend.Sink()
	sink.Accept(&pubsub.Task[orderCreated]{Payload: orderCreated{ID: "42"}, ID: 7})
	if err := sink.Close(ctx); err != nil {
		panic(err)
	}

	stream, err := backend.Poll(ctx)
	if err != nil {
		panic(err)
	}
	task, err := stream.Next(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Println("received", task.Payload.ID, "task", task.ID)

	if err := backend.Close(ctx); err != nil {
		panic(err)
	}
	// Output: received 42 task 7
}
