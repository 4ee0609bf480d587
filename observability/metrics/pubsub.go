package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/infigaming-com/go-pubsub-worker/pubsub"
)

// PubSubMetrics records backend events as OTel instruments. It implements pubsub.MetricsHook.
type PubSubMetrics struct {
	received     metric.Int64Counter
	receivedSize metric.Int64Histogram
	dropped      metric.Int64Counter
	handedOff    metric.Int64Counter
	handoffWait  metric.Float64Histogram
	abandoned    metric.Int64Counter
	ackFailures  metric.Int64Counter
	published    metric.Int64Counter
	flushes      metric.Int64Counter
	flushTime    metric.Float64Histogram
}

var _ pubsub.MetricsHook = (*PubSubMetrics)(nil)

func NewPubSubMetrics(meter metric.Meter) (*PubSubMetrics, error) {
	var (
		m   PubSubMetrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.received, "pubsub.messages.received", "Messages delivered by the broker"},
		{&m.dropped, "pubsub.messages.dropped", "Messages acknowledged without becoming a task"},
		{&m.handedOff, "pubsub.tasks.handed_off", "Tasks handed to the task stream"},
		{&m.abandoned, "pubsub.tasks.abandoned", "Deliveries returned to the broker because the stream was closed"},
		{&m.ackFailures, "pubsub.ack.failures", "Failed acknowledge or negative-acknowledge calls"},
		{&m.published, "pubsub.tasks.published", "Tasks published by sink flushes"},
		{&m.flushes, "pubsub.flushes", "Sink flushes"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("1")); err != nil {
			return nil, fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
	}
	if m.receivedSize, err = meter.Int64Histogram("pubsub.messages.size",
		metric.WithDescription("Payload size of delivered messages"), metric.WithUnit("By")); err != nil {
		return nil, fmt.Errorf("failed to create histogram: %w", err)
	}
	if m.handoffWait, err = meter.Float64Histogram("pubsub.handoff.wait",
		metric.WithDescription("Time a delivery waited for room in the task stream"), metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("failed to create histogram: %w", err)
	}
	if m.flushTime, err = meter.Float64Histogram("pubsub.flush.duration",
		metric.WithDescription("Sink flush duration"), metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("failed to create histogram: %w", err)
	}
	return &m, nil
}

func subscriptionAttr(subscription string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("subscription", subscription))
}

func droppedAttrs(subscription, reason string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("subscription", subscription),
		attribute.String("reason", reason),
	)
}

func (m *PubSubMetrics) OnReceived(subscription string, bytes int) {
	ctx := context.Background()
	m.received.Add(ctx, 1, subscriptionAttr(subscription))
	m.receivedSize.Record(ctx, int64(bytes), subscriptionAttr(subscription))
}

func (m *PubSubMetrics) OnOversized(subscription string, _ int) {
	m.dropped.Add(context.Background(), 1, droppedAttrs(subscription, "oversized"))
}

func (m *PubSubMetrics) OnPoison(subscription string) {
	m.dropped.Add(context.Background(), 1, droppedAttrs(subscription, "poison"))
}

func (m *PubSubMetrics) OnDuplicate(subscription string) {
	m.dropped.Add(context.Background(), 1, droppedAttrs(subscription, "duplicate"))
}

func (m *PubSubMetrics) OnHandedOff(subscription string, wait time.Duration) {
	ctx := context.Background()
	m.handedOff.Add(ctx, 1, subscriptionAttr(subscription))
	m.handoffWait.Record(ctx, float64(wait)/float64(time.Millisecond), subscriptionAttr(subscription))
}

func (m *PubSubMetrics) OnAbandoned(subscription string) {
	m.abandoned.Add(context.Background(), 1, subscriptionAttr(subscription))
}

func (m *PubSubMetrics) OnAckFailure(subscription string) {
	m.ackFailures.Add(context.Background(), 1, subscriptionAttr(subscription))
}

func (m *PubSubMetrics) OnFlush(topic string, tasks int, duration time.Duration, err error) {
	ctx := context.Background()
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("topic", topic), attribute.String("status", status))
	m.flushes.Add(ctx, 1, attrs)
	m.published.Add(ctx, int64(tasks), attrs)
	m.flushTime.Record(ctx, float64(duration)/float64(time.Millisecond), attrs)
}
