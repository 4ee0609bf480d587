package pubsub

import (
	"sync"
	"time"
)

// Health is a point-in-time snapshot of a backend.
type Health struct {
	Topic           string    `json:"topic"`
	Subscription    string    `json:"subscription"`
	Buffered        int       `json:"buffered"`
	PendingOutbound int       `json:"pending_outbound"`
	Flushing        bool      `json:"flushing"`
	HandedOff       int64     `json:"handed_off"`
	Dropped         int64     `json:"dropped"`
	Abandoned       int64     `json:"abandoned"`
	LastError       string    `json:"last_error,omitempty"`
	LastTaskID      TaskID    `json:"last_task_id,omitempty"`
	LastActivity    time.Time `json:"last_activity"`
	ShutDown        bool      `json:"shut_down"`
}

type healthRecorder struct {
	mu     sync.RWMutex
	health Health
}

func (r *healthRecorder) handedOff(id TaskID) {
	r.mu.Lock()
	r.health.HandedOff++
	r.health.LastTaskID = id
	r.health.LastActivity = time.Now()
	r.mu.Unlock()
}

func (r *healthRecorder) dropped(reason string) {
	r.mu.Lock()
	r.health.Dropped++
	r.health.LastError = reason
	r.health.LastActivity = time.Now()
	r.mu.Unlock()
}

func (r *healthRecorder) abandoned() {
	r.mu.Lock()
	r.health.Abandoned++
	r.health.LastActivity = time.Now()
	r.mu.Unlock()
}

func (r *healthRecorder) failed(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	r.health.LastError = err.Error()
	r.health.LastActivity = time.Now()
	r.mu.Unlock()
}

func (r *healthRecorder) snapshot() Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.health
}
