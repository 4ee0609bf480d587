package pubsub

import "time"

// MetricsHook bridges backend events to an observability stack without a direct dependency.
type MetricsHook interface {
	OnReceived(subscription string, bytes int)
	OnOversized(subscription string, bytes int)
	OnPoison(subscription string)
	OnDuplicate(subscription string)
	OnHandedOff(subscription string, wait time.Duration)
	OnAbandoned(subscription string)
	OnAckFailure(subscription string)
	OnFlush(topic string, tasks int, duration time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) OnReceived(string, int) {}
func (noopMetrics) OnOversized(string, int) {}
func (noopMetrics) OnPoison(string) {}
func (noopMetrics) OnDuplicate(string) {}
func (noopMetrics) OnHandedOff(string, time.Duration) {}
func (noopMetrics) OnAbandoned(string) {}
func (noopMetrics) OnAckFailure(string) {}
func (noopMetrics) OnFlush(string, int, time.Duration, error) {}
