package bus

import "log/slog"

// Envelope pairs an event with the topic it was published on, for
// listeners that multiplex several topics onto one channel.
type Envelope struct {
	Topic Topic
	Event any
}

// BlockingListener enqueues envelopes into ch, blocking the publisher
// until there is room. Used for the message topic, where ordering must be
// preserved end to end.
func BlockingListener(ch chan<- Envelope) Listener {
	return func(topic Topic, event any) {
		ch <- Envelope{Topic: topic, Event: event}
	}
}

// DropOldestListener enqueues envelopes into ch; when the channel is full
// the oldest pending envelope is dropped with a warning. Used for sse and
// tool topics, where a slow consumer must not stall the publisher.
func DropOldestListener(ch chan Envelope) Listener {
	return func(topic Topic, event any) {
		for {
			select {
			case ch <- Envelope{Topic: topic, Event: event}:
				return
			default:
			}
			select {
			case dropped := <-ch:
				slog.Warn("event channel full, dropping oldest event",
					"topic", string(dropped.Topic))
			default:
			}
		}
	}
}
