package bus

import "time"

// Event kinds published by the daemon. Subscribers filter by prefix, so
// "fanout." receives every realtime event and "scheduler." every delivery.
const (
	KindFanoutPrefix       = "fanout."
	KindSchedulerDelivered = "scheduler.delivered"
	KindSchedulerFailed    = "scheduler.failed"
	KindSessionOpened      = "session.opened"
	KindSessionClosed      = "session.closed"
	KindBotReplied         = "bot.replied"
)

// Fanout returns the kind under which a realtime event is mirrored.
func Fanout(event string) string {
	return KindFanoutPrefix + event
}

// Event is one entry on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
