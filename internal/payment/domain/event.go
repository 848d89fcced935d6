package domain

import "time"

type EventType string

const (
	SessionCompleted     EventType = "checkout.session.completed"
	SessionExpired       EventType = "checkout.session.expired"
	SessionPaymentFailed EventType = "checkout.session.payment_failed"
)

// Event is a verified gateway lifecycle notification. SessionRef always
// identifies the checkout session; OrderID is the correlation value we put
// in the session metadata at creation time and may be empty on events the
// gateway emits for sessions it created out of band.
type Event struct {
	ID         string
	Type       EventType
	SessionRef string
	OrderID    string
	CreatedAt  time.Time
}
