package natsutil

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/domain"
)

// SubjectPrefix is the root of every passport event subject.
const SubjectPrefix = "passport.events"

// EventSubject returns the subject an event reaching status is published on.
func EventSubject(status domain.Status) string {
	return SubjectPrefix + "." + string(status)
}

// WatchSubject returns the subscription subject for status, or for every
// status when status is empty.
func WatchSubject(status domain.Status) string {
	if status == "" {
		return SubjectPrefix + ".>"
	}
	return EventSubject(status)
}

// EventPublisher publishes committed lifecycle events. It satisfies the
// lifecycle engine's Notifier.
type EventPublisher struct {
	p Publisher
}

// NewEventPublisher creates an EventPublisher on p, usually a *nats.Conn.
func NewEventPublisher(p Publisher) *EventPublisher {
	return &EventPublisher{p: p}
}

// Notify publishes ev on the subject of its resulting status.
func (e *EventPublisher) Notify(ctx context.Context, ev domain.Event) error {
	return Publish(ctx, e.p, EventSubject(ev.ToStatus), ev)
}

// SubscribeEvents delivers events reaching status ("" for all) to handler.
func SubscribeEvents(s Subscriber, status domain.Status, handler func(context.Context, domain.Event), opts ...SubOption) (*nats.Subscription, error) {
	return Subscribe(s, WatchSubject(status), handler, opts...)
}
