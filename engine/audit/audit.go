// Package audit writes the append-only Event trail of passport transitions
// and replays it to derive a passport's lifecycle status.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/domain"
	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/provenance"
)

// Entry describes one committed transition to be recorded.
type Entry struct {
	EventID     string // optional; generated when empty
	Transition  string
	From, To    domain.Status
	Version     int64 // passport version produced by the transition
	ActorID     string
	PassportID  string
	Description string
}

// Writer appends Events inside the caller's write transaction.
type Writer struct {
	now   func() time.Time
	newID func() string
}

// Option configures a Writer.
type Option func(*Writer)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithIDs overrides event ID generation.
func WithIDs(newID func() string) Option {
	return func(w *Writer) { w.newID = newID }
}

// NewWriter creates a Writer stamping events in UTC with EVT-<uuid> IDs.
func NewWriter(opts ...Option) *Writer {
	w := &Writer{
		now:   time.Now,
		newID: func() string { return domain.EventPrefix + uuid.NewString() },
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// NewEventID returns a fresh event ID.
func (w *Writer) NewEventID() string { return w.newID() }

// Now returns the writer's current UTC time.
func (w *Writer) Now() time.Time { return w.now().UTC() }

// Record creates exactly one Event for the entry in tx.
func (w *Writer) Record(ctx context.Context, tx provenance.WriteTx, e Entry) (domain.Event, error) {
	id := strings.TrimSpace(e.EventID)
	if id == "" {
		id = w.newID()
	}
	desc := e.Description
	if desc == "" {
		desc = fmt.Sprintf("%s: %s -> %s", e.Transition, e.From, e.To)
	}
	ev := domain.Event{
		EventID:     id,
		Timestamp:   w.Now(),
		Description: desc,
		Transition:  e.Transition,
		FromStatus:  e.From,
		ToStatus:    e.To,
		Version:     e.Version,
		ActorID:     e.ActorID,
		PassportID:  e.PassportID,
	}
	if err := tx.AppendEvent(ctx, ev); err != nil {
		return domain.Event{}, fmt.Errorf("append event %s: %w", id, err)
	}
	return ev, nil
}

// ReplayError reports the first event that does not follow the lifecycle.
type ReplayError struct {
	Index int
	Event domain.Event
	From  domain.Status
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("event %d (%s) moves %s -> %s but status was %s",
		e.Index, e.Event.EventID, e.Event.FromStatus, e.Event.ToStatus, e.From)
}

// Replay folds ordered events starting from ORIGINAL. Each event must be the
// single legal step out of the status reached so far.
func Replay(events []domain.Event) (domain.Status, error) {
	status := domain.StatusOriginal
	for i, ev := range events {
		next, ok := NextStatus(status)
		if !ok || ev.FromStatus != status || ev.ToStatus != next {
			return status, &ReplayError{Index: i, Event: ev, From: status}
		}
		status = next
	}
	return status, nil
}

// NextStatus returns the only status reachable from s.
func NextStatus(s domain.Status) (domain.Status, bool) {
	switch s {
	case domain.StatusOriginal:
		return domain.StatusWasteRequested, true
	case domain.StatusWasteRequested:
		return domain.StatusWaste, true
	case domain.StatusWaste:
		return domain.StatusRecycled, true
	}
	return "", false
}

// Verify checks that the passport's cached status agrees with its history.
func Verify(p domain.Passport, events []domain.Event) error {
	replayed, err := Replay(events)
	if err != nil {
		return err
	}
	if replayed != p.CurrentStatus {
		return fmt.Errorf("passport %s: status %s but history replays to %s",
			p.PassportID, p.CurrentStatus, replayed)
	}
	return nil
}
