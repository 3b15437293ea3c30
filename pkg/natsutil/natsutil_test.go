package natsutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/domain"
)

type testMsg struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

type fakePublisher struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakePublisher) PublishMsg(m *nats.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m)
	return nil
}

// fakeSubscriber captures the handler so tests can deliver messages
// without a server.
type fakeSubscriber struct {
	subject string
	cb      nats.MsgHandler
	err     error
}

func (f *fakeSubscriber) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subject, f.cb = subject, cb
	return &nats.Subscription{Subject: subject}, nil
}

func TestPublishEncodesJSON(t *testing.T) {
	p := &fakePublisher{}
	require.NoError(t, Publish(context.Background(), p, "test.subject", testMsg{Name: "test", Value: 42}))

	require.Len(t, p.msgs, 1)
	assert.Equal(t, "test.subject", p.msgs[0].Subject)
	assert.JSONEq(t, `{"name":"test","value":42}`, string(p.msgs[0].Data))
}

func TestPublishWrapsError(t *testing.T) {
	down := errors.New("nats: connection closed")
	err := Publish(context.Background(), &fakePublisher{err: down}, "x", testMsg{})
	assert.ErrorIs(t, err, down)
}

func TestPublishSetsContentType(t *testing.T) {
	p := &fakePublisher{}
	require.NoError(t, Publish(context.Background(), p, "s", testMsg{}))
	assert.Equal(t, "application/json", p.msgs[0].Header.Get("Content-Type"))
}

func TestDecodeRejects(t *testing.T) {
	_, _, err := decode[testMsg](&nats.Msg{Subject: "s", Data: []byte("{invalid json")})
	assert.ErrorContains(t, err, "decode s")

	msg := nats.NewMsg("s")
	msg.Data = []byte(`{"name":"x"}`)
	msg.Header.Set("Content-Type", "application/cbor")
	_, _, err = decode[testMsg](msg)
	assert.ErrorContains(t, err, "unsupported content type")
}

func TestDecodeWithoutHeaders(t *testing.T) {
	_, v, err := decode[testMsg](&nats.Msg{Subject: "s", Data: []byte(`{"name":"plain","value":1}`)})
	require.NoError(t, err)
	assert.Equal(t, testMsg{Name: "plain", Value: 1}, v)
}

func TestSubscribeDelivers(t *testing.T) {
	s := &fakeSubscriber{}
	var got []testMsg
	var bad []string
	_, err := Subscribe(s, "jobs", func(_ context.Context, m testMsg) { got = append(got, m) },
		OnDecodeError(func(msg *nats.Msg, _ error) { bad = append(bad, string(msg.Data)) }))
	require.NoError(t, err)
	require.Equal(t, "jobs", s.subject)

	msg, err := encode(context.Background(), "jobs", testMsg{Name: "a", Value: 1})
	require.NoError(t, err)
	s.cb(msg)
	s.cb(&nats.Msg{Subject: "jobs", Data: []byte("nope")})

	assert.Equal(t, []testMsg{{Name: "a", Value: 1}}, got)
	assert.Equal(t, []string{"nope"}, bad)
}

func TestSubscribeWrapsError(t *testing.T) {
	down := errors.New("nats: connection closed")
	_, err := Subscribe(&fakeSubscriber{err: down}, "jobs", func(context.Context, testMsg) {})
	assert.ErrorIs(t, err, down)
	assert.ErrorContains(t, err, "subscribe jobs")
}

func TestTracePropagatesThroughHeaders(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	msg, err := encode(ctx, "s", testMsg{Name: "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, propagation.HeaderCarrier(msg.Header).Get("traceparent"))

	got, v, err := decode[testMsg](msg)
	require.NoError(t, err)
	assert.Equal(t, "x", v.Name)
	assert.Equal(t, traceID, trace.SpanContextFromContext(got).TraceID())
}

func TestEventPublisherSubject(t *testing.T) {
	p := &fakePublisher{}
	ev := domain.Event{
		EventID:    "EVT-1",
		Timestamp:  time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		Transition: "DeclareWaste",
		FromStatus: domain.StatusOriginal,
		ToStatus:   domain.StatusWasteRequested,
		Version:    2,
		ActorID:    "ACT-GARAGE",
		PassportID: "BP-BAT-1",
	}
	require.NoError(t, NewEventPublisher(p).Notify(context.Background(), ev))

	require.Len(t, p.msgs, 1)
	assert.Equal(t, "passport.events.WASTE_REQUESTED", p.msgs[0].Subject)
	_, got, err := decode[domain.Event](p.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, ev, got)
}

func TestSubscribeEventsFiltersByStatus(t *testing.T) {
	s := &fakeSubscriber{}
	_, err := SubscribeEvents(s, domain.StatusRecycled, func(context.Context, domain.Event) {})
	require.NoError(t, err)
	assert.Equal(t, "passport.events.RECYCLED", s.subject)
}

func TestWatchSubject(t *testing.T) {
	assert.Equal(t, "passport.events.>", WatchSubject(""))
	assert.Equal(t, "passport.events.RECYCLED", WatchSubject(domain.StatusRecycled))
}
