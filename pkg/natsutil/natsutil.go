// Package natsutil provides typed NATS publish/subscribe helpers with
// OpenTelemetry trace propagation, and the passport event publisher built on
// them.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
)

// Publisher is the subset of *nats.Conn needed to publish.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// Subscriber is the subset of *nats.Conn needed to subscribe.
type Subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// SubOption configures Subscribe.
type SubOption func(*subConfig)

type subConfig struct {
	onError func(*nats.Msg, error)
}

// OnDecodeError reports messages that could not be decoded. By default they
// are dropped.
func OnDecodeError(f func(*nats.Msg, error)) SubOption {
	return func(c *subConfig) { c.onError = f }
}

// headers exposes message headers to OTel propagators. nats.Header and
// http.Header share their underlying type.
func headers(msg *nats.Msg) propagation.HeaderCarrier {
	if msg.Header == nil {
		msg.Header = nats.Header{}
	}
	return propagation.HeaderCarrier(msg.Header)
}

// Publish sends v as JSON on subject, with the trace context of ctx in the
// message headers.
func Publish[T any](ctx context.Context, p Publisher, subject string, v T) error {
	msg, err := encode(ctx, subject, v)
	if err != nil {
		return err
	}
	if err := p.PublishMsg(msg); err != nil {
		return fmt.Errorf("natsutil: publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers JSON messages on subject to handler as T. The handler's
// context carries the publisher's trace context.
func Subscribe[T any](s Subscriber, subject string, handler func(context.Context, T), opts ...SubOption) (*nats.Subscription, error) {
	var cfg subConfig
	for _, o := range opts {
		o(&cfg)
	}
	sub, err := s.Subscribe(subject, func(msg *nats.Msg) {
		ctx, v, err := decode[T](msg)
		if err != nil {
			if cfg.onError != nil {
				cfg.onError(msg, err)
			}
			return
		}
		handler(ctx, v)
	})
	if err != nil {
		return nil, fmt.Errorf("natsutil: subscribe %s: %w", subject, err)
	}
	return sub, nil
}

func encode[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(headerContentType, contentTypeJSON)
	otel.GetTextMapPropagator().Inject(ctx, headers(msg))
	return msg, nil
}

func decode[T any](msg *nats.Msg) (context.Context, T, error) {
	var v T
	if ct := msg.Header.Get(headerContentType); ct != "" && ct != contentTypeJSON {
		return nil, v, fmt.Errorf("natsutil: %s: unsupported content type %q", msg.Subject, ct)
	}
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return nil, v, fmt.Errorf("natsutil: decode %s: %w", msg.Subject, err)
	}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), headers(msg))
	return ctx, v, nil
}
