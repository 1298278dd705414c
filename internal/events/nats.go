package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/lastword/internal/game"
)

type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSPublisher forwards session events to <prefix>.<code>.<event type>.
type NATSPublisher struct {
	nc     *nats.Conn
	pub    msgPublisher
	prefix string
}

func Connect(url, prefix string) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("lastword"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	p := newPublisher(nc, prefix)
	p.nc = nc
	return p, nil
}

func newPublisher(pub msgPublisher, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "lastword"
	}
	return &NATSPublisher{pub: pub, prefix: prefix}
}

func (p *NATSPublisher) Subject(ev game.Event) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, ev.SessionCode, ev.Type)
}

func (p *NATSPublisher) Publish(_ context.Context, ev game.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("code", ev.SessionCode).Msg("marshal event")
		return
	}
	msg := &nats.Msg{
		Subject: p.Subject(ev),
		Data:    data,
		Header: nats.Header{
			"Event-Type":   []string{string(ev.Type)},
			"Event-ID":     []string{ev.ID},
			"Event-Seq":   []string{strconv.FormatUint(ev.Seq, 10)},
			"Session-Code": []string{ev.SessionCode},
		},
	}
	if err := p.pub.PublishMsg(msg); err != nil {
		log.Warn().Err(err).Str("subject", msg.Subject).Msg("publish to NATS failed")
		return
	}
	log.Debug().Str("subject", msg.Subject).Str("event_id", ev.ID).Msg("published to NATS")
}

func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
