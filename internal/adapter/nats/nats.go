// Package nats implements the message queue port on NATS: core pub/sub for
// event fan-out, JetStream for run-finished triggers and the shared KV cache.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/TestPulse/internal/config"
	"github.com/Strob0t/TestPulse/internal/domain/taskgroup"
	"github.com/Strob0t/TestPulse/internal/port/messagequeue"
)

// Queue implements messagequeue.Queue using NATS.
type Queue struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
	log    *slog.Logger
}

// Connect establishes a connection to NATS and ensures the trigger stream
// exists. The connection is opened with NoEcho so events this instance
// publishes are never handed back to its own relay.
func Connect(ctx context.Context, cfg config.NATS, log *slog.Logger) (*Queue, error) {
	if log == nil {
		log = slog.Default()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("testpulse"),
		nats.NoEcho(),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.TriggerStream,
		Subjects: []string{messagequeue.SubjectRunFinished},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	log.Info("nats connected", "url", cfg.URL, "stream", cfg.TriggerStream)
	return &Queue{nc: nc, js: js, stream: cfg.TriggerStream, log: log}, nil
}

// JetStream exposes the JetStream context for KV buckets.
func (q *Queue) JetStream() jetstream.JetStream {
	return q.js
}

// Publish sends data to every subscriber of channel over core NATS.
func (q *Queue) Publish(_ context.Context, channel string, data []byte) error {
	if team, ok := messagequeue.TeamFromChannel(channel); ok {
		if err := taskgroup.ValidateTeamID(team); err != nil {
			return fmt.Errorf("nats publish %s: %w", channel, err)
		}
	}
	subject := toSubject(channel)
	if err := q.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for a channel or single-wildcard pattern.
// Handler errors are logged; core subscriptions have nothing to redeliver.
func (q *Queue) Subscribe(ctx context.Context, pattern string, handler messagequeue.Handler) (func(), error) {
	sub, err := q.nc.Subscribe(toSubject(pattern), func(msg *nats.Msg) {
		channel := fromSubject(msg.Subject)
		if err := handler(ctx, channel, msg.Data); err != nil {
			q.log.Error("message handler failed", "channel", channel, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", pattern, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// PublishRunFinished enqueues a matching trigger on the JetStream stream.
func (q *Queue) PublishRunFinished(ctx context.Context, runID string) error {
	data, err := json.Marshal(messagequeue.RunFinishedPayload{RunID: runID})
	if err != nil {
		return fmt.Errorf("marshal run finished: %w", err)
	}
	if _, err := q.js.Publish(ctx, messagequeue.SubjectRunFinished, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", messagequeue.SubjectRunFinished, err)
	}
	return nil
}

// ConsumeRunFinished attaches a durable consumer to the trigger stream and
// calls handle for each run ID. Every message is acknowledged, including
// malformed ones and ones whose handler fails: a failed pass is logged and
// never retried.
func (q *Queue) ConsumeRunFinished(ctx context.Context, durable string, handle func(ctx context.Context, runID string) error) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.stream, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: messagequeue.SubjectRunFinished,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		defer func() {
			if ackErr := msg.Ack(); ackErr != nil {
				q.log.Error("nats ack failed", "error", ackErr)
			}
		}()

		if err := messagequeue.Validate(msg.Subject(), msg.Data()); err != nil {
			q.log.Error("dropping malformed trigger", "subject", msg.Subject(), "error", err)
			return
		}
		var p messagequeue.RunFinishedPayload
		if err := json.Unmarshal(msg.Data(), &p); err != nil {
			q.log.Error("dropping malformed trigger", "subject", msg.Subject(), "error", err)
			return
		}
		if err := handle(ctx, p.RunID); err != nil {
			q.log.Error("run finished handler failed", "run_id", p.RunID, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}
	return cons.Stop, nil
}

// IsConnected reports whether the NATS connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}

// Close drains subscriptions and shuts down the NATS connection.
func (q *Queue) Close() error {
	if err := q.nc.Drain(); err != nil {
		q.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

// toSubject maps a broker channel ("team:42:events") to a NATS subject
// ("team.42.events"). The "*" wildcard carries over unchanged. The mapping
// only round-trips for team ids accepted by taskgroup.ValidateTeamID.
func toSubject(channel string) string {
	return strings.ReplaceAll(channel, ":", ".")
}

// fromSubject reverses toSubject for the event channels.
func fromSubject(subject string) string {
	return strings.ReplaceAll(subject, ".", ":")
}
