package live

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"campuscart/chat-service/internal/apperr"
	"campuscart/chat-service/internal/metrics"
	"campuscart/chat-service/internal/models"
)

// Publisher hands a live event to the delivery layer. Delivery is best
// effort: an error means the event is lost, never that the send failed.
type Publisher interface {
	Publish(ctx context.Context, ev models.LiveEvent) error
}

// Broker is a Publisher that also consumes events on behalf of the sessions
// connected to this instance. Run blocks until ctx is done.
type Broker interface {
	Publisher
	Run(ctx context.Context) error
}

// Supervise runs the broker until ctx is done, restarting it with
// exponential backoff whenever its subscription ends early.
func Supervise(ctx context.Context, b Broker, minBackoff, maxBackoff time.Duration, logger *logrus.Logger) {
	backoff := minBackoff
	for {
		started := time.Now()
		err := b.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > maxBackoff {
			backoff = minBackoff
		}
		logger.WithError(err).WithField("retry_in", backoff.String()).Error("Live broker stopped, restarting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// LocalBroker delivers straight to the registry of this process.
type LocalBroker struct {
	registry *Registry
}

func NewLocalBroker(registry *Registry) *LocalBroker {
	return &LocalBroker{registry: registry}
}

func (b *LocalBroker) Publish(ctx context.Context, ev models.LiveEvent) error {
	fanOut(b.registry, ev)
	metrics.LiveEventsPublishedTotal.WithLabelValues("ok").Inc()
	return nil
}

func (b *LocalBroker) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// RedisBroker shares one Pub/Sub channel between all instances; every
// instance delivers the events it receives to its own sessions.
type RedisBroker struct {
	client   redis.UniversalClient
	channel  string
	registry *Registry
	logger   *logrus.Logger
}

func NewRedisBroker(client redis.UniversalClient, channel string, registry *Registry, logger *logrus.Logger) *RedisBroker {
	return &RedisBroker{client: client, channel: channel, registry: registry, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, ev models.LiveEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return apperr.Channel("encode live event", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		metrics.LiveEventsPublishedTotal.WithLabelValues("error").Inc()
		return apperr.Channel("publish live event", errors.Wrap(err, "redis publish"))
	}
	metrics.LiveEventsPublishedTotal.WithLabelValues("ok").Inc()
	return nil
}

func (b *RedisBroker) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return apperr.Channel("subscribe live channel", errors.Wrap(err, "redis subscribe"))
	}
	b.logger.WithField("channel", b.channel).Info("Subscribed to live channel")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return apperr.Channel("live channel closed", nil)
			}
			b.handle([]byte(msg.Payload))
		}
	}
}

func (b *RedisBroker) handle(payload []byte) {
	var ev models.LiveEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		b.logger.WithError(err).Warn("Dropping malformed live event")
		return
	}
	fanOut(b.registry, ev)
}

// NATSBroker is the same fan-out over a NATS subject.
type NATSBroker struct {
	nc       *nats.Conn
	subject  string
	registry *Registry
	logger   *logrus.Logger
}

func NewNATSBroker(nc *nats.Conn, subject string, registry *Registry, logger *logrus.Logger) *NATSBroker {
	return &NATSBroker{nc: nc, subject: subject, registry: registry, logger: logger}
}

func (b *NATSBroker) Publish(ctx context.Context, ev models.LiveEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return apperr.Channel("encode live event", err)
	}
	if err := b.nc.Publish(b.subject, payload); err != nil {
		metrics.LiveEventsPublishedTotal.WithLabelValues("error").Inc()
		return apperr.Channel("publish live event", errors.Wrap(err, "nats publish"))
	}
	metrics.LiveEventsPublishedTotal.WithLabelValues("ok").Inc()
	return nil
}

func (b *NATSBroker) Run(ctx context.Context) error {
	sub, err := b.nc.Subscribe(b.subject, func(msg *nats.Msg) {
		var ev models.LiveEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.logger.WithError(err).Warn("Dropping malformed live event")
			return
		}
		fanOut(b.registry, ev)
	})
	if err != nil {
		return apperr.Channel("subscribe live channel", errors.Wrap(err, "nats subscribe"))
	}
	b.logger.WithField("subject", b.subject).Info("Subscribed to live channel")

	<-ctx.Done()
	return sub.Unsubscribe()
}
