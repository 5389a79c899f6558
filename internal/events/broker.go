package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// BrokerPublisher forwards events to Redis pub/sub and NATS so other services
// can follow workshop activity. Either transport may be nil.
type BrokerPublisher struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
}

// NewBrokerPublisher derives the Redis channel "<base>:events" and the NATS
// subject "<base>.events" from channelBase.
func NewBrokerPublisher(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) *BrokerPublisher {
	publisher := &BrokerPublisher{
		redis:  redisClient,
		nats:   natsConn,
		logger: logger.With().Str("component", "event_broker").Logger(),
	}
	if channelBase != "" {
		publisher.redisChannel = channelBase + ":events"
		publisher.natsSubject = strings.ReplaceAll(channelBase, ":", ".") + ".events"
	}
	return publisher
}

// RedisChannel reports the pub/sub channel events are published on.
func (p *BrokerPublisher) RedisChannel() string { return p.redisChannel }

// NATSSubject reports the subject events are published on.
func (p *BrokerPublisher) NATSSubject() string { return p.natsSubject }

func (p *BrokerPublisher) Emit(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var errs []error
	if p.redis != nil && p.redisChannel != "" {
		if err := p.redis.Publish(ctx, p.redisChannel, payload).Err(); err != nil {
			p.logger.Warn().Err(err).Str("event", event.Name).Msg("failed to publish event to redis")
			errs = append(errs, err)
		}
	}

	if p.nats != nil && p.natsSubject != "" {
		if err := p.nats.Publish(p.natsSubject, payload); err != nil {
			p.logger.Warn().Err(err).Str("event", event.Name).Msg("failed to publish event to nats")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Forward returns a handler that republishes every event it receives.
func (p *BrokerPublisher) Forward() Handler {
	return p.Emit
}
