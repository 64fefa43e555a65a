package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"bounty-chain.backend/pkg/logger"
)

// Broadcast topics shared by every entity.
const (
	TopicScanCreated   = "scan:created"
	TopicScanCanceled  = "scan:canceled"
	TopicPaymentEvents = "payment:events"
)

// Progress and log streams are per entity: a subscriber priming off one
// scan's topic sees that scan's latest state, never a neighbour's.
func ScanProgressTopic(scanID string) string { return "scan:" + scanID + ":progress" }

func ScanLogsTopic(scanID string) string { return "scan:" + scanID + ":logs" }

func ValidationProgressTopic(validationID string) string {
	return "validation:" + validationID + ":progress"
}

func ValidationLogsTopic(validationID string) string {
	return "validation:" + validationID + ":logs"
}

func ProtocolRegistrationTopic(protocolID string) string {
	return "protocol:" + protocolID + ":registration"
}

// Levels carried in the data payload of the log streams.
const (
	LogLevelInfo     = "INFO"
	LogLevelAnalysis = "ANALYSIS"
	LogLevelAlert    = "ALERT"
	LogLevelWarn     = "WARN"
	LogLevelDefault  = "DEFAULT"
)

// Envelope is the wire format for every bus event. Exactly one of ScanID,
// ValidationID, ProtocolID is set depending on the topic.
type Envelope struct {
	EventType    string          `json:"eventType"`
	Timestamp    time.Time       `json:"timestamp"`
	ScanID       string          `json:"scanId,omitempty"`
	ValidationID string          `json:"validationId,omitempty"`
	ProtocolID   string          `json:"protocolId,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Bus is a redis pub/sub fan-out. The latest event per topic is cached under
// `<topic>:current-progress` so subscribers joining mid-pipeline see where
// things stand before live events arrive.
type Bus struct {
	client *goredis.Client
}

// NewBus creates a bus over the given redis client.
func NewBus(client *goredis.Client) *Bus {
	return &Bus{client: client}
}

func progressKey(topic string) string {
	return topic + ":current-progress"
}

// Publish sends the envelope to topic subscribers and refreshes the cached
// latest event. The cache write happens first so a subscriber priming off the
// cache can never observe a state older than what was just announced.
func (b *Bus) Publish(ctx context.Context, topic string, env Envelope) error {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal bus event: %w", err)
	}
	if err := b.client.Set(ctx, progressKey(topic), body, 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("cache bus event %s: %w", topic, err)
	}
	if err := b.client.Publish(ctx, topic, body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscription is a live feed on one topic.
type Subscription struct {
	Events <-chan Envelope
	pubsub *goredis.PubSub
	cancel context.CancelFunc
}

// Close stops the feed and releases the underlying pub/sub connection.
func (s *Subscription) Close() error {
	s.cancel()
	return s.pubsub.Close()
}

// Subscribe opens a feed on topic. The cached latest event, when present, is
// delivered first.
func (b *Bus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, topic)
	// force the SUBSCRIBE round-trip so no live event is missed after return
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	var primed *Envelope
	cached, err := b.client.Get(ctx, progressKey(topic)).Result()
	if err != nil && err != goredis.Nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("prime %s: %w", topic, err)
	}
	if err == nil {
		var env Envelope
		if decodeErr := json.Unmarshal([]byte(cached), &env); decodeErr == nil {
			primed = &env
		}
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan Envelope, 16)
	sub := &Subscription{Events: out, pubsub: pubsub, cancel: cancel}

	go func() {
		defer close(out)
		if primed != nil {
			select {
			case out <- *primed:
			case <-subCtx.Done():
				return
			}
		}
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					logger.Warn(subCtx, fmt.Sprintf("bus %s: drop malformed event: %v", topic, err))
					continue
				}
				select {
				case out <- env:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return sub, nil
}

// CurrentProgress returns the cached latest event for topic, or nil when none
// was published yet.
func (b *Bus) CurrentProgress(ctx context.Context, topic string) (*Envelope, error) {
	cached, err := b.client.Get(ctx, progressKey(topic)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal([]byte(cached), &env); err != nil {
		return nil, fmt.Errorf("decode cached event %s: %w", topic, err)
	}
	return &env, nil
}
