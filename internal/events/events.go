// Package events publishes progress changes to interested listeners.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"wabisabi/internal/logger"
)

const (
	TypeAttemptRecorded  = "attempt_recorded"
	TypeSessionCompleted = "session_completed"
)

// ProgressEvent is emitted after an aggregate was saved
type ProgressEvent struct {
	Type         string    `json:"type"`
	UserID       string    `json:"userId"`
	DeckID       string    `json:"deckId"`
	Version      int64     `json:"version"`
	SectionIndex *int      `json:"sectionIndex,omitempty"`
	ItemIndex    *int      `json:"itemIndex,omitempty"`
	MasteryLevel string    `json:"masteryLevel,omitempty"`
	StudyStreak  int       `json:"studyStreak"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// Publisher delivers progress events
type Publisher interface {
	Publish(ctx context.Context, evt ProgressEvent) error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ProgressEvent) error { return nil }

// RedisPublisher publishes events as JSON on a Redis pub/sub channel
type RedisPublisher struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewRedisPublisher connects to addr and verifies the connection with a ping
func NewRedisPublisher(log *logger.Logger, addr, channel string) (*RedisPublisher, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if channel == "" {
		channel = "progress-events"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisPublisher{
		log:     log.With("component", "RedisPublisher"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, evt ProgressEvent) error {
	if p == nil || p.rdb == nil {
		return fmt.Errorf("redis publisher not initialized")
	}
	raw, err := Encode(evt)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", evt.Type, err)
	}
	p.log.Debug("progress event published", "type", evt.Type, "user", evt.UserID, "deck", evt.DeckID)
	return nil
}

func (p *RedisPublisher) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}

// Encode serializes an event in the wire format used on the channel
func Encode(evt ProgressEvent) ([]byte, error) {
	raw, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return raw, nil
}
