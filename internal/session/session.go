// Package session keeps per-chat conversation state in Redis.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"remnashop-bot/internal/pricing"
)

const DefaultTTL = 24 * time.Hour

// State is what the bot remembers between updates of one chat.
type State struct {
	Selection   pricing.Selection `json:"selection"`
	LastOrderID string            `json:"last_order_id,omitempty"`
}

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func key(chatID int64) string {
	return fmt.Sprintf("session:%d", chatID)
}

// Get returns the chat's state, or a fresh one with the default selection.
func (s *Store) Get(ctx context.Context, chatID int64) (State, error) {
	raw, err := s.rdb.Get(ctx, key(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{Selection: pricing.DefaultSelection()}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to load session %d: %w", chatID, err)
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{Selection: pricing.DefaultSelection()}, nil
	}
	return st, nil
}

func (s *Store) Save(ctx context.Context, chatID int64, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.rdb.Set(ctx, key(chatID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session %d: %w", chatID, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, chatID int64) error {
	return s.rdb.Del(ctx, key(chatID)).Err()
}
