package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the key-value bucket sessions are stored in.
const DefaultBucket = "coachd_sessions"

// KVStore persists sessions as JSON in a NATS JetStream key-value bucket.
type KVStore struct {
	kv jetstream.KeyValue
}

// KVConfig configures the bucket.
type KVConfig struct {
	Bucket string
	// TTL expires untouched sessions. Zero keeps them forever.
	TTL      time.Duration
	Replicas int
}

// NewKVStore opens the bucket, creating it when missing.
func NewKVStore(ctx context.Context, nc *nats.Conn, cfg KVConfig) (*KVStore, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = 1
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "coachd interview sessions",
		History:     1,
		TTL:         cfg.TTL,
		Replicas:    cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", cfg.Bucket, err)
	}
	return &KVStore{kv: kv}, nil
}

// Get implements Store. Ids that are not valid bucket keys cannot have been
// stored and report ErrNotFound.
func (k *KVStore) Get(ctx context.Context, id string) (*Session, error) {
	entry, err := k.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrInvalidKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	var s Session
	if err := json.Unmarshal(entry.Value(), &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

// Put implements Store.
func (k *KVStore) Put(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return errors.New("session id is required")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	if _, err := k.kv.Put(ctx, s.ID, data); err != nil {
		return fmt.Errorf("put session %s: %w", s.ID, err)
	}
	return nil
}

// Delete removes a session.
func (k *KVStore) Delete(ctx context.Context, id string) error {
	if err := k.kv.Delete(ctx, id); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}
