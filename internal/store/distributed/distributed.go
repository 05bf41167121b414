// Package distributed lets several context-lensd instances behind a
// load balancer share one logical revision counter and change stream, so
// a dashboard polling any instance sees the same "what changed since
// revision N" answer regardless of which instance served it. A single
// instance never needs this; it's opt-in for the horizontally-scaled
// deployment.
package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/context-lens/sidecar/internal/store"
)

const (
	revisionKey = "context-lens:revision"
	channelName = "context-lens:changes"
)

// Backend publishes local store changes to Redis and republishes changes
// other instances publish there. A nil *Backend is valid and a no-op, so
// callers can construct one unconditionally and only skip it when the
// feature is disabled.
type Backend struct {
	client redis.UniversalClient
}

// New connects to Redis at addr and verifies reachability with a Ping.
// Returns an error if the server can't be reached.
func New(addr, password string, db int) (*Backend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("distributed: ping %s: %w", addr, err)
	}

	return &Backend{client: client}, nil
}

// Close releases the underlying Redis connection.
func (b *Backend) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

// Bump advances the shared revision counter by one and returns its new
// value, so every instance observing the same Redis server agrees on a
// single monotonic sequence even though each has its own local counter.
func (b *Backend) Bump(ctx context.Context) (uint64, error) {
	if b == nil || b.client == nil {
		return 0, nil
	}
	n, err := b.client.Incr(ctx, revisionKey).Result()
	if err != nil {
		return 0, fmt.Errorf("distributed: incr revision: %w", err)
	}
	return uint64(n), nil
}

// SharedRevision reads the current shared revision counter without
// advancing it.
func (b *Backend) SharedRevision(ctx context.Context) (uint64, error) {
	if b == nil || b.client == nil {
		return 0, nil
	}
	n, err := b.client.Get(ctx, revisionKey).Uint64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("distributed: get revision: %w", err)
	}
	return n, nil
}

// Publish bumps the shared revision and broadcasts evt (with its
// Revision field replaced by the new shared value) to every subscriber.
func (b *Backend) Publish(ctx context.Context, evt store.ChangeEvent) error {
	if b == nil || b.client == nil {
		return nil
	}
	rev, err := b.Bump(ctx)
	if err != nil {
		return err
	}
	evt.Revision = rev

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("distributed: marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, channelName, data).Err(); err != nil {
		return fmt.Errorf("distributed: publish: %w", err)
	}
	return nil
}

// Subscribe relays every change event published by any instance (this
// one included) onto the returned channel until ctx is canceled; the
// caller must drain it. Malformed payloads are dropped.
func (b *Backend) Subscribe(ctx context.Context) <-chan store.ChangeEvent {
	out := make(chan store.ChangeEvent)
	if b == nil || b.client == nil {
		close(out)
		return out
	}

	sub := b.client.Subscribe(ctx, channelName)
	msgs := sub.Channel()

	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt store.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// Relay subscribes to the local store's change events and republishes
// each one to Redis until ctx is canceled. Runs in its own goroutine;
// callers should `go distributed.Relay(...)`.
func Relay(ctx context.Context, b *Backend, st *store.Store) {
	if b == nil {
		<-ctx.Done()
		return
	}

	id, ch := st.On(32)
	defer st.Off(id)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			_ = b.Publish(ctx, evt)
		}
	}
}
