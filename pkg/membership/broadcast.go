package membership

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/meridianerp/entitlements/pkg/observability"
	"github.com/meridianerp/entitlements/pkg/tenant"
)

// DefaultInvalidationChannel is the Redis pub/sub channel invalidations travel
// on when none is configured.
const DefaultInvalidationChannel = "entitlements:invalidations"

// Broadcaster fans cache invalidations out across process instances over
// Redis pub/sub. A write-path instance publishes the tenant id after a
// reconciliation batch; every subscribed instance expires its local cache for
// that tenant. The message carries no data beyond the tenant id, so a lost
// message degrades to waiting out the TTL.
type Broadcaster struct {
	client  *redis.Client
	channel string
	caches  *TenantCaches
	log     *observability.Logger
	done    chan struct{}
}

// NewBroadcaster creates an invalidation bus on an existing Redis client.
func NewBroadcaster(client *redis.Client, channel string, caches *TenantCaches, log *observability.Logger) *Broadcaster {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	if log == nil {
		log = observability.NopLogger()
	}
	return &Broadcaster{
		client:  client,
		channel: channel,
		caches:  caches,
		log:     log,
		done:    make(chan struct{}),
	}
}

// Publish announces that a tenant's membership or assignment data changed.
// The local cache is expired immediately; remote instances learn via pub/sub.
func (b *Broadcaster) Publish(ctx context.Context, id tenant.ID) error {
	b.caches.Invalidate(id, "local")
	if err := b.client.Publish(ctx, b.channel, string(id)).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation for tenant %s: %w", id, err)
	}
	return nil
}

// Run subscribes to the invalidation channel and expires local caches until
// the context is cancelled. It blocks; run it in its own goroutine.
func (b *Broadcaster) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	defer close(b.done)

	// Force the subscription to be established before we report running.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	b.log.WithField("channel", b.channel).Info("invalidation listener started")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			id := tenant.ID(msg.Payload)
			b.caches.Invalidate(id, "cluster")
			b.log.WithTenant(msg.Payload).Debug("received remote invalidation")
		}
	}
}

// Done is closed when Run has returned.
func (b *Broadcaster) Done() <-chan struct{} { return b.done }
