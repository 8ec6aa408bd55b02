// Package coord implements the Coordination Store (C3): Redis-backed TTL
// leases for leader election and per-resource exclusive access, plus
// pub/sub fan-out mirrored onto the internal event bus and websocket
// clients.
package coord

import (
	"context"
	"time"

	"github.com/cuemby/ciorch/pkg/types"
)

// Store is the full Coordination Store interface.
type Store interface {
	// AcquireLease attempts to take or renew an exclusive, TTL-bounded
	// hold on key. holderID must match the current holder to renew; an
	// expired or absent lease is granted to any holderID. Returns the
	// resulting lease and whether the caller now holds it.
	AcquireLease(ctx context.Context, key, holderID string, ttl time.Duration) (*types.Lease, bool, error)

	// RenewLease extends an already-held lease; fails if holderID no
	// longer holds it (lost to TTL expiry and reacquisition elsewhere).
	RenewLease(ctx context.Context, key, holderID string, ttl time.Duration) (*types.Lease, error)

	// ReleaseLease voluntarily drops a held lease (e.g. on graceful
	// shutdown) so a standby can take over without waiting out the TTL.
	ReleaseLease(ctx context.Context, key, holderID string) error

	// GetLease reads the current lease state without attempting to
	// acquire it.
	GetLease(ctx context.Context, key string) (*types.Lease, error)

	// Publish broadcasts a message on a named channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a channel of message payloads for a named
	// channel; the caller must drain it until ctx is done.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)

	Ping(ctx context.Context) error
	Close() error
}
