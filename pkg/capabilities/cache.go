// Package capabilities issues and caches time-boxed decryption capabilities.
//
// A capability is scoped to one identity and one set of ledger addresses.
// Acquire serves a still-valid cached capability without any round trip and
// otherwise asks the identity owner to sign exactly once, sharing that one
// request among concurrent callers for the same key.
package capabilities

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
	"github.com/Mindburn-Labs/scorevault/pkg/crypto"
)

// ErrUnavailable means no capability can be produced right now: the identity
// is missing or the owner rejected the signing request. Callers report and
// stop; they do not retry automatically.
var ErrUnavailable = errors.New("capabilities: unavailable")

// Signer performs the signing round trip with the identity owner.
type Signer interface {
	SignAuthorization(ctx context.Context, identity common.Address, payload []byte) (string, error)
}

// Cache issues capabilities and keeps them in a Storage.
type Cache struct {
	storage      Storage
	signer       Signer
	group        singleflight.Group
	clock        func() time.Time
	durationDays int
	logger       *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(c *Cache) { c.clock = clock }
}

// WithDurationDays sets the validity of newly issued capabilities.
func WithDurationDays(days int) Option {
	return func(c *Cache) {
		if days > 0 {
			c.durationDays = days
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

func New(storage Storage, signer Signer, opts ...Option) *Cache {
	c := &Cache{
		storage:      storage,
		signer:       signer,
		clock:        time.Now,
		durationDays: contracts.DefaultCapabilityDays,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AcquireOption adjusts a single Acquire call.
type AcquireOption func(*acquire)

type acquire struct {
	stale func() bool
}

// UnlessStale keeps a freshly signed capability out of storage when stale
// reports true once signing returns. The capability is still returned.
func UnlessStale(stale func() bool) AcquireOption {
	return func(a *acquire) { a.stale = stale }
}

// Acquire returns a valid capability for addresses and identity.
func (c *Cache) Acquire(ctx context.Context, addresses []common.Address, identity common.Address, opts ...AcquireOption) (*contracts.Capability, error) {
	var a acquire
	for _, opt := range opts {
		opt(&a)
	}
	if identity == (common.Address{}) {
		return nil, fmt.Errorf("%w: no active identity", ErrUnavailable)
	}
	if len(addresses) == 0 {
		return nil, errors.New("capabilities: empty address set")
	}
	key := contracts.NewCapabilityKey(addresses, identity)

	if cached := c.lookup(ctx, key); cached != nil {
		return cached, nil
	}

	v, err, shared := c.group.Do(key.String(), func() (any, error) {
		// a flight that finished just before this one may have stored it
		if cached := c.lookup(ctx, key); cached != nil {
			return cached, nil
		}
		return c.issue(ctx, key, a.stale)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.DebugContext(ctx, "capability request shared", "key", key.String())
	}
	return v.(*contracts.Capability), nil
}

func (c *Cache) lookup(ctx context.Context, key contracts.CapabilityKey) *contracts.Capability {
	cached, err := c.storage.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.WarnContext(ctx, "capability storage read failed", "key", key.String(), "error", err)
		}
		return nil
	}
	if !cached.IsValid(c.clock()) {
		return nil
	}
	return cached
}

func (c *Cache) issue(ctx context.Context, key contracts.CapabilityKey, stale func() bool) (*contracts.Capability, error) {
	pub, priv, err := crypto.GenerateHolderKey()
	if err != nil {
		return nil, err
	}
	capability := &contracts.Capability{
		HolderPublicKey:  pub,
		HolderPrivateKey: priv,
		Addresses:        key.Addresses,
		Identity:         key.Identity,
		StartTimestamp:   c.clock().Unix(),
		DurationDays:     c.durationDays,
	}
	payload, err := AuthorizationFor(capability).Payload()
	if err != nil {
		return nil, err
	}

	sig, err := c.signer.SignAuthorization(ctx, key.Identity, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	capability.Signature = sig

	if stale != nil && stale() {
		c.logger.DebugContext(ctx, "capability not stored, context changed during signing", "key", key.String())
		return capability, nil
	}
	if err := c.storage.Put(ctx, key, capability); err != nil {
		// the capability is still usable for this call
		c.logger.WarnContext(ctx, "capability storage write failed", "key", key.String(), "error", err)
	}
	c.logger.InfoContext(ctx, "capability issued",
		"identity", key.Identity.Hex(),
		"addresses", len(key.Addresses),
		"valid_until", capability.ValidUntil().UTC().Format(time.RFC3339),
	)
	return capability, nil
}
