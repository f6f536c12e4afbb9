package capabilities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
	"github.com/Mindburn-Labs/scorevault/pkg/kms"
)

// ErrNotFound is returned by Storage.Get for absent keys.
var ErrNotFound = errors.New("capabilities: not found")

// Storage persists issued capabilities keyed by (address set, identity).
type Storage interface {
	Get(ctx context.Context, key contracts.CapabilityKey) (*contracts.Capability, error)
	Put(ctx context.Context, key contracts.CapabilityKey, c *contracts.Capability) error
}

// MemoryStorage keeps capabilities in a copy-on-write map.
type MemoryStorage struct {
	m atomic.Pointer[map[string]*contracts.Capability]
}

func NewMemoryStorage() *MemoryStorage {
	s := &MemoryStorage{}
	empty := map[string]*contracts.Capability{}
	s.m.Store(&empty)
	return s
}

func (s *MemoryStorage) Get(_ context.Context, key contracts.CapabilityKey) (*contracts.Capability, error) {
	c, ok := (*s.m.Load())[key.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStorage) Put(_ context.Context, key contracts.CapabilityKey, c *contracts.Capability) error {
	k := key.String()
	for {
		prev := s.m.Load()
		next := make(map[string]*contracts.Capability, len(*prev)+1)
		for kk, v := range *prev {
			next[kk] = v
		}
		next[k] = c
		if s.m.CompareAndSwap(prev, &next) {
			return nil
		}
	}
}

// Len returns the number of stored capabilities.
func (s *MemoryStorage) Len() int {
	return len(*s.m.Load())
}

// storedCapability is the serialized form used by the remote backends. The
// holder private key is sealed when a kms.Manager is configured.
type storedCapability struct {
	PublicKey        hexutil.Bytes    `json:"public_key"`
	PrivateKey       hexutil.Bytes    `json:"private_key,omitempty"`
	SealedPrivateKey string           `json:"sealed_private_key,omitempty"`
	Signature        string           `json:"signature"`
	Addresses        []common.Address `json:"contract_addresses"`
	Identity         common.Address   `json:"user_address"`
	StartTimestamp   int64            `json:"start_timestamp"`
	DurationDays     int              `json:"duration_days"`
}

type codec struct {
	sealer kms.Manager
}

func (c codec) encode(key contracts.CapabilityKey, capability *contracts.Capability) ([]byte, error) {
	sc := storedCapability{
		PublicKey:      capability.HolderPublicKey,
		Signature:      capability.Signature,
		Addresses:      capability.Addresses,
		Identity:       capability.Identity,
		StartTimestamp: capability.StartTimestamp,
		DurationDays:   capability.DurationDays,
	}
	if c.sealer != nil {
		sealed, err := c.sealer.Seal(capability.HolderPrivateKey, []byte(key.String()))
		if err != nil {
			return nil, fmt.Errorf("seal holder key: %w", err)
		}
		sc.SealedPrivateKey = sealed
	} else {
		sc.PrivateKey = capability.HolderPrivateKey
	}
	return json.Marshal(sc)
}

func (c codec) decode(key contracts.CapabilityKey, data []byte) (*contracts.Capability, error) {
	var sc storedCapability
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("decode capability: %w", err)
	}
	priv := []byte(sc.PrivateKey)
	if sc.SealedPrivateKey != "" {
		if c.sealer == nil {
			return nil, errors.New("capabilities: sealed holder key but no kms configured")
		}
		var err error
		priv, err = c.sealer.Open(sc.SealedPrivateKey, []byte(key.String()))
		if err != nil {
			return nil, fmt.Errorf("open holder key: %w", err)
		}
	}
	return &contracts.Capability{
		HolderPublicKey:  sc.PublicKey,
		HolderPrivateKey: priv,
		Signature:        sc.Signature,
		Addresses:        sc.Addresses,
		Identity:         sc.Identity,
		StartTimestamp:   sc.StartTimestamp,
		DurationDays:     sc.DurationDays,
	}, nil
}
