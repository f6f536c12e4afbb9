package identity

import (
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
)

// Session is a switchable Source, standing in for a connected wallet whose
// account or chain can change at any time. The zero value is a session on
// network 0 with no identity.
type Session struct {
	cur atomic.Pointer[contracts.Epoch]
}

// NewSession starts a session on network with the given identity. A zero
// identity means "not connected".
func NewSession(network contracts.NetworkID, id common.Address) *Session {
	s := &Session{}
	s.cur.Store(&contracts.Epoch{Network: network, Identity: id})
	return s
}

// Current implements Source.
func (s *Session) Current() contracts.Epoch {
	if e := s.cur.Load(); e != nil {
		return *e
	}
	return contracts.Epoch{}
}

// Switch replaces both network and identity.
func (s *Session) Switch(network contracts.NetworkID, id common.Address) {
	s.cur.Store(&contracts.Epoch{Network: network, Identity: id})
}

// SwitchIdentity changes the active identity on the current network.
func (s *Session) SwitchIdentity(id common.Address) {
	s.Switch(s.Current().Network, id)
}

// SwitchNetwork changes the active network, keeping the identity.
func (s *Session) SwitchNetwork(network contracts.NetworkID) {
	s.Switch(network, s.Current().Identity)
}
