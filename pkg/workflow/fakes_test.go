package workflow

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/scorevault/pkg/capabilities"
	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
	"github.com/Mindburn-Labs/scorevault/pkg/crypto"
	"github.com/Mindburn-Labs/scorevault/pkg/fhe"
	"github.com/Mindburn-Labs/scorevault/pkg/identity"
	"github.com/Mindburn-Labs/scorevault/pkg/ledger"
)

const testNetwork contracts.NetworkID = 31337

var ledgerAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// calls counts round trips per method and runs an optional hook at the start
// of each one. Hooks are how tests switch identity or block mid-flight.
type calls struct {
	mu     sync.Mutex
	counts map[string]int
	hooks  map[string]func()
	errs   map[string]error
}

func newCalls() calls {
	return calls{counts: map[string]int{}, hooks: map[string]func(){}, errs: map[string]error{}}
}

func (c *calls) enter(name string) error {
	c.mu.Lock()
	c.counts[name]++
	hook := c.hooks[name]
	err := c.errs[name]
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (c *calls) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

func (c *calls) hook(name string, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks[name] = fn
}

func (c *calls) fail(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[name] = err
}

type fakeRecord struct {
	owner common.Address
	label string
	value contracts.Handle
	flag  contracts.Handle
}

// fakeLedger is a scriptable in-memory ledger.
type fakeLedger struct {
	calls

	mu      sync.Mutex
	records map[contracts.RecordID]fakeRecord
	nextID  contracts.RecordID
	status  ledger.Status
	// round tags labels with the OwnedRecordIDs call that listed them
	tagRounds bool
	round     int
	// broken records fail their label lookup
	broken map[contracts.RecordID]bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		calls:   newCalls(),
		records: map[contracts.RecordID]fakeRecord{},
		nextID:  1,
		status:  ledger.StatusSuccessful,
	}
}

func (l *fakeLedger) put(id contracts.RecordID, r fakeRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[id] = r
	if id >= l.nextID {
		l.nextID = id + 1
	}
}

func (l *fakeLedger) Address() common.Address { return ledgerAddr }

func (l *fakeLedger) OwnedRecordIDs(_ context.Context, owner common.Address) ([]contracts.RecordID, error) {
	if err := l.enter("OwnedRecordIDs"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.round++
	var ids []contracts.RecordID
	for id, r := range l.records {
		if r.owner == owner {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (l *fakeLedger) RecordLabel(_ context.Context, id contracts.RecordID) (string, error) {
	if err := l.enter("RecordLabel"); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[id]
	if !ok || l.broken[id] {
		return "", fmt.Errorf("%w: %d", ledger.ErrNotFound, id)
	}
	if l.tagRounds {
		return fmt.Sprintf("%s#%d", r.label, l.round), nil
	}
	return r.label, nil
}

func (l *fakeLedger) EncryptedValueHandle(_ context.Context, id contracts.RecordID) (contracts.Handle, error) {
	if err := l.enter("EncryptedValueHandle"); err != nil {
		return contracts.Handle{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records[id].value, nil
}

func (l *fakeLedger) EncryptedFlagHandle(_ context.Context, id contracts.RecordID) (contracts.Handle, error) {
	if err := l.enter("EncryptedFlagHandle"); err != nil {
		return contracts.Handle{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records[id].flag, nil
}

func (l *fakeLedger) RecordCount(context.Context) (uint64, error) {
	if err := l.enter("RecordCount"); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.records)), nil
}

func (l *fakeLedger) SubmitEncryptedValue(_ context.Context, owner common.Address, handle contracts.Handle, _ []byte, label, _ string) (ledger.TxRef, error) {
	if err := l.enter("SubmitEncryptedValue"); err != nil {
		return ledger.TxRef{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	if l.status == ledger.StatusSuccessful {
		l.records[id] = fakeRecord{
			owner: owner,
			label: label,
			value: handle,
			flag:  contracts.Handle(gethcrypto.Keccak256Hash(handle.Bytes(), []byte("flag"))),
		}
	}
	return ledger.TxRef{Hash: common.BigToHash(new(big.Int).SetUint64(uint64(id)))}, nil
}

func (l *fakeLedger) AwaitConfirmation(_ context.Context, tx ledger.TxRef) (ledger.Receipt, error) {
	if err := l.enter("AwaitConfirmation"); err != nil {
		return ledger.Receipt{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return ledger.Receipt{TxRef: tx, Status: l.status, BlockNumber: 1}, nil
}

// fakeFHE encrypts into a table and decrypts out of it.
type fakeFHE struct {
	calls

	mu     sync.Mutex
	plains map[contracts.Handle]uint64
	seq    atomic.Uint64
}

func newFakeFHE() *fakeFHE {
	return &fakeFHE{calls: newCalls(), plains: map[contracts.Handle]uint64{}}
}

func (f *fakeFHE) set(h contracts.Handle, v uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plains[h] = v
}

func (f *fakeFHE) Encrypt(_ context.Context, target, owner common.Address, value uint64) (fhe.EncryptedInput, error) {
	if err := f.enter("Encrypt"); err != nil {
		return fhe.EncryptedInput{}, err
	}
	n := f.seq.Add(1)
	h := contracts.Handle(gethcrypto.Keccak256Hash(target.Bytes(), owner.Bytes(), []byte(fmt.Sprint(n))))
	f.set(h, value)
	return fhe.EncryptedInput{Handle: h, Proof: []byte{0x01}}, nil
}

func (f *fakeFHE) Decrypt(_ context.Context, refs []fhe.HandleRef, capability *contracts.Capability) (map[contracts.Handle]uint64, error) {
	if err := f.enter("Decrypt"); err != nil {
		return nil, err
	}
	if capability == nil {
		return nil, capabilities.ErrUnavailable
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[contracts.Handle]uint64{}
	for _, ref := range refs {
		if v, ok := f.plains[ref.Handle]; ok {
			out[ref.Handle] = v
		}
	}
	return out, nil
}

// countingSigner counts signing round trips. after runs once a signature
// has been produced.
type countingSigner struct {
	wallet *crypto.Wallet
	calls  atomic.Int32
	after  func()
}

func (s *countingSigner) SignAuthorization(ctx context.Context, id common.Address, payload []byte) (string, error) {
	s.calls.Add(1)
	sig, err := s.wallet.SignAuthorization(ctx, id, payload)
	if s.after != nil {
		s.after()
	}
	return sig, err
}

type harness struct {
	session *identity.Session
	ledger  *fakeLedger
	fhe     *fakeFHE
	wallet  *crypto.Wallet
	signer  *countingSigner
	caps    *capabilities.MemoryStorage
	log     *MessageLog
	ctrl    *Controller
	alice   common.Address
	bob     common.Address
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	alice, err := crypto.NewSecpSigner()
	require.NoError(t, err)
	bob, err := crypto.NewSecpSigner()
	require.NoError(t, err)

	h := &harness{
		session: identity.NewSession(testNetwork, alice.Address()),
		ledger:  newFakeLedger(),
		fhe:     newFakeFHE(),
		wallet:  crypto.NewWallet(alice, bob),
		log:     NewMessageLog(0),
		alice:   alice.Address(),
		bob:     bob.Address(),
	}
	h.signer = &countingSigner{wallet: h.wallet}
	h.caps = capabilities.NewMemoryStorage()
	caps := capabilities.New(h.caps, h.signer)
	resolver := StaticResolver{testNetwork: {Ledger: h.ledger, Encryptor: h.fhe, Decryptor: h.fhe}}
	h.ctrl = New(resolver, caps, identity.NewTracker(h.session), append([]Option{WithReporter(h.log)}, opts...)...)
	return h
}

func (h *harness) errorMessages() []Message {
	var out []Message
	for _, m := range h.log.Entries() {
		if m.Level == LevelError {
			out = append(out, m)
		}
	}
	return out
}
