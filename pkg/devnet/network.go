// Package devnet is a local, single-process stand-in for a ledger with an
// encryption coprocessor. It implements the ledger client and both FHE
// providers so the workflows can run end to end without a chain.
//
// Plaintexts are sealed at rest through kms. Decryption enforces the same
// rules as a real deployment: the capability must be signed by its identity,
// be inside its validity window, cover the ledger address, and the identity
// must own the ciphertext.
package devnet

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/Mindburn-Labs/scorevault/pkg/capabilities"
	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
	"github.com/Mindburn-Labs/scorevault/pkg/crypto"
	"github.com/Mindburn-Labs/scorevault/pkg/fhe"
	"github.com/Mindburn-Labs/scorevault/pkg/kms"
	"github.com/Mindburn-Labs/scorevault/pkg/ledger"
)

const (
	// ChainID is the conventional id of a local development chain.
	ChainID contracts.NetworkID = 31337

	// DefaultPassThreshold is the lowest value whose flag decrypts to true.
	DefaultPassThreshold = 60

	// MaxValue is the largest plaintext the coprocessor accepts (euint32).
	MaxValue = 1<<32 - 1
)

var (
	ErrWrongContract = errors.New("devnet: input bound to another contract")
	ErrACL           = errors.New("devnet: identity not allowed to decrypt handle")
	ErrUnknownHandle = errors.New("devnet: unknown handle")
	ErrUnknownTx     = errors.New("devnet: unknown transaction")
)

// DefaultAddress is the address the local ledger reports.
var DefaultAddress = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// Network is one local ledger plus coprocessor.
type Network struct {
	db            *sql.DB
	vault         kms.Manager
	coprocessor   *crypto.SecpSigner
	address       common.Address
	chainID       contracts.NetworkID
	passThreshold uint64
	blockTime     time.Duration
	clock         func() time.Time
	logger        *slog.Logger
}

// Option configures a Network.
type Option func(*Network)

func WithAddress(a common.Address) Option { return func(n *Network) { n.address = a } }

func WithChainID(id contracts.NetworkID) Option { return func(n *Network) { n.chainID = id } }

func WithPassThreshold(v uint64) Option { return func(n *Network) { n.passThreshold = v } }

// WithBlockTime delays confirmations by d.
func WithBlockTime(d time.Duration) Option { return func(n *Network) { n.blockTime = d } }

func WithClock(clock func() time.Time) Option { return func(n *Network) { n.clock = clock } }

func WithLogger(l *slog.Logger) Option { return func(n *Network) { n.logger = l } }

// WithCoprocessorKey fixes the key that signs input proofs. A fresh key is
// generated otherwise, which invalidates pending inputs across restarts.
func WithCoprocessorKey(s *crypto.SecpSigner) Option {
	return func(n *Network) { n.coprocessor = s }
}

// New opens a network over db. vault seals plaintexts at rest.
func New(db *sql.DB, vault kms.Manager, opts ...Option) (*Network, error) {
	n := &Network{
		db:            db,
		vault:         vault,
		address:       DefaultAddress,
		chainID:       ChainID,
		passThreshold: DefaultPassThreshold,
		clock:         time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.coprocessor == nil {
		s, err := crypto.NewSecpSigner()
		if err != nil {
			return nil, err
		}
		n.coprocessor = s
	}
	n.logger = n.logger.With("component", "devnet", "chain_id", n.chainID.String())
	return n, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS records (
		id BIGINT PRIMARY KEY,
		owner TEXT NOT NULL,
		label TEXT NOT NULL,
		content_ref TEXT NOT NULL,
		value_handle TEXT NOT NULL,
		flag_handle TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS records_owner ON records (owner)`,
	`CREATE TABLE IF NOT EXISTS ciphertexts (
		handle TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		sealed TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS inputs (
		handle TEXT PRIMARY KEY,
		identity TEXT NOT NULL,
		sealed TEXT NOT NULL,
		used INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		hash TEXT PRIMARY KEY,
		status INTEGER NOT NULL,
		block_number BIGINT NOT NULL,
		record_id BIGINT,
		created_at BIGINT NOT NULL
	)`,
}

// Init creates the tables.
func (n *Network) Init(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := n.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("devnet: init schema: %w", err)
		}
	}
	return nil
}

// Address implements ledger.Client.
func (n *Network) Address() common.Address { return n.address }

// ChainID returns the network id.
func (n *Network) ChainID() contracts.NetworkID { return n.chainID }

// Coprocessor returns the address that signs input proofs.
func (n *Network) Coprocessor() common.Address { return n.coprocessor.Address() }

func hexAddr(a common.Address) string { return a.Hex() }

// --- ledger.Reader ---

func (n *Network) OwnedRecordIDs(ctx context.Context, identity common.Address) ([]contracts.RecordID, error) {
	rows, err := n.db.QueryContext(ctx, `SELECT id FROM records WHERE owner = $1 ORDER BY id`, hexAddr(identity))
	if err != nil {
		return nil, fmt.Errorf("devnet: list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []contracts.RecordID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, contracts.RecordID(id))
	}
	return ids, rows.Err()
}

func (n *Network) recordColumn(ctx context.Context, column string, id contracts.RecordID) (string, error) {
	var v string
	// column is one of a fixed set chosen by the callers below
	err := n.db.QueryRowContext(ctx, `SELECT `+column+` FROM records WHERE id = $1`, int64(id)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %d", ledger.ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("devnet: read record %d: %w", id, err)
	}
	return v, nil
}

func (n *Network) RecordLabel(ctx context.Context, id contracts.RecordID) (string, error) {
	return n.recordColumn(ctx, "label", id)
}

func (n *Network) EncryptedValueHandle(ctx context.Context, id contracts.RecordID) (contracts.Handle, error) {
	v, err := n.recordColumn(ctx, "value_handle", id)
	if err != nil {
		return contracts.Handle{}, err
	}
	return contracts.HexToHandle(v), nil
}

func (n *Network) EncryptedFlagHandle(ctx context.Context, id contracts.RecordID) (contracts.Handle, error) {
	v, err := n.recordColumn(ctx, "flag_handle", id)
	if err != nil {
		return contracts.Handle{}, err
	}
	return contracts.HexToHandle(v), nil
}

func (n *Network) RecordCount(ctx context.Context) (uint64, error) {
	var count int64
	if err := n.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("devnet: count records: %w", err)
	}
	return uint64(count), nil
}

// --- fhe.Encryptor ---

// Encrypt stores value as a pending input bound to target and identity and
// returns its handle with a coprocessor-signed proof.
func (n *Network) Encrypt(ctx context.Context, target, identity common.Address, value uint64) (fhe.EncryptedInput, error) {
	if target != n.address {
		return fhe.EncryptedInput{}, fmt.Errorf("%w: %s", ErrWrongContract, target.Hex())
	}
	if value > MaxValue {
		return fhe.EncryptedInput{}, fmt.Errorf("devnet: value %d exceeds %d", value, uint64(MaxValue))
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return fhe.EncryptedInput{}, fmt.Errorf("devnet: nonce: %w", err)
	}
	handle := contracts.Handle(gethcrypto.Keccak256Hash(nonce, target.Bytes(), identity.Bytes()))

	sealed, err := n.sealValue(handle, value)
	if err != nil {
		return fhe.EncryptedInput{}, err
	}
	_, err = n.db.ExecContext(ctx,
		`INSERT INTO inputs (handle, identity, sealed, used) VALUES ($1, $2, $3, 0)`,
		handle.Hex(), hexAddr(identity), sealed,
	)
	if err != nil {
		return fhe.EncryptedInput{}, fmt.Errorf("devnet: store input: %w", err)
	}

	proof, err := n.coprocessor.SignText(proofMessage(handle, target, identity))
	if err != nil {
		return fhe.EncryptedInput{}, err
	}
	return fhe.EncryptedInput{Handle: handle, Proof: hexutil.MustDecode(proof)}, nil
}

func proofMessage(h contracts.Handle, target, identity common.Address) []byte {
	msg := make([]byte, 0, contracts.HandleLength+2*common.AddressLength)
	msg = append(msg, h.Bytes()...)
	msg = append(msg, target.Bytes()...)
	return append(msg, identity.Bytes()...)
}

func (n *Network) sealValue(h contracts.Handle, v uint64) (string, error) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	sealed, err := n.vault.Seal(buf[:], h.Bytes())
	if err != nil {
		return "", fmt.Errorf("devnet: seal: %w", err)
	}
	return sealed, nil
}

func (n *Network) openValue(h contracts.Handle, sealed string) (uint64, error) {
	plain, err := n.vault.Open(sealed, h.Bytes())
	if err != nil {
		return 0, fmt.Errorf("devnet: open %s: %w", h, err)
	}
	if len(plain) != 8 {
		return 0, fmt.Errorf("devnet: corrupt ciphertext %s", h)
	}
	return binary.BigEndian.Uint64(plain), nil
}

// --- fhe.Decryptor ---

// UserDecrypt returns the plaintexts of refs sealed to the capability's
// holder key. capability only needs its public fields.
func (n *Network) UserDecrypt(ctx context.Context, refs []fhe.HandleRef, capability *contracts.Capability) (map[contracts.Handle]hexutil.Bytes, error) {
	addrs := make([]common.Address, 0, len(refs))
	for _, ref := range refs {
		addrs = append(addrs, ref.Address)
	}
	if err := capabilities.Verify(capability, n.clock(), addrs...); err != nil {
		return nil, err
	}

	out := make(map[contracts.Handle]hexutil.Bytes, len(refs))
	for _, ref := range refs {
		if ref.Address != n.address {
			return nil, fmt.Errorf("%w: %s", ErrWrongContract, ref.Address.Hex())
		}
		var owner, sealed string
		err := n.db.QueryRowContext(ctx,
			`SELECT owner, sealed FROM ciphertexts WHERE handle = $1`, ref.Handle.Hex(),
		).Scan(&owner, &sealed)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, ref.Handle)
		}
		if err != nil {
			return nil, fmt.Errorf("devnet: read ciphertext: %w", err)
		}
		if owner != hexAddr(capability.Identity) {
			return nil, fmt.Errorf("%w: %s", ErrACL, ref.Handle)
		}
		v, err := n.openValue(ref.Handle, sealed)
		if err != nil {
			return nil, err
		}
		box, err := fhe.SealValue(capability.HolderPublicKey, v)
		if err != nil {
			return nil, err
		}
		out[ref.Handle] = box
	}
	return out, nil
}

// Decrypt implements fhe.Decryptor in process.
func (n *Network) Decrypt(ctx context.Context, refs []fhe.HandleRef, capability *contracts.Capability) (map[contracts.Handle]uint64, error) {
	sealed, err := n.UserDecrypt(ctx, refs, capability)
	if err != nil {
		return nil, err
	}
	return fhe.OpenResults(refs, sealed, capability)
}
