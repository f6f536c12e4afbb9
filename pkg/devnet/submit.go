package devnet

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
	"github.com/Mindburn-Labs/scorevault/pkg/crypto"
	"github.com/Mindburn-Labs/scorevault/pkg/ledger"
)

// SubmitEncryptedValue mints a record for identity from a pending input. A
// bad proof, a foreign input or a reused input still yields a transaction,
// one whose receipt reports failure.
func (n *Network) SubmitEncryptedValue(ctx context.Context, identity common.Address, handle contracts.Handle, proof []byte, label, contentRef string) (ledger.TxRef, error) {
	ref, err := newTxRef(identity, handle)
	if err != nil {
		return ledger.TxRef{}, err
	}

	tx, err := n.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.TxRef{}, fmt.Errorf("devnet: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	block, err := nextBlock(ctx, tx)
	if err != nil {
		return ledger.TxRef{}, err
	}

	id, reason, err := n.mint(ctx, tx, identity, handle, proof, label, contentRef)
	if err != nil {
		return ledger.TxRef{}, err
	}

	status := ledger.StatusSuccessful
	var recordID sql.NullInt64
	if reason != "" {
		status = ledger.StatusFailed
		n.logger.WarnContext(ctx, "submission reverted", "tx", ref.String(), "reason", reason)
	} else {
		recordID = sql.NullInt64{Int64: int64(id), Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transactions (hash, status, block_number, record_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
		ref.Hash.Hex(), int64(status), block, recordID, n.clock().Unix(),
	)
	if err != nil {
		return ledger.TxRef{}, fmt.Errorf("devnet: store transaction: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ledger.TxRef{}, fmt.Errorf("devnet: commit: %w", err)
	}

	if reason == "" {
		n.logger.InfoContext(ctx, "record minted", "tx", ref.String(), "record_id", id, "owner", identity.Hex())
	}
	return ref, nil
}

// mint returns a non-empty reason when the submission must revert.
func (n *Network) mint(ctx context.Context, tx *sql.Tx, identity common.Address, handle contracts.Handle, proof []byte, label, contentRef string) (contracts.RecordID, string, error) {
	signer, err := crypto.RecoverText(hexutil.Encode(proof), proofMessage(handle, n.address, identity))
	if err != nil || signer != n.coprocessor.Address() {
		return 0, "invalid input proof", nil
	}

	var owner, sealed string
	var used int
	err = tx.QueryRowContext(ctx,
		`SELECT identity, sealed, used FROM inputs WHERE handle = $1`, handle.Hex(),
	).Scan(&owner, &sealed, &used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "unknown input", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("devnet: read input: %w", err)
	}
	if owner != hexAddr(identity) {
		return 0, "input bound to another identity", nil
	}
	if used != 0 {
		return 0, "input already used", nil
	}

	value, err := n.openValue(handle, sealed)
	if err != nil {
		return 0, "", err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE inputs SET used = 1 WHERE handle = $1`, handle.Hex()); err != nil {
		return 0, "", fmt.Errorf("devnet: consume input: %w", err)
	}

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM records`).Scan(&next); err != nil {
		return 0, "", fmt.Errorf("devnet: next id: %w", err)
	}
	id := contracts.RecordID(next)

	valueHandle := deriveHandle(handle, "value")
	flagHandle := deriveHandle(handle, "flag")
	var flag uint64
	if value >= n.passThreshold {
		flag = 1
	}

	for _, ct := range []struct {
		h contracts.Handle
		v uint64
	}{{valueHandle, value}, {flagHandle, flag}} {
		sealedCT, err := n.sealValue(ct.h, ct.v)
		if err != nil {
			return 0, "", err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO ciphertexts (handle, owner, sealed) VALUES ($1, $2, $3)`,
			ct.h.Hex(), hexAddr(identity), sealedCT,
		)
		if err != nil {
			return 0, "", fmt.Errorf("devnet: store ciphertext: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (id, owner, label, content_ref, value_handle, flag_handle, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		int64(id), hexAddr(identity), label, contentRef, valueHandle.Hex(), flagHandle.Hex(), n.clock().Unix(),
	)
	if err != nil {
		return 0, "", fmt.Errorf("devnet: store record: %w", err)
	}
	return id, "", nil
}

// AwaitConfirmation waits one block time and returns the receipt.
func (n *Network) AwaitConfirmation(ctx context.Context, ref ledger.TxRef) (ledger.Receipt, error) {
	if n.blockTime > 0 {
		timer := time.NewTimer(n.blockTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ledger.Receipt{}, ctx.Err()
		case <-timer.C:
		}
	}

	var status, block int64
	err := n.db.QueryRowContext(ctx,
		`SELECT status, block_number FROM transactions WHERE hash = $1`, ref.Hash.Hex(),
	).Scan(&status, &block)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Receipt{}, fmt.Errorf("%w: %s", ErrUnknownTx, ref)
	}
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("devnet: read transaction: %w", err)
	}
	return ledger.Receipt{TxRef: ref, Status: ledger.Status(status), BlockNumber: uint64(block)}, nil
}

func nextBlock(ctx context.Context, tx *sql.Tx) (int64, error) {
	var count int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("devnet: block number: %w", err)
	}
	return count + 1, nil
}

func newTxRef(identity common.Address, handle contracts.Handle) (ledger.TxRef, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return ledger.TxRef{}, fmt.Errorf("devnet: nonce: %w", err)
	}
	return ledger.TxRef{Hash: gethcrypto.Keccak256Hash(identity.Bytes(), handle.Bytes(), nonce)}, nil
}

func deriveHandle(input contracts.Handle, kind string) contracts.Handle {
	return contracts.Handle(gethcrypto.Keccak256Hash(input.Bytes(), []byte(kind)))
}
