package devnet

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/scorevault/pkg/kms"
)

// OpenMemory starts a throwaway network on an in-memory SQLite database.
// Close the returned db when done.
func OpenMemory(ctx context.Context, opts ...Option) (*Network, *sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, nil, fmt.Errorf("devnet: open sqlite: %w", err)
	}
	// every connection to :memory: is its own database
	db.SetMaxOpenConns(1)

	vault, err := kms.NewMemoryKMS()
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	n, err := New(db, vault.Scoped("devnet"), opts...)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	if err := n.Init(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return n, db, nil
}
