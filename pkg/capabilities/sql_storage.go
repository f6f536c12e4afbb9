package capabilities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
	"github.com/Mindburn-Labs/scorevault/pkg/kms"
)

// SQLStorage keeps capabilities in a SQL table. Holder private keys are
// always sealed with the supplied kms.Manager.
type SQLStorage struct {
	db    *sql.DB
	codec codec
	clock func() time.Time
}

// SQLOption configures a SQLStorage.
type SQLOption func(*SQLStorage)

// WithSQLClock overrides the clock used for expiry checks and pruning.
func WithSQLClock(clock func() time.Time) SQLOption {
	return func(s *SQLStorage) { s.clock = clock }
}

func NewSQLStorage(db *sql.DB, sealer kms.Manager, opts ...SQLOption) (*SQLStorage, error) {
	if sealer == nil {
		return nil, errors.New("capabilities: sql storage requires a kms manager")
	}
	s := &SQLStorage{db: db, codec: codec{sealer: sealer}, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Init creates the capabilities table.
func (s *SQLStorage) Init(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS capabilities (
		cache_key TEXT PRIMARY KEY,
		identity TEXT NOT NULL,
		payload TEXT NOT NULL,
		valid_until BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to init capabilities table: %w", err)
	}
	return nil
}

func (s *SQLStorage) Get(ctx context.Context, key contracts.CapabilityKey) (*contracts.Capability, error) {
	var payload string
	var validUntil int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, valid_until FROM capabilities WHERE cache_key = $1`,
		key.String(),
	).Scan(&payload, &validUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query capability: %w", err)
	}
	if validUntil <= s.clock().Unix() {
		return nil, ErrNotFound
	}
	return s.codec.decode(key, []byte(payload))
}

func (s *SQLStorage) Put(ctx context.Context, key contracts.CapabilityKey, c *contracts.Capability) error {
	data, err := s.codec.encode(key, c)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO capabilities (cache_key, identity, payload, valid_until, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cache_key) DO UPDATE SET
			payload = EXCLUDED.payload,
			valid_until = EXCLUDED.valid_until,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		key.String(),
		c.Identity.Hex(),
		string(data),
		c.ValidUntil().Unix(),
		s.clock().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store capability: %w", err)
	}
	return nil
}

// Prune deletes expired rows and returns how many were removed.
func (s *SQLStorage) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM capabilities WHERE valid_until <= $1`, s.clock().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune capabilities: %w", err)
	}
	return res.RowsAffected()
}
