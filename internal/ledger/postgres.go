package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/aigos-io/aigos/internal/token"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serialises concurrent appends across all AIGOS
// instances sharing the database. Arbitrary but must stay stable.
const advisoryLockKey = int64(7_420_113_358)

// PostgresLedger persists the lifecycle chain to PostgreSQL.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLedger creates a PostgresLedger over pool.
func NewPostgresLedger(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresLedger{pool: pool, logger: logger}
}

// RecordIssued implements Ledger.
func (l *PostgresLedger) RecordIssued(ctx context.Context, certificateID, agentID, actor string, document []byte) (*Entry, error) {
	return l.append(ctx, certificateID, agentID, EventIssued, actor, "", sha256Sum(document))
}

// RecordRevoked implements Ledger.
func (l *PostgresLedger) RecordRevoked(ctx context.Context, certificateID, agentID, actor, reason string) (*Entry, error) {
	return l.append(ctx, certificateID, agentID, EventRevoked, actor, reason, GenesisHash)
}

// append reads the chain tail, hashes the new entry against it, and
// inserts — all under a transaction-scoped advisory lock so concurrent
// writers cannot fork the chain.
func (l *PostgresLedger) append(ctx context.Context, certificateID, agentID string, event Event, actor, reason, dataHash string) (*Entry, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var prevIdx int
	var prevHash string
	if err := tx.QueryRow(ctx,
		"SELECT idx, hash FROM certificate_ledger ORDER BY idx DESC LIMIT 1",
	).Scan(&prevIdx, &prevHash); err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}

	entry := &Entry{
		Index:         prevIdx + 1,
		Timestamp:     time.Now().UTC(),
		CertificateID: certificateID,
		AgentID:       agentID,
		Event:         event,
		Actor:         actor,
		Reason:        reason,
		DataHash:      dataHash,
		PrevHash:      prevHash,
	}
	entry.Hash = hashEntry(entry)

	if _, err := tx.Exec(ctx,
		`INSERT INTO certificate_ledger (idx, timestamp, certificate_id, agent_id, event, actor, reason, data_hash, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.Index, entry.Timestamp, entry.CertificateID, entry.AgentID,
		entry.Event, entry.Actor, entry.Reason, entry.DataHash,
		entry.PrevHash, entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	l.logger.Debug("ledger entry appended",
		zap.Int("idx", entry.Index),
		zap.String("event", string(entry.Event)),
		zap.String("certificate_id", entry.CertificateID),
	)
	return entry, nil
}

// History implements Ledger.
func (l *PostgresLedger) History(ctx context.Context, certificateID string) ([]*Entry, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT idx, timestamp, certificate_id, agent_id, event, actor, reason, data_hash, prev_hash, hash
		 FROM certificate_ledger WHERE certificate_id = $1 ORDER BY idx ASC`, certificateID,
	)
	if err != nil {
		return nil, fmt.Errorf("query certificate history: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM certificate_ledger").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// Audit implements Ledger. O(n) in chain length.
func (l *PostgresLedger) Audit(ctx context.Context) error {
	rows, err := l.pool.Query(ctx,
		`SELECT idx, timestamp, certificate_id, agent_id, event, actor, reason, data_hash, prev_hash, hash
		 FROM certificate_ledger ORDER BY idx ASC`,
	)
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return err
	}
	return auditChain(entries)
}

// Root implements Ledger.
func (l *PostgresLedger) Root(ctx context.Context) (string, error) {
	var hash string
	if err := l.pool.QueryRow(ctx,
		"SELECT hash FROM certificate_ledger ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get ledger root: %w", err)
	}
	return hash, nil
}

// Status implements token.RevocationOracle against the durable chain.
func (l *PostgresLedger) Status(ctx context.Context, certificateID string) (token.RevocationStatus, error) {
	var revoked, issued int
	if err := l.pool.QueryRow(ctx,
		`SELECT
		   COUNT(*) FILTER (WHERE event = 'revoked'),
		   COUNT(*) FILTER (WHERE event = 'issued')
		 FROM certificate_ledger WHERE certificate_id = $1`, certificateID,
	).Scan(&revoked, &issued); err != nil {
		return token.RevocationUnknown, fmt.Errorf("query revocation status: %w", err)
	}
	switch {
	case revoked > 0:
		return token.RevocationRevoked, nil
	case issued > 0:
		return token.RevocationGood, nil
	default:
		return token.RevocationUnknown, nil
	}
}

// scanEntries drains rows into entries.
func scanEntries(rows pgx.Rows) ([]*Entry, error) {
	var out []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(
			&e.Index, &e.Timestamp, &e.CertificateID, &e.AgentID,
			&e.Event, &e.Actor, &e.Reason, &e.DataHash,
			&e.PrevHash, &e.Hash,
		); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
