package database

import (
	"context"
	"fmt"
	"time"

	"lnhub/internal/ledger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// JournalRepository stores the append-only ledger audit trail.
type JournalRepository struct {
	db *pgxpool.Pool
}

var _ ledger.Journal = (*JournalRepository)(nil)

func NewJournalRepository(db *DB) *JournalRepository {
	return &JournalRepository{
		db: db.pool,
	}
}

// Create inserts entry, assigning an ID and creation time when unset.
func (r *JournalRepository) Create(ctx context.Context, entry *JournalEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO ledger_journal (
		id,
		user_id,
		kind,
		payment_hash,
		amount_sats,
		fee_sats,
		memo,
		created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(
		ctx,
		query,
		entry.ID,
		entry.UserID,
		entry.Kind.String(),
		entry.PaymentHash,
		entry.AmountSats,
		entry.FeeSats,
		entry.Memo,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create journal entry: %w", err)
	}
	return nil
}

// Append implements ledger.Journal.
func (r *JournalRepository) Append(ctx context.Context, e ledger.JournalEntry) error {
	row := &JournalEntry{
		UserID:     e.UserID,
		Kind:       ParseEntryKind(e.Kind),
		AmountSats: e.AmountSat,
		FeeSats:    e.FeeSat,
		Memo:       e.Memo,
		CreatedAt:  e.CreatedAt,
	}
	if e.PaymentHash != "" {
		hash := e.PaymentHash
		row.PaymentHash = &hash
	}
	return r.Create(ctx, row)
}

// ListByUser returns a user's entries, newest first.
func (r *JournalRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*JournalEntry, error) {
	query := `SELECT
		id, user_id, kind, payment_hash, amount_sats, fee_sats, memo, created_at
	FROM ledger_journal WHERE user_id = $1
	ORDER BY created_at DESC, id
	LIMIT $2`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal for user %s: %w", userID, err)
	}
	defer rows.Close()

	var entries []*JournalEntry
	for rows.Next() {
		var entry JournalEntry
		var kind string
		if err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&kind,
			&entry.PaymentHash,
			&entry.AmountSats,
			&entry.FeeSats,
			&entry.Memo,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entry.Kind = ParseEntryKind(kind)
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal rows: %w", err)
	}
	return entries, nil
}

// SumByUser totals the signed amounts journaled for a user. It is an audit
// figure; balances are computed from the KV ledger.
func (r *JournalRepository) SumByUser(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_sats), 0) FROM ledger_journal WHERE user_id = $1`,
		userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum journal for user %s: %w", userID, err)
	}
	return total, nil
}
