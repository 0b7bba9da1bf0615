package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RecentTransactionNumbers feeds the in-memory number cache at startup.
func (s *Store) RecentTransactionNumbers(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT transaction_number FROM transactions ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent transaction numbers: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0, limit)
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// NumberTaken answers the ledger's duplicate check when the number cache
// misses, without opening a write unit.
func (s *Store) NumberTaken(ctx context.Context, number string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM transactions WHERE transaction_number = $1 LIMIT 1`, number).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
