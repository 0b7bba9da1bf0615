package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"SimBank/internal/ledger"

	"github.com/lib/pq"
)

// PoolConfig sizes the database/sql connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to Postgres through lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Postgres constraint names the store translates into domain errors.
const (
	constraintTransactionNumber = "transactions_number_key"
	constraintAccountNumber     = "accounts_number_key"
	constraintOpenTeam          = "accounts_open_team_key"
)

// translate maps unique violations onto the ledger's domain errors.
func translate(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code.Name() != "unique_violation" {
		return err
	}
	switch pqErr.Constraint {
	case constraintTransactionNumber:
		return ledger.ErrDuplicateTransaction
	case constraintAccountNumber, constraintOpenTeam:
		return ledger.ErrAccountExists
	}
	return err
}

// statusTable mirrors the transaction_statuses lookup table.
type statusTable struct {
	ids   map[ledger.Status]int16
	names map[int16]ledger.Status
}

func loadStatuses(ctx context.Context, q queryer) (*statusTable, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, name FROM transaction_statuses`)
	if err != nil {
		return nil, fmt.Errorf("load transaction statuses: %w", err)
	}
	defer rows.Close()

	t := &statusTable{ids: make(map[ledger.Status]int16), names: make(map[int16]ledger.Status)}
	for rows.Next() {
		var (
			id   int16
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		st, err := ledger.ParseStatus(name)
		if err != nil {
			return nil, err
		}
		t.ids[st] = id
		t.names[id] = st
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, st := range ledger.Statuses {
		if _, ok := t.ids[st]; !ok {
			return nil, fmt.Errorf("transaction_statuses is missing %q", st)
		}
	}
	return t, nil
}

func (t *statusTable) id(s ledger.Status) int16 { return t.ids[s] }

func (t *statusTable) status(id int16) (ledger.Status, error) {
	s, ok := t.names[id]
	if !ok {
		return "", fmt.Errorf("unknown transaction status id %d", id)
	}
	return s, nil
}
