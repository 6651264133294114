// internal/store/postgres/payment_store.go
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

const columns = `id, kind, owner_id, subject_id, amount_gross, fee_amount, amount_net, total_charged,
	fee_mode, currency, method, provider, gateway_reference, redirect_url, status, failure_reason,
	poll_attempts, last_polled_at, created_at, updated_at, version, hooks_done, hooks_completed_at`

var openStatusList = func() string {
	quoted := make([]string, len(payment.OpenStatuses))
	for i, s := range payment.OpenStatuses {
		quoted[i] = "'" + string(s) + "'"
	}
	return strings.Join(quoted, ", ")
}()

// PaymentStore is the PostgreSQL payment.Store. Status changes and their
// audit rows are written in one transaction.
type PaymentStore struct {
	db *sql.DB
	tx *TxManager
}

func NewPaymentStore(db *sql.DB) *PaymentStore {
	return &PaymentStore{db: db, tx: NewTxManager(db)}
}

// Open connects with lib/pq and pings the server.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return db, nil
}

// Migrate creates the tables and indexes if they are missing.
func (s *PaymentStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// hooksOrEmpty keeps the column NOT NULL.
func hooksOrEmpty(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *PaymentStore) Create(ctx context.Context, p *payment.PendingPayment) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		query := `INSERT INTO pending_payments (` + columns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`
		_, err := executor(ctx, s.db).ExecContext(ctx, query,
			p.ID, p.Kind, p.OwnerID, p.SubjectID,
			p.AmountGross, p.FeeAmount, p.AmountNet, p.TotalCharged,
			p.FeeMode, p.Currency, p.Method, p.Provider,
			nullIfEmpty(p.GatewayReference), p.RedirectURL, p.Status, p.FailureReason,
			p.PollAttempts, p.LastPolledAt, p.CreatedAt, p.UpdatedAt, p.Version,
			pq.Array(hooksOrEmpty(p.HooksDone)), p.HooksCompletedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return payment.ErrDuplicatePending
			}
			return fmt.Errorf("db: failed to create pending payment: %w", err)
		}
		return s.recordTransition(ctx, p.ID, "", p.Status, p.GatewayReference, "")
	})
}

// Update is a compare-and-swap on version. Zero rows affected means someone
// else wrote first.
func (s *PaymentStore) Update(ctx context.Context, p *payment.PendingPayment, expectedVersion int64) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		exec := executor(ctx, s.db)

		var previous payment.Status
		err := exec.QueryRowContext(ctx,
			`SELECT status FROM pending_payments WHERE id = $1 FOR UPDATE`, p.ID).Scan(&previous)
		if errors.Is(err, sql.ErrNoRows) {
			return payment.ErrPaymentNotFound
		}
		if err != nil {
			return fmt.Errorf("db: failed to lock pending payment: %w", err)
		}

		query := `
			UPDATE pending_payments
			SET amount_gross = $1, fee_amount = $2, amount_net = $3, total_charged = $4,
			    fee_mode = $5, currency = $6, method = $7, provider = $8,
			    gateway_reference = $9, redirect_url = $10, status = $11, failure_reason = $12,
			    poll_attempts = $13, last_polled_at = $14, updated_at = $15,
			    hooks_done = $16, hooks_completed_at = $17, version = version + 1
			WHERE id = $18 AND version = $19`
		res, err := exec.ExecContext(ctx, query,
			p.AmountGross, p.FeeAmount, p.AmountNet, p.TotalCharged,
			p.FeeMode, p.Currency, p.Method, p.Provider,
			nullIfEmpty(p.GatewayReference), p.RedirectURL, p.Status, p.FailureReason,
			p.PollAttempts, p.LastPolledAt, p.UpdatedAt,
			pq.Array(hooksOrEmpty(p.HooksDone)), p.HooksCompletedAt,
			p.ID, expectedVersion,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return payment.ErrReferenceConflict
			}
			return fmt.Errorf("db: failed to update pending payment: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("db: rows affected: %w", err)
		}
		if rows == 0 {
			return payment.ErrVersionConflict
		}

		if previous != p.Status {
			if err := s.recordTransition(ctx, p.ID, previous, p.Status, p.GatewayReference, p.FailureReason); err != nil {
				return err
			}
		}
		p.Version = expectedVersion + 1
		return nil
	})
}

func (s *PaymentStore) recordTransition(ctx context.Context, id uuid.UUID, from, to payment.Status, reference, reason string) error {
	_, err := executor(ctx, s.db).ExecContext(ctx,
		`INSERT INTO payment_transitions (payment_id, from_status, to_status, reference, reason)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, from, to, reference, reason)
	if err != nil {
		return fmt.Errorf("db: failed to record transition: %w", err)
	}
	return nil
}

func (s *PaymentStore) Get(ctx context.Context, id uuid.UUID) (*payment.PendingPayment, error) {
	return s.queryOne(ctx, `SELECT `+columns+` FROM pending_payments WHERE id = $1`, id)
}

func (s *PaymentStore) FindOpen(ctx context.Context, ownerID, subjectID string) (*payment.PendingPayment, error) {
	return s.queryOne(ctx, `SELECT `+columns+` FROM pending_payments
		WHERE owner_id = $1 AND subject_id = $2 AND status IN (`+openStatusList+`)`, ownerID, subjectID)
}

func (s *PaymentStore) FindSettled(ctx context.Context, ownerID, subjectID string) (*payment.PendingPayment, error) {
	return s.queryOne(ctx, `SELECT `+columns+` FROM pending_payments
		WHERE owner_id = $1 AND subject_id = $2 AND status IN ($3, $4)
		ORDER BY updated_at DESC LIMIT 1`,
		ownerID, subjectID, payment.StatusActive, payment.StatusSucceeded)
}

// FindByReference correlates webhook events with our records.
func (s *PaymentStore) FindByReference(ctx context.Context, reference string) (*payment.PendingPayment, error) {
	return s.queryOne(ctx, `SELECT `+columns+` FROM pending_payments WHERE gateway_reference = $1`, reference)
}

// ListStale fetches stuck payments for the sweeper, oldest first.
func (s *PaymentStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*payment.PendingPayment, error) {
	query := `SELECT ` + columns + ` FROM pending_payments
		WHERE status IN (` + openStatusList + `) AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`
	rows, err := executor(ctx, s.db).QueryContext(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("db: failed to fetch stale payments: %w", err)
	}
	return collect(rows)
}

// ListUnfinished fetches terminal payments whose settlement hooks still
// have to run, oldest first.
func (s *PaymentStore) ListUnfinished(ctx context.Context, olderThan time.Time, limit int) ([]*payment.PendingPayment, error) {
	query := `SELECT ` + columns + ` FROM pending_payments
		WHERE status NOT IN (` + openStatusList + `) AND hooks_completed_at IS NULL AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`
	rows, err := executor(ctx, s.db).QueryContext(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("db: failed to fetch unfinished payments: %w", err)
	}
	return collect(rows)
}

func collect(rows *sql.Rows) ([]*payment.PendingPayment, error) {
	defer rows.Close()

	var result []*payment.PendingPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *PaymentStore) queryOne(ctx context.Context, query string, args ...any) (*payment.PendingPayment, error) {
	p, err := scanPayment(executor(ctx, s.db).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payment.ErrPaymentNotFound
	}
	return p, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPayment(row scanner) (*payment.PendingPayment, error) {
	var (
		p         payment.PendingPayment
		reference sql.NullString
		polledAt  sql.NullTime
		hooksAt   sql.NullTime
		hooks     pq.StringArray
	)
	err := row.Scan(
		&p.ID, &p.Kind, &p.OwnerID, &p.SubjectID,
		&p.AmountGross, &p.FeeAmount, &p.AmountNet, &p.TotalCharged,
		&p.FeeMode, &p.Currency, &p.Method, &p.Provider,
		&reference, &p.RedirectURL, &p.Status, &p.FailureReason,
		&p.PollAttempts, &polledAt, &p.CreatedAt, &p.UpdatedAt, &p.Version,
		&hooks, &hooksAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("db: failed to scan pending payment: %w", err)
	}
	if reference.Valid {
		p.GatewayReference = reference.String
	}
	if polledAt.Valid {
		t := polledAt.Time
		p.LastPolledAt = &t
	}
	if len(hooks) > 0 {
		p.HooksDone = []string(hooks)
	}
	if hooksAt.Valid {
		t := hooksAt.Time
		p.HooksCompletedAt = &t
	}
	return &p, nil
}
