package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/ledger-api/internal/database"
)

const paymentColumns = `checking_id, wallet, amount, fee, pending, memo, time,
	hash, preimage, bolt11, extra, webhook, webhook_status`

// InternalPrefix marks checking ids of wallet-to-wallet transfers.
const InternalPrefix = "internal_"

// Repository is the payment store. No method writes a balance.
type Repository struct {
	store *database.Store
}

// NewRepository creates a repository on a migrated store.
func NewRepository(store *database.Store) *Repository {
	return &Repository{store: store}
}

// CreatePayment inserts a payment. The fee is stored as a magnitude.
func (r *Repository) CreatePayment(ctx context.Context, p *Payment) error {
	if p.Amount == 0 {
		return ErrInvalidAmount
	}
	p.Fee = abs(p.Fee)

	return r.store.InTx(ctx, func(tx *database.Tx) error {
		return insertPayment(ctx, tx, p)
	})
}

func insertPayment(ctx context.Context, tx *database.Tx, p *Payment) error {
	var exists int
	err := tx.QueryRow(ctx,
		`SELECT 1 FROM apipayments WHERE wallet = ? AND checking_id = ?`,
		p.Wallet, p.CheckingID,
	).Scan(&exists)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s/%s", ErrDuplicatePayment, p.Wallet, p.CheckingID)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to check payment: %w", err)
	}

	extra, err := marshalExtra(p.Extra)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO apipayments (
			checking_id, wallet, amount, fee, pending, memo,
			hash, preimage, bolt11, extra, webhook
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.CheckingID, p.Wallet, p.Amount, p.Fee, p.Pending, nullString(p.Memo),
		nullString(p.Hash), nullString(p.Preimage), nullString(p.Bolt11), extra, nullString(p.Webhook))
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// GetPayment returns one payment of wallet.
func (r *Repository) GetPayment(ctx context.Context, wallet, checkingID string) (*Payment, error) {
	row := r.store.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM apipayments
		WHERE wallet = ? AND checking_id = ?
	`, wallet, checkingID)

	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListPayments returns the payments of wallet, newest first.
func (r *Repository) ListPayments(ctx context.Context, wallet string, filter ListFilter) ([]*Payment, error) {
	clauses := []string{"wallet = ?"}
	args := []any{wallet}

	if filter.Complete != filter.Pending {
		clauses = append(clauses, "pending = ?")
		args = append(args, filter.Pending)
	}
	if filter.Incoming != filter.Outgoing {
		if filter.Incoming {
			clauses = append(clauses, "amount > 0")
		} else {
			clauses = append(clauses, "amount < 0")
		}
	}

	query := `SELECT ` + paymentColumns + ` FROM apipayments WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY time DESC, checking_id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.store.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanPayments(rows)
}

// SettlePayment marks a pending payment complete and records its final fee
// and preimage. A zero fee or empty preimage keeps the stored value. Settled
// payments are never touched again: settling one returns ErrNotFound.
func (r *Repository) SettlePayment(ctx context.Context, wallet, checkingID string, params SettleParams) error {
	fee := sql.NullInt64{Int64: abs(params.Fee), Valid: params.Fee != 0}

	res, err := r.store.Exec(ctx, `
		UPDATE apipayments
		SET pending = ?, fee = COALESCE(?, fee), preimage = COALESCE(?, preimage)
		WHERE wallet = ? AND checking_id = ? AND pending = ?
	`, false, fee, nullString(params.Preimage), wallet, checkingID, true)
	if err != nil {
		return fmt.Errorf("failed to settle payment: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Transfer moves amount between two wallets as a pair of settled payments
// sharing one internal checking id. The sender's balance is read from the
// view inside the same transaction.
func (r *Repository) Transfer(ctx context.Context, from, to string, amount int64, memo string) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}
	if from == to {
		return "", ErrSameWallet
	}

	checkingID := InternalPrefix + ulid.Make().String()

	err := r.store.InTx(ctx, func(tx *database.Tx) error {
		balance, err := balanceOf(ctx, tx, from)
		if err != nil {
			return err
		}
		if balance < amount {
			return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, from, balance, amount)
		}

		if err := insertPayment(ctx, tx, &Payment{
			CheckingID: checkingID,
			Wallet:     from,
			Amount:     -amount,
			Memo:       memo,
		}); err != nil {
			return err
		}
		return insertPayment(ctx, tx, &Payment{
			CheckingID: checkingID,
			Wallet:     to,
			Amount:     amount,
			Memo:       memo,
		})
	})
	if err != nil {
		return "", err
	}
	return checkingID, nil
}

// Balance returns the balance of wallet. A wallet without counted payments
// has a balance of zero.
func (r *Repository) Balance(ctx context.Context, wallet string) (int64, error) {
	var balance int64
	err := r.store.QueryRow(ctx, `SELECT balance FROM balances WHERE wallet = ?`, wallet).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func balanceOf(ctx context.Context, tx *database.Tx, wallet string) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance FROM balances WHERE wallet = ?`, wallet).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// Balances returns every row of the balances view.
func (r *Repository) Balances(ctx context.Context) ([]Balance, error) {
	rows, err := r.store.Query(ctx, `SELECT wallet, balance FROM balances ORDER BY wallet`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.Wallet, &b.Balance); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// PendingWebhooks returns settled incoming payments whose webhook has not
// been delivered yet, oldest first.
func (r *Repository) PendingWebhooks(ctx context.Context, limit int) ([]*Payment, error) {
	rows, err := r.store.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM apipayments
		WHERE webhook IS NOT NULL AND webhook <> ''
		  AND webhook_status IS NULL
		  AND pending = ? AND amount > 0
		ORDER BY time, checking_id
		LIMIT ?
	`, false, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanPayments(rows)
}

// SetWebhookStatus records the outcome of a webhook delivery.
func (r *Repository) SetWebhookStatus(ctx context.Context, wallet, checkingID, status string) error {
	res, err := r.store.Exec(ctx,
		`UPDATE apipayments SET webhook_status = ? WHERE wallet = ? AND checking_id = ?`,
		status, wallet, checkingID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPayment(row scanner) (*Payment, error) {
	var p Payment
	var memo, hash, preimage, bolt11, extra, webhook, webhookStatus sql.NullString
	var ts any

	if err := row.Scan(&p.CheckingID, &p.Wallet, &p.Amount, &p.Fee, &p.Pending, &memo, &ts,
		&hash, &preimage, &bolt11, &extra, &webhook, &webhookStatus); err != nil {
		return nil, err
	}

	t, err := parseTime(ts)
	if err != nil {
		return nil, err
	}
	p.Time = t
	p.Memo = memo.String
	p.Hash = hash.String
	p.Preimage = preimage.String
	p.Bolt11 = bolt11.String
	p.Webhook = webhook.String
	p.WebhookStatus = webhookStatus.String

	if extra.Valid && extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &p.Extra); err != nil {
			return nil, fmt.Errorf("failed to decode extra of %s: %w", p.CheckingID, err)
		}
	}

	return &p, nil
}

func scanPayments(rows *sql.Rows) ([]*Payment, error) {
	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseTime accepts what the supported drivers hand back for a TIMESTAMP
// column: time.Time from pgx and modernc, text from libsql.
func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t.UTC(), nil
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case []byte:
		return parseTime(string(t))
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", t)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func marshalExtra(extra map[string]any) (any, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("failed to encode extra: %w", err)
	}
	return string(data), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
