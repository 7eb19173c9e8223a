package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store against the host platform's order/customer
// schema. It issues narrow reads and writes only; schema ownership and
// migrations stay with the host application.
type Postgres struct {
	Pool *pgxpool.Pool
}

// NewPostgres wraps a pgx pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

const orderColumns = `o.id, o.customer_id, o.status, o.capture_id,
	a.id, a.status, a.amount, a.currency, a.expires_at`

func (p *Postgres) scanOrder(row pgx.Row) (Order, error) {
	var (
		o           Order
		authID      *string
		authStatus  *string
		authAmt     *int64
		authCur     *string
		authExpires *time.Time
	)
	err := row.Scan(&o.ID, &o.CustomerID, &o.Status, &o.CaptureID,
		&authID, &authStatus, &authAmt, &authCur, &authExpires)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	if authID != nil {
		auth := Authorization{ID: *authID}
		if authStatus != nil {
			auth.Status = AuthorizationStatus(*authStatus)
		}
		if authAmt != nil {
			auth.Amount = *authAmt
		}
		if authCur != nil {
			auth.Currency = *authCur
		}
		if authExpires != nil {
			auth.ExpiresAt = *authExpires
		}
		o.Authorization = &auth
	}
	return o, nil
}

// GetOrder implements Store.
func (p *Postgres) GetOrder(ctx context.Context, orderID string) (Order, error) {
	row := p.Pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		LEFT JOIN authorizations a ON a.order_id = o.id
		WHERE o.id = $1`, orderID)
	return p.scanOrder(row)
}

// GetOrderByCaptureID implements Store.
func (p *Postgres) GetOrderByCaptureID(ctx context.Context, captureID string) (Order, error) {
	row := p.Pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		LEFT JOIN authorizations a ON a.order_id = o.id
		WHERE o.capture_id = $1`, captureID)
	return p.scanOrder(row)
}

// OrdersWithOpenAuthorization implements Store.
func (p *Postgres) OrdersWithOpenAuthorization(ctx context.Context, customerID int64) ([]Order, error) {
	rows, err := p.Pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders o
		JOIN authorizations a ON a.order_id = o.id
		WHERE o.customer_id = $1
		  AND a.status = $2
		  AND (a.expires_at IS NULL OR a.expires_at > now())
		ORDER BY o.id`, customerID, string(AuthorizationCreated))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := p.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateOrderStatus implements Store.
func (p *Postgres) UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus) error {
	tag, err := p.Pool.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`,
		orderID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendOrderNote implements Store.
func (p *Postgres) AppendOrderNote(ctx context.Context, orderID, note string) error {
	_, err := p.Pool.Exec(ctx,
		`INSERT INTO order_notes (order_id, note, created_at) VALUES ($1, $2, now())`,
		orderID, note)
	return err
}

// MarkAuthorizationCaptured implements Store.
func (p *Postgres) MarkAuthorizationCaptured(ctx context.Context, orderID, captureID string) error {
	tx, err := p.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx,
		`UPDATE authorizations SET status = $2, updated_at = now() WHERE order_id = $1`,
		orderID, string(AuthorizationCaptured)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE orders SET capture_id = $2, updated_at = now() WHERE id = $1`,
		orderID, captureID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SavePaymentInstrument implements Store. The (customer_id, token) unique
// constraint makes redelivered vault events update in place.
func (p *Postgres) SavePaymentInstrument(ctx context.Context, inst PaymentInstrument) (string, error) {
	if inst.Token == "" {
		return "", fmt.Errorf("store: instrument token is required")
	}
	var id string
	err := p.Pool.QueryRow(ctx, `
		INSERT INTO payment_instruments
			(customer_id, token, kind, card_last4, card_brand, card_exp_month, card_exp_year, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (customer_id, token) DO UPDATE SET
			kind = EXCLUDED.kind,
			card_last4 = EXCLUDED.card_last4,
			card_brand = EXCLUDED.card_brand,
			card_exp_month = EXCLUDED.card_exp_month,
			card_exp_year = EXCLUDED.card_exp_year,
			updated_at = now()
		RETURNING id`,
		inst.CustomerID, inst.Token, string(inst.Kind),
		inst.CardLast4, inst.CardBrand, inst.CardExpMonth, inst.CardExpYear).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// DeletePaymentInstrument implements Store.
func (p *Postgres) DeletePaymentInstrument(ctx context.Context, customerID int64, token string) error {
	tag, err := p.Pool.Exec(ctx,
		`DELETE FROM payment_instruments WHERE customer_id = $1 AND token = $2`,
		customerID, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDefaultPaymentInstrument implements Store.
func (p *Postgres) SetDefaultPaymentInstrument(ctx context.Context, customerID int64, instrumentID string) error {
	tag, err := p.Pool.Exec(ctx, `
		INSERT INTO customer_default_instruments (customer_id, instrument_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (customer_id) DO UPDATE SET
			instrument_id = EXCLUDED.instrument_id,
			updated_at = now()`,
		customerID, instrumentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
