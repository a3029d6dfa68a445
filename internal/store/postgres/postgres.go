// Package postgres is the pgx-backed store. The canonical order and its
// per-customer mirror are always written in the same transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"orderledger/internal/logger"
	"orderledger/internal/model"
	"orderledger/internal/store"
)

const (
	pgForeignKeyViolation = "23503"
	queryTimeout          = 5 * time.Second
)

var orderColumns = columns("")

type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func New(pool *pgxpool.Pool, l *zap.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: l,
		tracer: otel.Tracer("store/postgres"),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) CreateOrder(ctx context.Context, o *model.Order) (string, error) {
	return s.insert(ctx, "Store.CreateOrder", o, false)
}

func (s *Store) ImportOrder(ctx context.Context, o *model.Order) (string, error) {
	return s.insert(ctx, "Store.ImportOrder", o, true)
}

func (s *Store) insert(ctx context.Context, spanName string, o *model.Order, keepOrderedAt bool) (string, error) {
	ctx, span := s.tracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(attribute.String("customer_id", o.CustomerID))

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	id := uuid.NewString()
	var orderedAt any
	if keepOrderedAt && !o.OrderedAt.IsZero() {
		orderedAt = o.OrderedAt
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO orders (
				id, customer_id, ordered_at, quantity, unit_price, total_amount,
				status, payment_status, received, advance_paid, balance_amount,
				notes, payment_method, created_at, updated_at
			)
			VALUES ($1, $2, COALESCE($3::timestamptz, NOW()), $4, $5::numeric, $6::numeric,
				$7, $8, $9, $10::numeric, $11::numeric, $12, $13, NOW(), NOW())
			RETURNING ordered_at, created_at, updated_at`,
			id, o.CustomerID, orderedAt, o.Quantity, o.UnitPrice.String(), o.TotalAmount.String(),
			string(o.Status), string(o.PaymentStatus), o.Received, o.AdvancePaid.String(), o.BalanceAmount.String(),
			o.Notes, o.PaymentMethod,
		)
		if err := row.Scan(&o.OrderedAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return err
		}
		o.ID = id

		_, err := tx.Exec(ctx, `
			INSERT INTO customer_orders (id, main_order_id, `+mirrorColumnList+`)
			SELECT $1, id, `+mirrorColumnList+`
			FROM orders WHERE id = $2`,
			uuid.NewString(), id,
		)
		return err
	})
	if err != nil {
		s.fail(ctx, span, "failed to create order", err)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return "", store.ErrCustomerNotFound
		}
		return "", &store.WriteError{Op: "create order", Err: err}
	}

	span.SetAttributes(attribute.String("order_id", id))
	return id, nil
}

const mirrorColumnList = `customer_id, ordered_at, quantity, unit_price, total_amount,
	status, payment_status, received, advance_paid, balance_amount,
	notes, payment_method, created_at, updated_at`

func (s *Store) GetOrder(ctx context.Context, id string) (model.Order, error) {
	ctx, span := s.tracer.Start(ctx, "Store.GetOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", id))

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	o, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Order{}, store.ErrNotFound
	}
	if err != nil {
		s.fail(ctx, span, "failed to get order", err)
		return model.Order{}, &store.QueryError{Op: "get order", Err: err}
	}
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context, f store.Filter) ([]model.Order, error) {
	ctx, span := s.tracer.Start(ctx, "Store.ListOrders")
	defer span.End()
	span.SetAttributes(
		attribute.String("customer_id", f.CustomerID),
		attribute.String("status", string(f.Status)),
	)

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var from, to any
	if !f.From.IsZero() {
		from = f.From
	}
	if !f.To.IsZero() {
		to = f.To
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1::text = '' OR customer_id = $1::text)
		  AND ($2::text = '' OR status = $2::text)
		  AND ($3::timestamptz IS NULL OR ordered_at >= $3)
		  AND ($4::timestamptz IS NULL OR ordered_at < $4)
		ORDER BY ordered_at DESC, id ASC`,
		f.CustomerID, string(f.Status), from, to,
	)
	if err != nil {
		s.fail(ctx, span, "failed to query orders", err)
		return nil, &store.QueryError{Op: "list orders", Err: err}
	}
	defer rows.Close()

	orders := make([]model.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			s.fail(ctx, span, "failed to scan order", err)
			return nil, &store.QueryError{Op: "list orders", Err: err}
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		s.fail(ctx, span, "rows error", err)
		return nil, &store.QueryError{Op: "list orders", Err: err}
	}

	span.SetAttributes(attribute.Int("orders_count", len(orders)))
	return orders, nil
}

func (s *Store) ListMirror(ctx context.Context, customerID string) ([]model.MirrorOrder, error) {
	ctx, span := s.tracer.Start(ctx, "Store.ListMirror")
	defer span.End()
	span.SetAttributes(attribute.String("customer_id", customerID))

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT main_order_id, `+orderColumns+`
		FROM customer_orders
		WHERE customer_id = $1
		ORDER BY ordered_at DESC, main_order_id ASC`,
		customerID,
	)
	if err != nil {
		s.fail(ctx, span, "failed to query mirror", err)
		return nil, &store.QueryError{Op: "list mirror", Err: err}
	}
	defer rows.Close()

	out := make([]model.MirrorOrder, 0)
	for rows.Next() {
		var m model.MirrorOrder
		var unit, total, advance, balance string
		if err := rows.Scan(
			&m.MainOrderID,
			&m.ID, &m.CustomerID, &m.OrderedAt, &m.Quantity, &unit, &total,
			&m.Status, &m.PaymentStatus, &m.Received, &advance, &balance,
			&m.Notes, &m.PaymentMethod, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			s.fail(ctx, span, "failed to scan mirror", err)
			return nil, &store.QueryError{Op: "list mirror", Err: err}
		}
		if err := parseMoney(&m.Order, unit, total, advance, balance); err != nil {
			return nil, &store.QueryError{Op: "list mirror", Err: err}
		}
		m.Order.ID = m.MainOrderID
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		s.fail(ctx, span, "rows error", err)
		return nil, &store.QueryError{Op: "list mirror", Err: err}
	}
	return out, nil
}

func (s *Store) UpdateOrder(ctx context.Context, id string, mutate store.Mutator) (model.Order, error) {
	ctx, span := s.tracer.Start(ctx, "Store.UpdateOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", id))

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var updated model.Order
	var mutateErr error
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}

		if err := mutate(&o); err != nil {
			mutateErr = err
			return err
		}

		row := tx.QueryRow(ctx, `
			UPDATE orders
			SET status = $2, payment_status = $3, received = $4,
				advance_paid = $5::numeric, balance_amount = $6::numeric, updated_at = NOW()
			WHERE id = $1
			RETURNING `+orderColumns,
			id, string(o.Status), string(o.PaymentStatus), o.Received,
			o.AdvancePaid.String(), o.BalanceAmount.String(),
		)
		if updated, err = scanOrder(row); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE customer_orders
			SET status = $2, payment_status = $3, received = $4,
				advance_paid = $5::numeric, balance_amount = $6::numeric, updated_at = $7
			WHERE main_order_id = $1`,
			id, string(updated.Status), string(updated.PaymentStatus), updated.Received,
			updated.AdvancePaid.String(), updated.BalanceAmount.String(), updated.UpdatedAt,
		)
		return err
	})
	switch {
	case err == nil:
		return updated, nil
	case mutateErr != nil:
		return model.Order{}, mutateErr
	case errors.Is(err, pgx.ErrNoRows):
		return model.Order{}, store.ErrNotFound
	default:
		s.fail(ctx, span, "failed to update order", err)
		return model.Order{}, &store.WriteError{Op: "update order", Err: err}
	}
}

func (s *Store) DeleteOrder(ctx context.Context, id, customerID string) error {
	ctx, span := s.tracer.Start(ctx, "Store.DeleteOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("order_id", id),
		attribute.String("customer_id", customerID),
	)

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var removed int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM orders WHERE id = $1 AND customer_id = $2`, id, customerID)
		if err != nil {
			return err
		}
		removed += tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM customer_orders WHERE main_order_id = $1 AND customer_id = $2`, id, customerID)
		if err != nil {
			return err
		}
		removed += tag.RowsAffected()
		return nil
	})
	if err != nil {
		s.fail(ctx, span, "failed to delete order", err)
		return &store.WriteError{Op: "delete order", Err: err}
	}
	if removed == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (model.Customer, error) {
	ctx, span := s.tracer.Start(ctx, "Store.GetCustomer")
	defer span.End()
	span.SetAttributes(attribute.String("customer_id", id))

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	c, err := scanCustomer(s.pool.QueryRow(ctx, `
		SELECT `+customerColumns+`
		FROM customers WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Customer{}, store.ErrCustomerNotFound
	}
	if err != nil {
		s.fail(ctx, span, "failed to get customer", err)
		return model.Customer{}, &store.QueryError{Op: "get customer", Err: err}
	}
	return c, nil
}

func (s *Store) UpsertCustomer(ctx context.Context, c model.Customer) error {
	ctx, span := s.tracer.Start(ctx, "Store.UpsertCustomer")
	defer span.End()
	span.SetAttributes(attribute.String("customer_id", c.ID))

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO customers (id, username, balance, advance_paid, old_outstanding, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET username = EXCLUDED.username,
			balance = EXCLUDED.balance,
			advance_paid = EXCLUDED.advance_paid,
			old_outstanding = EXCLUDED.old_outstanding,
			updated_at = NOW()`,
		c.ID, c.Username, c.Balance.String(), c.AdvancePaid.String(), c.OldOutstanding.String(),
	)
	if err != nil {
		s.fail(ctx, span, "failed to upsert customer", err)
		return &store.WriteError{Op: "upsert customer", Err: err}
	}
	return nil
}

func (s *Store) AddAdvancePaid(ctx context.Context, customerID string, amount decimal.Decimal) (model.Customer, error) {
	ctx, span := s.tracer.Start(ctx, "Store.AddAdvancePaid")
	defer span.End()
	span.SetAttributes(
		attribute.String("customer_id", customerID),
		attribute.String("amount", amount.String()),
	)

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	c, err := scanCustomer(s.pool.QueryRow(ctx, `
		UPDATE customers
		SET advance_paid = advance_paid + $2::numeric, updated_at = NOW()
		WHERE id = $1
		RETURNING `+customerColumns,
		customerID, amount.String(),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Customer{}, store.ErrCustomerNotFound
	}
	if err != nil {
		s.fail(ctx, span, "failed to add advance paid", err)
		return model.Customer{}, &store.WriteError{Op: "add advance paid", Err: err}
	}
	return c, nil
}

func (s *Store) ApplyBalance(ctx context.Context, customerID, orderID string, amount decimal.Decimal) (decimal.Decimal, bool, error) {
	ctx, span := s.tracer.Start(ctx, "Store.ApplyBalance")
	defer span.End()
	span.SetAttributes(
		attribute.String("customer_id", customerID),
		attribute.String("order_id", orderID),
		attribute.String("amount", amount.String()),
	)

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var raw string
	var applied bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO balance_applications (order_id, customer_id, amount, applied_at)
			SELECT $1, id, $3::numeric, NOW() FROM customers WHERE id = $2
			ON CONFLICT (order_id) DO NOTHING`,
			orderID, customerID, amount.String(),
		)
		if err != nil {
			return err
		}

		if tag.RowsAffected() == 0 {
			return tx.QueryRow(ctx, `SELECT balance::text FROM customers WHERE id = $1`, customerID).Scan(&raw)
		}

		applied = true
		return tx.QueryRow(ctx, `
			UPDATE customers
			SET balance = balance + $2::numeric, updated_at = NOW()
			WHERE id = $1
			RETURNING balance::text`,
			customerID, amount.String(),
		).Scan(&raw)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, store.ErrCustomerNotFound
	}
	if err != nil {
		s.fail(ctx, span, "failed to apply balance", err)
		return decimal.Zero, false, &store.WriteError{Op: "apply balance", Err: err}
	}

	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, &store.QueryError{Op: "apply balance", Err: err}
	}
	span.SetAttributes(attribute.Bool("applied", applied))
	return balance, applied, nil
}

func (s *Store) UnappliedOrders(ctx context.Context, limit int) ([]model.Order, error) {
	ctx, span := s.tracer.Start(ctx, "Store.UnappliedOrders")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit))

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT `+columns("o.")+`
		FROM orders o
		LEFT JOIN balance_applications b ON b.order_id = o.id
		WHERE b.order_id IS NULL
		ORDER BY o.created_at ASC, o.id ASC
		LIMIT $1`, limit,
	)
	if err != nil {
		s.fail(ctx, span, "failed to query unapplied orders", err)
		return nil, &store.QueryError{Op: "unapplied orders", Err: err}
	}
	defer rows.Close()

	orders := make([]model.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, &store.QueryError{Op: "unapplied orders", Err: err}
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.QueryError{Op: "unapplied orders", Err: err}
	}
	return orders, nil
}

func (s *Store) fail(ctx context.Context, span trace.Span, msg string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	logger.Error(ctx, s.logger, msg, zap.Error(err))
}

const customerColumns = `id, username, balance::text, advance_paid::text, old_outstanding::text, created_at, updated_at`

func scanCustomer(row pgx.Row) (model.Customer, error) {
	var c model.Customer
	var balance, advance, outstanding string
	if err := row.Scan(&c.ID, &c.Username, &balance, &advance, &outstanding, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return model.Customer{}, err
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&c.Balance, balance}, {&c.AdvancePaid, advance}, {&c.OldOutstanding, outstanding}} {
		var err error
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return model.Customer{}, fmt.Errorf("parse customer amount: %w", err)
		}
	}
	return c, nil
}

func scanOrder(row pgx.Row) (model.Order, error) {
	var o model.Order
	var unit, total, advance, balance string
	if err := row.Scan(
		&o.ID, &o.CustomerID, &o.OrderedAt, &o.Quantity, &unit, &total,
		&o.Status, &o.PaymentStatus, &o.Received, &advance, &balance,
		&o.Notes, &o.PaymentMethod, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return model.Order{}, err
	}
	if err := parseMoney(&o, unit, total, advance, balance); err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func parseMoney(o *model.Order, unit, total, advance, balance string) error {
	var err error
	if o.UnitPrice, err = decimal.NewFromString(unit); err != nil {
		return fmt.Errorf("parse unit_price: %w", err)
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return fmt.Errorf("parse total_amount: %w", err)
	}
	if o.AdvancePaid, err = decimal.NewFromString(advance); err != nil {
		return fmt.Errorf("parse advance_paid: %w", err)
	}
	if o.BalanceAmount, err = decimal.NewFromString(balance); err != nil {
		return fmt.Errorf("parse balance_amount: %w", err)
	}
	return nil
}

// columns lists the order columns in scanOrder order, numerics cast to text.
func columns(alias string) string {
	cols := []string{
		"id", "customer_id", "ordered_at", "quantity", "unit_price::text", "total_amount::text",
		"status", "payment_status", "received", "advance_paid::text", "balance_amount::text",
		"notes", "payment_method", "created_at", "updated_at",
	}
	for i, c := range cols {
		cols[i] = alias + c
	}
	return strings.Join(cols, ", ")
}
