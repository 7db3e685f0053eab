package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/composer"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Repository provides PostgreSQL backed persistence for composed orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	NextSequence(ctx context.Context, flow composer.FlowKind) (int64, error)
	ProductPrices(ctx context.Context, ids []int64) (map[int64]decimal.Decimal, error)
	InsertOrder(ctx context.Context, flow composer.FlowKind, h Header) (int64, error)
	UpdateOrder(ctx context.Context, flow composer.FlowKind, h Header) error
	DeleteLines(ctx context.Context, flow composer.FlowKind, orderID int64) error
	InsertLine(ctx context.Context, flow composer.FlowKind, orderID int64, line LineRecord) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps fn in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (t *txRepo) NextSequence(ctx context.Context, flow composer.FlowKind) (int64, error) {
	tbl, err := tablesFor(flow)
	if err != nil {
		return 0, err
	}
	var seq int64
	err = t.tx.QueryRow(ctx, fmt.Sprintf(`SELECT nextval('%s_number_seq')`, tbl.orders)).Scan(&seq)
	return seq, err
}

func (t *txRepo) ProductPrices(ctx context.Context, ids []int64) (map[int64]decimal.Decimal, error) {
	out := make(map[int64]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := t.tx.Query(ctx, `SELECT id, price::text FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id    int64
			price string
		)
		if err := rows.Scan(&id, &price); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("orders: product %d price: %w", id, err)
		}
		out[id] = d
	}
	return out, rows.Err()
}

func (t *txRepo) InsertOrder(ctx context.Context, flow composer.FlowKind, h Header) (int64, error) {
	tbl, err := tablesFor(flow)
	if err != nil {
		return 0, err
	}
	sql := fmt.Sprintf(`INSERT INTO %s (number, %s, total, created_at, updated_at)
VALUES ($1, $2, $3::numeric, NOW(), NOW()) RETURNING id`, tbl.orders, tbl.counterparty)
	var id int64
	err = t.tx.QueryRow(ctx, sql, h.Number, h.CounterpartyID, h.Total.String()).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateOrder(ctx context.Context, flow composer.FlowKind, h Header) error {
	tbl, err := tablesFor(flow)
	if err != nil {
		return err
	}
	sql := fmt.Sprintf(`UPDATE %s SET %s = $2, total = $3::numeric, updated_at = NOW() WHERE id = $1`, tbl.orders, tbl.counterparty)
	tag, err := t.tx.Exec(ctx, sql, h.ID, h.CounterpartyID, h.Total.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) DeleteLines(ctx context.Context, flow composer.FlowKind, orderID int64) error {
	tbl, err := tablesFor(flow)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE order_id = $1`, tbl.lines), orderID)
	return err
}

func (t *txRepo) InsertLine(ctx context.Context, flow composer.FlowKind, orderID int64, line LineRecord) error {
	tbl, err := tablesFor(flow)
	if err != nil {
		return err
	}
	var weight *string
	if line.Weight != nil {
		w := line.Weight.String()
		weight = &w
	}
	sql := fmt.Sprintf(`INSERT INTO %s
(order_id, product_id, quantity, weight, unit_price, discount_percent, discount_amount, line_total, line_order)
VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9)`, tbl.lines)
	_, err = t.tx.Exec(ctx, sql, orderID, line.ProductID, line.Quantity.String(), weight,
		line.UnitPrice.String(), line.DiscountPercent.String(), line.DiscountAmount.String(),
		line.LineTotal.String(), line.LineOrder)
	return err
}

func (t *txRepo) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return shared.NewAuditLogger(t.tx).Record(ctx, log)
}

// Load returns an order with its lines for edit seeding.
func (r *Repository) Load(ctx context.Context, flow composer.FlowKind, id int64) (composer.PersistedOrder, error) {
	tbl, err := tablesFor(flow)
	if err != nil {
		return composer.PersistedOrder{}, err
	}
	order := composer.PersistedOrder{Flow: flow}
	var total string
	header := fmt.Sprintf(`SELECT o.id, o.number, c.id, c.name, o.total::text
FROM %s o JOIN %s c ON c.id = o.%s
WHERE o.id = $1`, tbl.orders, tbl.counterpartyTable, tbl.counterparty)
	err = r.pool.QueryRow(ctx, header, id).Scan(&order.ID, &order.Number, &order.Counterparty.ID, &order.Counterparty.Name, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return composer.PersistedOrder{}, fmt.Errorf("%s %d: %w", flow, id, shared.ErrNotFound)
	}
	if err != nil {
		return composer.PersistedOrder{}, fmt.Errorf("orders: load %s %d: %w", flow, id, err)
	}
	order.Counterparty.Kind = composer.CounterpartyClient
	if flow == composer.FlowPurchase {
		order.Counterparty.Kind = composer.CounterpartySupplier
	}
	if order.Total, err = decimal.NewFromString(total); err != nil {
		return composer.PersistedOrder{}, fmt.Errorf("orders: %s %d total: %w", flow, id, err)
	}

	lines := fmt.Sprintf(`SELECT l.product_id, p.name, p.image_url, l.quantity::text, COALESCE(l.weight, 0)::text,
       l.unit_price::text, l.discount_percent::text, p.available_stock::text
FROM %s l JOIN products p ON p.id = l.product_id
WHERE l.order_id = $1
ORDER BY l.line_order, l.product_id`, tbl.lines)
	rows, err := r.pool.Query(ctx, lines, id)
	if err != nil {
		return composer.PersistedOrder{}, fmt.Errorf("orders: load lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			line                              composer.PersistedLine
			quantity, weight, price, discount string
			availableStock                    *string
		)
		if err := rows.Scan(&line.ProductID, &line.Name, &line.ImageURL, &quantity, &weight, &price, &discount, &availableStock); err != nil {
			return composer.PersistedOrder{}, fmt.Errorf("orders: scan line: %w", err)
		}
		if line.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return composer.PersistedOrder{}, err
		}
		if line.Weight, err = decimal.NewFromString(weight); err != nil {
			return composer.PersistedOrder{}, err
		}
		if line.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return composer.PersistedOrder{}, err
		}
		if line.Discount, err = decimal.NewFromString(discount); err != nil {
			return composer.PersistedOrder{}, err
		}
		if availableStock != nil {
			stock, err := decimal.NewFromString(*availableStock)
			if err != nil {
				return composer.PersistedOrder{}, err
			}
			line.AvailableStock = &stock
		}
		order.Lines = append(order.Lines, line)
	}
	return order, rows.Err()
}
