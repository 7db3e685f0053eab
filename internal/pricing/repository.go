package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository reads discount offers from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository backed by pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const bestDiscountQuery = `SELECT id, percentage::text, minimum_quantity::text
FROM discounts
WHERE product_id = $1
  AND counterparty_kind = $2
  AND counterparty_id = $3
  AND is_active
  AND (valid_from IS NULL OR valid_from <= now())
  AND (valid_until IS NULL OR valid_until >= now())
ORDER BY percentage DESC, minimum_quantity ASC NULLS FIRST, id ASC
LIMIT 1`

// BestDiscount implements Source. A nil offer means no discount applies.
func (r *Repository) BestDiscount(ctx context.Context, q Query) (*Offer, error) {
	var (
		id         int64
		percentage string
		minimum    *string
	)
	err := r.pool.QueryRow(ctx, bestDiscountQuery, q.ProductID, q.CounterpartyKind, q.CounterpartyID).
		Scan(&id, &percentage, &minimum)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pricing: best discount: %w", err)
	}
	return parseOffer(id, percentage, minimum)
}

func parseOffer(id int64, percentage string, minimum *string) (*Offer, error) {
	pct, err := decimal.NewFromString(percentage)
	if err != nil {
		return nil, fmt.Errorf("pricing: parse percentage %q: %w", percentage, err)
	}
	if !PercentageInRange(pct) {
		return nil, fmt.Errorf("pricing: percentage %s out of range", pct)
	}
	offer := &Offer{ID: id, Percentage: pct}
	if minimum != nil {
		minQty, err := decimal.NewFromString(*minimum)
		if err != nil {
			return nil, fmt.Errorf("pricing: parse minimum quantity %q: %w", *minimum, err)
		}
		offer.MinimumQuantity = &minQty
	}
	return offer, nil
}
