package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/composer"
	"github.com/odyssey-erp/backoffice/internal/search"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Repository provides PostgreSQL backed catalog lookups.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SearchClients lists active clients matching filter.
func (r *Repository) SearchClients(ctx context.Context, filter search.Filter) ([]Party, error) {
	return r.searchParties(ctx, "clients", search.KindClient, filter)
}

// SearchSuppliers lists active suppliers matching filter.
func (r *Repository) SearchSuppliers(ctx context.Context, filter search.Filter) ([]Party, error) {
	return r.searchParties(ctx, "suppliers", search.KindSupplier, filter)
}

func (r *Repository) searchParties(ctx context.Context, table string, kind search.Kind, filter search.Filter) ([]Party, error) {
	col, err := Column(kind, filter.By)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(`SELECT id, code, name, tax_id FROM %s
WHERE is_active AND %s ILIKE $1
ORDER BY name, id
LIMIT $2 OFFSET $3`, table, col)

	rows, err := r.pool.Query(ctx, sql, pattern(filter.Term), limit(filter), filter.Offset())
	if err != nil {
		return nil, fmt.Errorf("catalog: search %s: %w", table, err)
	}
	defer rows.Close()

	var out []Party
	for rows.Next() {
		var p Party
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.TaxID); err != nil {
			return nil, fmt.Errorf("catalog: scan %s: %w", table, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetClient loads one client.
func (r *Repository) GetClient(ctx context.Context, id int64) (Party, error) {
	return r.getParty(ctx, "clients", id)
}

// GetSupplier loads one supplier.
func (r *Repository) GetSupplier(ctx context.Context, id int64) (Party, error) {
	return r.getParty(ctx, "suppliers", id)
}

func (r *Repository) getParty(ctx context.Context, table string, id int64) (Party, error) {
	var p Party
	sql := fmt.Sprintf(`SELECT id, code, name, tax_id FROM %s WHERE id = $1 AND is_active`, table)
	err := r.pool.QueryRow(ctx, sql, id).Scan(&p.ID, &p.Code, &p.Name, &p.TaxID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Party{}, shared.ErrNotFound
	}
	if err != nil {
		return Party{}, fmt.Errorf("catalog: get %s %d: %w", table, id, err)
	}
	return p, nil
}

const productColumns = `id, name, price::text, stock::text, available_stock::text, internal_code, barcode, image_url`

// SearchProducts lists active products matching filter.
func (r *Repository) SearchProducts(ctx context.Context, filter search.Filter) ([]composer.CatalogProduct, error) {
	col, err := Column(search.KindProduct, filter.By)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(`SELECT %s FROM products
WHERE is_active AND %s ILIKE $1
ORDER BY name, id
LIMIT $2 OFFSET $3`, productColumns, col)

	rows, err := r.pool.Query(ctx, sql, pattern(filter.Term), limit(filter), filter.Offset())
	if err != nil {
		return nil, fmt.Errorf("catalog: search products: %w", err)
	}
	defer rows.Close()

	var out []composer.CatalogProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProduct loads one active product.
func (r *Repository) GetProduct(ctx context.Context, id int64) (composer.CatalogProduct, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 AND is_active`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return composer.CatalogProduct{}, shared.ErrNotFound
	}
	return p, err
}

func scanProduct(row pgx.Row) (composer.CatalogProduct, error) {
	var (
		p                     composer.CatalogProduct
		price                 string
		stock, availableStock *string
	)
	if err := row.Scan(&p.ID, &p.Name, &price, &stock, &availableStock, &p.InternalCode, &p.Barcode, &p.ImageURL); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("catalog: scan product: %w", err)
	}
	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return p, fmt.Errorf("catalog: product %d price: %w", p.ID, err)
	}
	if p.Stock, err = parseOptional(stock); err != nil {
		return p, fmt.Errorf("catalog: product %d stock: %w", p.ID, err)
	}
	if p.AvailableStock, err = parseOptional(availableStock); err != nil {
		return p, fmt.Errorf("catalog: product %d available stock: %w", p.ID, err)
	}
	return p, nil
}

func parseOptional(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func limit(filter search.Filter) int {
	if filter.PageSize <= 0 {
		return search.PageSize
	}
	return filter.PageSize
}
