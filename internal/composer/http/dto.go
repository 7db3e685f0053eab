package composerhttp

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/catalog"
	"github.com/odyssey-erp/backoffice/internal/composer"
	"github.com/odyssey-erp/backoffice/internal/search"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

type openRequest struct {
	Flow    string `json:"flow" validate:"required,oneof=order_request purchase"`
	OrderID *int64 `json:"order_id" validate:"omitempty,gt=0"`
}

type counterpartyRequest struct {
	ID int64 `json:"id" validate:"required,gt=0"`
}

type addLineRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
}

// Decimal fields are range-checked by the composer.
type updateLineRequest struct {
	Quantity           *decimal.Decimal `json:"quantity"`
	Weight             *decimal.Decimal `json:"weight"`
	UnitPrice          *decimal.Decimal `json:"unit_price"`
	DiscountPercentage *decimal.Decimal `json:"discount_percentage"`
}

type searchRequest struct {
	Text string `json:"text" validate:"max=120"`
	By   string `json:"by" validate:"omitempty,oneof=name code barcode tax_id"`
}

type selectRequest struct {
	ID int64 `json:"id" validate:"required,gt=0"`
}

type closeRequest struct {
	Confirm bool `json:"confirm"`
}

type sessionResponse struct {
	ID           string            `json:"id"`
	Composition  composer.Snapshot `json:"composition"`
	TotalDisplay string            `json:"total_display"`
	Notices      []shared.Notice   `json:"notices,omitempty"`
}

type searchResponse struct {
	Counterparties *search.View[catalog.Party]           `json:"counterparties,omitempty"`
	Products       *search.View[composer.CatalogProduct] `json:"products,omitempty"`
	Notices        []shared.Notice                       `json:"notices,omitempty"`
}

type submitResponse struct {
	Order        composer.PersistedOrder `json:"order"`
	TotalDisplay string                  `json:"total_display"`
}
