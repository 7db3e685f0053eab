// Package catalog reads clients, suppliers and products for composer searches.
package catalog

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/backoffice/internal/search"
)

// ErrUnsupportedFilter is returned when a search field cannot be filtered by the requested column.
var ErrUnsupportedFilter = errors.New("catalog: unsupported search filter")

// Party is a client or supplier as listed by search.
type Party struct {
	ID    int64   `json:"id"`
	Code  string  `json:"code"`
	Name  string  `json:"name"`
	TaxID *string `json:"tax_id,omitempty"`
}

var columns = map[search.Kind]map[search.By]string{
	search.KindClient: {
		search.ByName:  "name",
		search.ByCode:  "code",
		search.ByTaxID: "tax_id",
	},
	search.KindSupplier: {
		search.ByName:  "name",
		search.ByCode:  "code",
		search.ByTaxID: "tax_id",
	},
	search.KindProduct: {
		search.ByName:    "name",
		search.ByCode:    "internal_code",
		search.ByBarcode: "barcode",
	},
}

// Column returns the column filtered for by on kind.
func Column(kind search.Kind, by search.By) (string, error) {
	col, ok := columns[kind][by]
	if !ok {
		return "", fmt.Errorf("%w: %s by %s", ErrUnsupportedFilter, kind, by)
	}
	return col, nil
}

// Supports reports whether kind can be searched by by.
func Supports(kind search.Kind, by search.By) bool {
	_, err := Column(kind, by)
	return err == nil
}

// pattern builds an ILIKE pattern matching term anywhere, escaping wildcards.
func pattern(term string) string {
	out := make([]rune, 0, len(term)+2)
	out = append(out, '%')
	for _, r := range term {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(append(out, '%'))
}
