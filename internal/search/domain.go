// Package search implements the debounced live search shared by the
// client, supplier and product pickers.
package search

import "time"

// Kind tags the entity a field searches.
type Kind string

const (
	KindClient   Kind = "client"
	KindSupplier Kind = "supplier"
	KindProduct  Kind = "product"
)

// By selects the attribute matched by the search term.
type By string

const (
	ByName    By = "name"
	ByCode    By = "code"
	ByBarcode By = "barcode"
	ByTaxID   By = "tax_id"
)

const (
	// DefaultDelay is the debounce window between the last keystroke and the query.
	DefaultDelay = 500 * time.Millisecond
	// DefaultMinChars is the shortest debounced term that issues a query.
	DefaultMinChars = 2
	// PageSize is the number of results requested for inline search.
	PageSize = 10
)

// Filter is handed to the query function.
type Filter struct {
	Kind     Kind
	By       By
	Term     string
	Page     int
	PageSize int
}

// Offset returns the row offset for the filter's page.
func (f Filter) Offset() int {
	if f.Page <= 1 || f.PageSize <= 0 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

// State of a search field.
type State string

const (
	// StateIdle shows nothing: no input, input too short, or a result was selected.
	StateIdle State = "idle"
	// StateTyping means the live input differs from the debounced value and
	// the debounce timer is armed. Results are hidden.
	StateTyping State = "typing"
	// StateQuerying means a query for the debounced value is in flight.
	StateQuerying State = "querying"
	StateCompleted State = "completed"
	StateEmpty     State = "empty"
	StateError     State = "error"
)

// ValidKind reports whether k names a searchable entity.
func ValidKind(k Kind) bool {
	switch k {
	case KindClient, KindSupplier, KindProduct:
		return true
	}
	return false
}
