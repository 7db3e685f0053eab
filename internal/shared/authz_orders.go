package shared

import "strings"

// Order composition permissions.
const (
	PermOrderRequestCreate = "orders.request.create"
	PermOrderRequestEdit   = "orders.request.edit"
	PermPurchaseCreate     = "purchases.create"
	PermPurchaseEdit       = "purchases.edit"
	PermPricingOverride    = "pricing.override"
)

// OrderScopes lists all permissions related to order composition.
func OrderScopes() []string {
	return []string{
		PermOrderRequestCreate,
		PermOrderRequestEdit,
		PermPurchaseCreate,
		PermPurchaseEdit,
		PermPricingOverride,
	}
}

// Capabilities is the set of permissions granted to the current operator.
// It is handed to the composer as configuration.
type Capabilities map[string]struct{}

// NewCapabilities builds a set from permission names; blanks are ignored.
func NewCapabilities(perms ...string) Capabilities {
	caps := make(Capabilities, len(perms))
	for _, perm := range perms {
		perm = strings.TrimSpace(perm)
		if perm == "" {
			continue
		}
		caps[perm] = struct{}{}
	}
	return caps
}

// Has reports whether perm is granted. "*" grants everything.
func (c Capabilities) Has(perm string) bool {
	if perm == "" {
		return true
	}
	if _, ok := c["*"]; ok {
		return true
	}
	_, ok := c[perm]
	return ok
}

// List returns the granted permissions in OrderScopes order, then any others.
func (c Capabilities) List() []string {
	out := make([]string, 0, len(c))
	seen := make(map[string]bool, len(c))
	for _, perm := range OrderScopes() {
		if _, ok := c[perm]; ok {
			out = append(out, perm)
			seen[perm] = true
		}
	}
	for perm := range c {
		if !seen[perm] {
			out = append(out, perm)
		}
	}
	return out
}
