package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilitiesHas(t *testing.T) {
	caps := NewCapabilities(PermOrderRequestCreate, " ", PermPricingOverride)
	assert.True(t, caps.Has(PermOrderRequestCreate))
	assert.True(t, caps.Has(PermPricingOverride))
	assert.False(t, caps.Has(PermPurchaseCreate))
	assert.True(t, caps.Has(""))
	assert.Len(t, caps, 2)
}

func TestCapabilitiesWildcard(t *testing.T) {
	caps := NewCapabilities("*")
	for _, perm := range OrderScopes() {
		assert.True(t, caps.Has(perm))
	}
}

func TestCapabilitiesList(t *testing.T) {
	caps := NewCapabilities(PermPurchaseEdit, PermOrderRequestCreate)
	assert.Equal(t, []string{PermOrderRequestCreate, PermPurchaseEdit}, caps.List())
}

func TestNilCapabilitiesDenies(t *testing.T) {
	var caps Capabilities
	assert.False(t, caps.Has(PermPurchaseCreate))
}
