package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderCarriesMetadata(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := New(cause).
		Component("datastore").
		Category(CategoryDatabase).
		Context("operation", "save").
		Build()

	assert.Equal(t, "boom", err.Error())
	assert.Equal(t, "datastore", err.Component)
	assert.Equal(t, CategoryDatabase, err.Category)
	assert.Equal(t, "save", err.Context["operation"])
	assert.ErrorIs(t, err, cause)
}

func TestBuilderDefaults(t *testing.T) {
	err := Newf("plain %s", "failure").Build()
	assert.Equal(t, ComponentUnknown, err.Component)
	assert.Equal(t, CategoryGeneric, err.Category)
	assert.Equal(t, "plain failure", err.Error())
}

func TestIsMatchesByCategory(t *testing.T) {
	a := Newf("a").Category(CategoryNotFound).Build()
	b := Newf("b").Category(CategoryNotFound).Build()
	c := Newf("c").Category(CategoryConflict).Build()

	assert.True(t, Is(a, b))
	assert.False(t, Is(a, c))
}

func TestHasCategoryWalksChain(t *testing.T) {
	inner := Newf("inner").Category(CategoryValidation).Build()
	wrapped := fmt.Errorf("outer: %w", inner)

	assert.True(t, HasCategory(wrapped, CategoryValidation))
	assert.False(t, HasCategory(wrapped, CategoryDatabase))
}

func TestGetContextReturnsCopy(t *testing.T) {
	err := Newf("x").Context("k", "v").Build()
	ctx := err.GetContext()
	require.NotNil(t, ctx)
	ctx["k"] = "mutated"
	assert.Equal(t, "v", err.Context["k"])
}
