package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSort(t *testing.T) {
	for in, want := range map[string]Sort{"": SortName, "name": SortName, "newest": SortNewest, "popular": SortPopular} {
		got, err := ParseSort(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseSort("price")
	assert.Error(t, err)
}

func TestInStock(t *testing.T) {
	assert.True(t, Product{Available: true, StockQuantity: 1}.InStock())
	assert.False(t, Product{Available: false, StockQuantity: 5}.InStock())
	assert.False(t, Product{Available: true}.InStock())
}
