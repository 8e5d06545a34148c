package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserve(t *testing.T) {
	tests := []struct {
		name    string
		in      Stock
		qty     int
		want    Stock
		errKind Kind
	}{
		{name: "partial", in: Stock{3, BookActive}, qty: 2, want: Stock{1, BookActive}},
		{name: "last units", in: Stock{2, BookActive}, qty: 2, want: Stock{0, BookSold}},
		{name: "short", in: Stock{1, BookActive}, qty: 2, want: Stock{1, BookActive}, errKind: KindOutOfStock},
		{name: "sold", in: Stock{0, BookSold}, qty: 1, want: Stock{0, BookSold}, errKind: KindNotFound},
		{name: "removed", in: Stock{4, BookRemoved}, qty: 1, want: Stock{4, BookRemoved}, errKind: KindNotFound},
		{name: "zero qty", in: Stock{4, BookActive}, qty: 0, want: Stock{4, BookActive}, errKind: KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Reserve(tt.in, tt.qty)
			assert.Equal(t, tt.want, got)
			if tt.errKind == "" {
				require.NoError(t, err)
				return
			}
			assert.Equal(t, tt.errKind, KindOf(err))
		})
	}
}

func TestRelease(t *testing.T) {
	assert.Equal(t, Stock{3, BookActive}, Release(Stock{0, BookSold}, 3))
	assert.Equal(t, Stock{5, BookActive}, Release(Stock{4, BookRemoved}, 1))
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	start := Stock{5, BookActive}
	held, err := Reserve(start, 5)
	require.NoError(t, err)
	assert.Equal(t, start, Release(held, 5))
}
