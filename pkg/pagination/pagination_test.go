package pagination

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name       string
		page, size int
		wantPage   int
		wantSize   int
		wantOffset int
	}{
		{"defaults", 0, 0, 1, 20, 0},
		{"second page", 2, 10, 2, 10, 10},
		{"size capped", 1, 500, 1, 100, 0},
		{"negative page", -3, 5, 1, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Normalize(tt.page, tt.size)
			assert.Equal(t, tt.wantPage, p.Page)
			assert.Equal(t, tt.wantSize, p.PageSize)
			assert.Equal(t, tt.wantOffset, p.Offset())
		})
	}
}

func TestParse(t *testing.T) {
	p, err := Parse("", "")
	require.NoError(t, err)
	assert.Equal(t, Params{Page: 1, PageSize: 20}, p)

	p, err = Parse("3", "50")
	require.NoError(t, err)
	assert.Equal(t, 100, p.Offset())

	_, err = Parse("abc", "")
	assert.Error(t, err)

	_, err = Parse("1", "x")
	assert.Error(t, err)
}

func TestParse_PageOverflow(t *testing.T) {
	_, err := Parse("922337203685477581", "")
	assert.ErrorIs(t, err, ErrPageOutOfRange)

	_, err = Parse(strconv.Itoa(math.MaxInt), "100")
	assert.ErrorIs(t, err, ErrPageOutOfRange)

	// the last addressable page still leaves room for the look-ahead row
	last := (math.MaxInt-21)/20 + 1
	p, err := Parse(strconv.Itoa(last), "20")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.Offset(), 0)
	assert.LessOrEqual(t, p.Offset(), math.MaxInt-21)

	_, err = Parse(strconv.Itoa(last+1), "20")
	assert.ErrorIs(t, err, ErrPageOutOfRange)
}
