package pagination

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"callsignal-backend/pkg/constants"
)

// Params represents normalized page-based pagination
type Params struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// ErrPageOutOfRange is returned for a page whose offset does not fit in an int
var ErrPageOutOfRange = errors.New("page parameter out of range")

// Offset returns the number of rows to skip
func (p Params) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Validate reports whether the page is addressable. Stores read one row past
// the page, so offset plus page size plus one must not overflow.
func (p Params) Validate() error {
	if p.PageSize <= 0 {
		return fmt.Errorf("invalid page_size parameter: %d", p.PageSize)
	}
	if p.Page < 1 || p.Page-1 > (math.MaxInt-p.PageSize-1)/p.PageSize {
		return ErrPageOutOfRange
	}
	return nil
}

// Normalize clamps page and page size into their valid ranges.
// A non-positive page size falls back to the default.
func Normalize(page, pageSize int) Params {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize <= 0:
		pageSize = constants.DefaultPageSize
	case pageSize > constants.MaxPageSize:
		pageSize = constants.MaxPageSize
	}
	return Params{Page: page, PageSize: pageSize}
}

// Parse reads page and page_size query values. Empty strings take defaults.
func Parse(pageStr, pageSizeStr string) (Params, error) {
	page, pageSize := 1, 0

	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil {
			return Params{}, fmt.Errorf("invalid page parameter: %w", err)
		}
		page = p
	}

	if pageSizeStr != "" {
		l, err := strconv.Atoi(pageSizeStr)
		if err != nil {
			return Params{}, fmt.Errorf("invalid page_size parameter: %w", err)
		}
		pageSize = l
	}

	p := Normalize(page, pageSize)
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}
