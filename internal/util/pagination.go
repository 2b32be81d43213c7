package util

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// Envelope is the limit/offset list response shape.
type Envelope[T any] struct {
	Data   []T   `json:"data"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// ClampLimitOffset applies the default and maximum page size. Negative
// offsets become zero.
func ClampLimitOffset(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
