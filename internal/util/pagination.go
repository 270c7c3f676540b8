package util

import (
	"math"
	"strconv"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	// MaxPage keeps (page-1)*size inside an int32 offset.
	MaxPage = math.MaxInt32 / MaxPageSize
)

// Normalize clamps a 1-based page and a page size into the accepted range.
// A missing size falls back to the default, an oversized one is capped.
func Normalize(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

// Calculate turns a page and a page size into an offset and limit.
func Calculate(page, size int) (from, limit int) {
	page, size = Normalize(page, size)
	return (page - 1) * size, size
}

// ParsePage reads page and size query values; anything unparsable is treated
// as missing.
func ParsePage(pageRaw, sizeRaw string) (page, size int) {
	page, _ = strconv.Atoi(pageRaw)
	size, _ = strconv.Atoi(sizeRaw)
	return Normalize(page, size)
}
