// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
//
// Example:
//
//	n := utils.AtoiDefault("42", 0) // returns 42
//	n = utils.AtoiDefault("", 10)   // returns 10
//	n = utils.AtoiDefault("x", 5)   // returns 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Page size bounds shared by paginated list endpoints.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ClampPage parses raw page and page_size query values and bounds them:
// page defaults to 1 and is at least 1; size defaults to DefaultPageSize
// and lies in [1, MaxPageSize].
func ClampPage(pageRaw, sizeRaw string) (page, size int) {
	page = AtoiDefault(pageRaw, 1)
	if page < 1 {
		page = 1
	}
	size = AtoiDefault(sizeRaw, DefaultPageSize)
	if size < 1 {
		size = 1
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

// TotalPages returns how many pages of size hold total items.
func TotalPages(total int64, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}
