package pkg

// Paginate returns the page-th slice of pageSize items, pages counted from 0.
func Paginate[T any](items []T, page int, pageSize int) []T {
	if page < 0 || pageSize <= 0 {
		return []T{}
	}
	start := page * pageSize
	if start >= len(items) {
		return []T{}
	}
	return items[start:min(start+pageSize, len(items))]
}

// PageSize clamps a requested page size; zero or less selects def.
func PageSize(requested, def, limit int) int {
	if requested <= 0 {
		return def
	}
	return min(requested, limit)
}
