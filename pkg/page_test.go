package pkg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPaginate(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}

	require.Equal(t, []string{"a", "b"}, Paginate(items, 0, 2))
	require.Equal(t, []string{"e"}, Paginate(items, 2, 2))
	require.Empty(t, Paginate(items, 3, 2))
	require.Empty(t, Paginate(items, -1, 2))
	require.Empty(t, Paginate(items, 0, 0))
}

func TestPageSize(t *testing.T) {
	require.Equal(t, 100, PageSize(0, 100, 1000))
	require.Equal(t, 100, PageSize(-3, 100, 1000))
	require.Equal(t, 7, PageSize(7, 100, 1000))
	require.Equal(t, 1000, PageSize(5000, 100, 1000))
}
