package sliceutils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRemoveDuplicates(t *testing.T) {
	in := []string{"localhost", "db1", "localhost", "127.0.0.1", "db1"}

	require.Equal(t, []string{"localhost", "db1", "127.0.0.1"}, RemoveDuplicates(in))
	require.Len(t, in, 5)
	require.Empty(t, RemoveDuplicates([]int(nil)))
}
