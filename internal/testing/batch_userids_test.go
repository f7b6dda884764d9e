package testing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatchUserIDs(t *testing.T) {
	userIDs := []int64{0, 1, 2, 3, 4, 5}
	batches := BatchUserIDs(userIDs)
	require.Equal(t, [][]int64{{0, 1}, {0, 2}, {0, 3}, {0, 4}, {0, 5}}, batches)
}

func TestReverseIDs(t *testing.T) {
	ids := []int64{1, 2, 3, 4}
	require.Equal(t, []int64{4, 3, 2, 1}, ReverseIDs(ids))
	require.Equal(t, []int64{1, 2, 3, 4}, ids)
}
