package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextIDMonotonic(t *testing.T) {
	Init(1)

	ids := make(map[int64]struct{}, 1000)
	var prev int64
	for i := 0; i < 1000; i++ {
		id := NextID()
		require.Greater(t, id, prev)
		_, dup := ids[id]
		require.False(t, dup)
		ids[id] = struct{}{}
		prev = id
	}
}

func TestBusinessNoPrefixes(t *testing.T) {
	allocNo := GenerateAllocationNo()
	require.True(t, strings.HasPrefix(allocNo, "ALC"))
	require.Len(t, allocNo, 3+14+8)

	revNo := GenerateRevisionNo()
	require.True(t, strings.HasPrefix(revNo, "REV"))
	require.Len(t, revNo, 3+14+8)

	trfNo := GenerateTransferNo()
	require.True(t, strings.HasPrefix(trfNo, "TRF"))
	require.Len(t, trfNo, 3+14+8)

	require.NotEqual(t, GenerateAllocationNo(), GenerateAllocationNo())
}
