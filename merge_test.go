package mapsheet

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPartitionSheet builds a 16x16, 1m-spacing sheet backed by its own
// temp directory, matching §5's "partition the survey into disjoint
// MapSheets" setup.
func newPartitionSheet(t *testing.T) (*MapSheet, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "mapsheet-partition-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	ms, err := NewDirectBacked(16, 16, 0, 0, 1, 1, 4, 4, nil, DefaultParams(), dir)
	require.NoError(t, err)
	require.NoError(t, ms.AddDepthSurface(AlgoHypothesis))
	return ms, dir
}

func TestMergeDisjointSheets_CombinesNonOverlappingTiles(t *testing.T) {
	left, leftDir := newPartitionSheet(t)
	right, rightDir := newPartitionSheet(t)

	// left touches the west half (tile column 0), right the east half
	// (tile column 2+), so their resident tile sets never collide.
	require.NoError(t, left.Update(Sounding{East: 1, North: 1, Depth: 10.0, Variance: 1.0, Footprint: singleNodeFootprint}))
	require.NoError(t, left.Save(leftDir))
	left.Release()

	require.NoError(t, right.Update(Sounding{East: 13, North: 13, Depth: 20.0, Variance: 1.0, Footprint: singleNodeFootprint}))
	require.NoError(t, right.Save(rightDir))
	right.Release()

	destDir, err := os.MkdirTemp("", "mapsheet-merged-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(destDir) })

	err = MergeDisjointSheets(context.Background(), []string{leftDir, rightDir}, destDir, 2)
	require.NoError(t, err)

	merged, err := Load(destDir)
	require.NoError(t, err)
	t.Cleanup(merged.Release)

	res, err := merged.Disambiguate(1, 1)
	require.NoError(t, err)
	require.True(t, res.Ok)
	assert.InDelta(t, 10.0, res.Z, 1e-9)

	res, err = merged.Disambiguate(13, 13)
	require.NoError(t, err)
	require.True(t, res.Ok)
	assert.InDelta(t, 20.0, res.Z, 1e-9)
}

func TestMergeDisjointSheets_RejectsEmptySourceList(t *testing.T) {
	destDir, err := os.MkdirTemp("", "mapsheet-merge-empty-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(destDir) })

	err = MergeDisjointSheets(context.Background(), nil, destDir, 1)
	assert.ErrorIs(t, err, ErrConfiguration)
}
