package mapsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapSheet_AnalyseSheetFindsContiguousRegion(t *testing.T) {
	ms := newTestSheet(t, DefaultParams())

	// Two soundings each, at three adjacent nodes, give every touched
	// node a hypothesis count of 1 after folding into the same
	// hypothesis; a lone node elsewhere gets only one sounding.
	dense := [][2]float64{{3, 3}, {4, 3}, {5, 3}}
	for _, xy := range dense {
		require.NoError(t, ms.Update(Sounding{East: xy[0], North: xy[1], Depth: 10.0, Variance: 1.0, Footprint: singleNodeFootprint}))
		require.NoError(t, ms.Update(Sounding{East: xy[0], North: xy[1], Depth: 10.0, Variance: 1.0, Footprint: singleNodeFootprint}))
	}
	require.NoError(t, ms.Update(Sounding{East: 9, North: 9, Depth: 50.0, Variance: 1.0, Footprint: singleNodeFootprint}))
	require.NoError(t, ms.Flush())

	aois, err := ms.AnalyseSheet(1)
	require.NoError(t, err)
	require.NotEmpty(t, aois)

	var found bool
	for _, a := range aois {
		if a.MinRow == 3 && a.MaxRow == 3 && a.MinCol == 3 && a.MaxCol == 5 {
			found = true
			assert.InDelta(t, 10.0, a.MeanDepth, 1e-9)
			assert.InDelta(t, 10.0, a.ShoalestDepth, 1e-9)
		}
	}
	assert.True(t, found, "expected a 3-wide AOI spanning cols 3-5 at row 3")
}

func TestMapSheet_AnalyseSheetThresholdExcludesSingleHitNodes(t *testing.T) {
	ms := newTestSheet(t, DefaultParams())

	require.NoError(t, ms.Update(Sounding{East: 1, North: 1, Depth: 10.0, Variance: 1.0, Footprint: singleNodeFootprint}))
	require.NoError(t, ms.Flush())

	aois, err := ms.AnalyseSheet(2)
	require.NoError(t, err)
	assert.Empty(t, aois)
}
