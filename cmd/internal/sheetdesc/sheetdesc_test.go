package sheetdesc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ProjectionAndCenterSheet(t *testing.T) {
	src := `
# a comment is skipped
projection
  type UTM
  origin 153.0 degrees -27.0 degrees
sheet
  location 500000 meters 7000000 meters 1000 meters 1000 meters
  spacing 1 meters 1 meters
  backstore /tmp/sheet
`
	desc, err := Parse(strings.NewReader(src))
	require.NoError(t, err)

	assert.Equal(t, "utm", desc.Projection.Type)
	assert.InDelta(t, 153.0, desc.Projection.Origin[0], 1e-9)
	assert.InDelta(t, -27.0, desc.Projection.Origin[1], 1e-9)

	require.True(t, desc.Sheet.HasCenter)
	assert.Equal(t, [2]float64{500000, 7000000}, desc.Sheet.Center)
	assert.Equal(t, 1000.0, desc.Sheet.Width)
	assert.Equal(t, "/tmp/sheet", desc.Sheet.Backstore)
}

func TestParse_BoundsSheetWithKilometers(t *testing.T) {
	src := `
sheet
  bounds 0 kilometers 0 kilometers 10 kilometers 10 kilometers
  spacing 10 meters 10 meters
`
	desc, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.True(t, desc.Sheet.HasBounds)
	assert.Equal(t, [2]float64{0, 0}, desc.Sheet.SW)
	assert.Equal(t, [2]float64{10000, 10000}, desc.Sheet.NE)
}

func TestUnit_ToMetersApproximation(t *testing.T) {
	assert.InDelta(t, 111120.0, UnitDegrees.ToMeters(1), 1e-6)
	assert.InDelta(t, 1852.0, UnitMinutes.ToMeters(1), 1e-6)
	assert.Equal(t, 1000.0, UnitKilometers.ToMeters(1))
}

func TestParse_UnexpectedKeywordIsError(t *testing.T) {
	_, err := Parse(strings.NewReader("garbage 1 2 3"))
	assert.Error(t, err)
}
