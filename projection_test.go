package mapsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUTM_RejectsOutOfRangeZone(t *testing.T) {
	_, err := NewUTM(0, false)
	assert.Error(t, err)
	_, err = NewUTM(61, false)
	assert.Error(t, err)
}

func TestUTM_ForwardInverseRoundTrip(t *testing.T) {
	utm, err := NewUTM(56, false) // covers ~153E, eastern Australia
	require.NoError(t, err)

	lon, lat := 153.021, -27.47
	east, north := utm.Forward(lon, lat)
	gotLon, gotLat := utm.Inverse(east, north)

	assert.InDelta(t, lon, gotLon, 1e-6)
	assert.InDelta(t, lat, gotLat, 1e-6)
}

func TestUTM_SouthernHemisphereFalseNorthing(t *testing.T) {
	utm, err := NewUTM(56, true)
	require.NoError(t, err)
	_, _, _, y0, _ := utm.Params()
	assert.Equal(t, 10000000.0, y0)

	utmNorth, err := NewUTM(56, false)
	require.NoError(t, err)
	_, _, _, y0n, _ := utmNorth.Params()
	assert.Equal(t, 0.0, y0n)
}

func TestNewProjection_RejectsPolarStereographic(t *testing.T) {
	_, err := NewProjection(ProjPolarStereographic, 1, false)
	assert.ErrorIs(t, err, ErrUnsupportedProj)
}

func TestNewProjection_NoneYieldsNilProjectionNoError(t *testing.T) {
	proj, err := NewProjection(ProjNone, 1, false)
	require.NoError(t, err)
	assert.Nil(t, proj)
}
