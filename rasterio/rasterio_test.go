package rasterio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRead_RoundTrip(t *testing.T) {
	r := &Raster{
		Header: Header{
			Width: 2, Height: 2,
			West: 100, South: 200, East: 102, North: 202,
			EastSpacing: 1, NorthSpacing: 1,
			SampleType: SampleF32,
			ProjTag:    ProjUTM,
		},
		Samples: []float64{1.5, 2.5, 3.5, 4.5},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, r))
	assert.GreaterOrEqual(t, buf.Len(), HeaderSize)

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, r.Header.Width, got.Header.Width)
	assert.Equal(t, r.Header.ProjTag, got.Header.ProjTag)
	for i := range r.Samples {
		assert.InDelta(t, r.Samples[i], got.Samples[i], 1e-3)
	}
}

func TestWrite_RejectsMismatchedSampleCount(t *testing.T) {
	r := &Raster{
		Header:  Header{Width: 2, Height: 2, SampleType: SampleF32},
		Samples: []float64{1, 2},
	}
	var buf bytes.Buffer
	assert.Error(t, Write(&buf, r))
}

func TestRead_ZeroDimensionsReadsNoSamples(t *testing.T) {
	hdr := make([]byte, HeaderSize)
	_, err := Read(bytes.NewReader(hdr))
	assert.NoError(t, err) // width/height zero: zero samples expected
}

func TestBounds_UnrotatedPassesThroughVerbatim(t *testing.T) {
	r := &Raster{Header: Header{West: 1, South: 2, East: 3, North: 4, ProjTag: ProjUTM}}
	w, s, e, n, err := r.Bounds(nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, w)
	assert.Equal(t, 2.0, s)
	assert.Equal(t, 3.0, e)
	assert.Equal(t, 4.0, n)
}

func TestBounds_RotatedWithoutProjectorIsConfigurationError(t *testing.T) {
	r := &Raster{Header: Header{West: 1, South: 2, East: 3, North: 4, ProjTag: ProjRotatedUTM}}
	_, _, _, _, err := r.Bounds(nil)
	assert.ErrorIs(t, err, ErrNoProjection)
}

type identityProjector struct{}

func (identityProjector) Forward(lon, lat float64) (float64, float64) { return lon, lat }

func TestBounds_RotatedWithProjectorResolvesEnvelope(t *testing.T) {
	r := &Raster{Header: Header{West: -1, South: -1, East: 1, North: 1, ProjTag: ProjRotatedUTM, RotationDeg: 45}}
	w, s, e, n, err := r.Bounds(identityProjector{})
	require.NoError(t, err)
	assert.Greater(t, e, w)
	assert.Greater(t, n, s)
}
