package mapsheet

import (
	"path"

	tiledb "github.com/TileDB-Inc/TileDB-Go"

	"github.com/sixy6e/go-mapsheet/rasterio"
)

// summaryLayers is the fixed set written by MakeSummary, matching §4.7's
// full layer list.
var summaryLayers = []Layer{
	LayerDepth, LayerUncertainty, LayerStdDev, LayerHitCount, LayerHypoCount, LayerHypoStrength,
}

func layerFileName(l Layer) string {
	switch l {
	case LayerDepth:
		return "depth.raster"
	case LayerUncertainty:
		return "uncertainty.raster"
	case LayerStdDev:
		return "stddev.raster"
	case LayerHitCount:
		return "hitcount.raster"
	case LayerHypoCount:
		return "hypocount.raster"
	case LayerHypoStrength:
		return "hypostrength.raster"
	default:
		return "layer.raster"
	}
}

func layerSampleType(l Layer) rasterio.SampleType {
	switch l {
	case LayerHitCount, LayerHypoCount:
		return rasterio.SampleU32
	default:
		return rasterio.SampleF32
	}
}

// MakeSummary writes every available layer (depth, uncertainty, std.
// dev., hit count, hypothesis count, hypothesis strength) to targetDir
// in the OMG1/R4-like raster format, one file per layer (§12,
// mapsheet_make_summary).
func (m *MapSheet) MakeSummary(targetDir string) error {
	extracted, err := m.Extract(summaryLayers)
	if err != nil {
		return err
	}

	vfs, err := tiledb.NewVFS(m.store.ctx, m.store.config)
	if err != nil {
		return PersistenceErrorf(err)
	}
	defer vfs.Free()

	isDir, err := vfs.IsDir(targetDir)
	if err != nil {
		return PersistenceErrorf(err)
	}
	if !isDir {
		if err := vfs.CreateDir(targetDir); err != nil {
			return PersistenceErrorf(err)
		}
	}

	projTag := rasterio.ProjNone
	var projScalar float32
	switch m.projType {
	case ProjUTM:
		projTag = rasterio.ProjUTM
	case ProjMercator:
		projTag = rasterio.ProjMercator
	case ProjRotatedUTM:
		projTag = rasterio.ProjRotatedUTM
	case ProjRotatedMercator:
		projTag = rasterio.ProjRotatedMercator
	}

	neEast := m.spacing.SWEast + float64(m.grid.TotalCols)*m.spacing.EastSpacing
	neNorth := m.spacing.SWNorth + float64(m.grid.TotalRows)*m.spacing.NorthSpacing

	for _, l := range summaryLayers {
		raster := extracted[l]
		r := &rasterio.Raster{
			Header: rasterio.Header{
				Width: raster.Width, Height: raster.Height,
				West: m.spacing.SWEast, South: m.spacing.SWNorth,
				East: neEast, North: neNorth,
				EastSpacing: m.spacing.EastSpacing, NorthSpacing: m.spacing.NorthSpacing,
				SampleType: layerSampleType(l),
				ProjTag:    projTag,
				ProjScalar: projScalar,
			},
			Samples: raster.Samples,
		}

		uri := path.Join(targetDir, layerFileName(l))
		fh, err := vfs.Open(uri, tiledb.TILEDB_VFS_WRITE)
		if err != nil {
			return PersistenceErrorf(err)
		}
		if err := rasterio.Write(fh, r); err != nil {
			fh.Close()
			return PersistenceErrorf(err)
		}
		if err := fh.Close(); err != nil {
			return PersistenceErrorf(err)
		}
	}
	return nil
}
