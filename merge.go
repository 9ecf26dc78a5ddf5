package mapsheet

import (
	"context"
	"errors"
	"path"
	"sync"

	"github.com/alitto/pond"
)

// MergeDisjointSheets merges n independently-produced MapSheets that
// partition one survey into disjoint tile sets (§5: "Parallelism, if
// desired, is obtained by partitioning the survey into disjoint
// MapSheets that are merged offline") into a single destination backing
// store. Every source sheet must share identical grid/tile geometry,
// algorithm, and parameters — only their resident tile sets differ.
// Merging is embarrassingly parallel since no destination tile is ever
// written by more than one source, following the teacher's cmd/main.go
// pond.New(n, 0, pond.MinWorkers(n), pond.Context(ctx)) worker-pool
// idiom for convert_gsf_list, one task per source sheet.
func MergeDisjointSheets(ctx context.Context, sourceDirs []string, destDir string, workers int) error {
	if len(sourceDirs) == 0 {
		return ConfigError(ErrBadParameter)
	}

	template, err := OpenBackingStore(sourceDirs[0], "", 1)
	if err != nil {
		return err
	}
	header, err := template.LoadHeader()
	if err != nil {
		template.Close()
		return err
	}
	params, err := template.LoadParams()
	if err != nil {
		template.Close()
		return err
	}
	template.Close()

	maxSlots := params.NodeMaxHypotheses
	if params.BinnedMaxSlots > maxSlots {
		maxSlots = params.BinnedMaxSlots
	}

	dest, err := OpenBackingStore(destDir, "", maxSlots)
	if err != nil {
		return err
	}
	defer dest.Close()
	if err := dest.SaveHeader(header); err != nil {
		return err
	}
	if err := dest.SaveParams(params); err != nil {
		return err
	}

	if workers <= 0 {
		workers = len(sourceDirs)
	}
	pool := pond.New(workers, 0, pond.MinWorkers(workers), pond.Context(ctx))

	var mu sync.Mutex
	var errs []error

	for _, dir := range sourceDirs {
		srcDir := dir
		pool.Submit(func() {
			if err := mergeOneSheet(srcDir, dest, maxSlots); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
	}

	pool.StopAndWait()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// mergeOneSheet copies every tile file from one source sheet's backing
// store into dest, since disjoint partitions never collide on a
// destination tile.
func mergeOneSheet(srcDir string, dest *BackingStore, maxSlots uint32) error {
	src, err := OpenBackingStore(srcDir, "", maxSlots)
	if err != nil {
		return err
	}
	defer src.Close()

	tilesDir := path.Join(srcDir, "tiles")
	_, files, err := src.vfs.List(tilesDir)
	if err != nil {
		return PersistenceErrorf(err)
	}

	for _, f := range files {
		size, err := src.vfs.FileSize(f)
		if err != nil {
			return PersistenceErrorf(err)
		}
		raw, err := src.readFile(f, size)
		if err != nil {
			return PersistenceErrorf(err)
		}
		destURI := path.Join(dest.dirURI, "tiles", path.Base(f))
		if err := dest.atomicWrite(destURI, raw); err != nil {
			return PersistenceErrorf(err)
		}
	}
	return nil
}
