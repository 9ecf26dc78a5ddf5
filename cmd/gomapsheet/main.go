// Command gomapsheet is the CLI driver for the mapsheet engine,
// mirroring the teacher's cmd/main.go: one urfave/cli command per verb,
// coarse step-level log.Println progress, log.Fatal only at the
// outermost main() on unrecoverable error.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	mapsheet "github.com/sixy6e/go-mapsheet"
	"github.com/sixy6e/go-mapsheet/cmd/internal/sheetdesc"
)

func buildSheet(descPath string, algo string, paramsOverride mapsheet.Params) (*mapsheet.MapSheet, error) {
	f, err := os.Open(descPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	desc, err := sheetdesc.Parse(f)
	if err != nil {
		return nil, err
	}

	var proj mapsheet.Projection
	switch strings.ToLower(desc.Projection.Type) {
	case "utm":
		zone := int(desc.Projection.Origin[0]/6) + 31
		proj, err = mapsheet.NewUTM(zone, desc.Projection.Origin[1] < 0)
		if err != nil {
			return nil, err
		}
	case "polar_stereographic", "":
		// recognized but rejected (§6, §13); leave proj nil only when
		// the description omits a projection entirely.
		if desc.Projection.Type != "" {
			return nil, mapsheet.ConfigError(mapsheet.ErrUnsupportedProj)
		}
	default:
		return nil, mapsheet.ConfigError(mapsheet.ErrUnsupportedProj)
	}

	params := paramsOverride
	tileW, tileH := params.TileWidth, params.TileHeight

	var ms *mapsheet.MapSheet
	switch {
	case desc.Sheet.HasCenter:
		ms, err = mapsheet.NewByCenter(desc.Sheet.Center[0], desc.Sheet.Center[1],
			desc.Sheet.Width, desc.Sheet.Height,
			desc.Sheet.SpacingEast, desc.Sheet.SpacingNorth, tileW, tileH, proj, params)
	case desc.Sheet.HasBounds:
		ms, err = mapsheet.NewByBounds(desc.Sheet.SW[0], desc.Sheet.SW[1], desc.Sheet.NE[0], desc.Sheet.NE[1],
			desc.Sheet.SpacingEast, desc.Sheet.SpacingNorth, tileW, tileH, proj, params)
	default:
		return nil, mapsheet.ConfigError(mapsheet.ErrBadGeometry)
	}
	if err != nil {
		return nil, err
	}

	var a mapsheet.Algorithm
	switch strings.ToLower(algo) {
	case "nodal":
		a = mapsheet.AlgoNodal
	case "binned_mean":
		a = mapsheet.AlgoBinnedMean
	case "binned_median":
		a = mapsheet.AlgoBinnedMedian
	default:
		a = mapsheet.AlgoHypothesis
	}
	if err := ms.AddDepthSurface(a); err != nil {
		return nil, err
	}
	return ms, nil
}

// ingestSoundings reads whitespace-delimited lines of
// "east north depth variance timestamp" from path — the abstract
// sounding record of §6, not any real interchange format (those are a
// Non-goal).
func ingestSoundings(ms *mapsheet.MapSheet, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	n := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			return n, fmt.Errorf("gomapsheet: malformed sounding line: %q", line)
		}
		east, _ := strconv.ParseFloat(fields[0], 64)
		north, _ := strconv.ParseFloat(fields[1], 64)
		depth, _ := strconv.ParseFloat(fields[2], 32)
		variance, _ := strconv.ParseFloat(fields[3], 32)
		ts, _ := strconv.ParseFloat(fields[4], 64)

		s := mapsheet.Sounding{
			East: east, North: north,
			Depth:    float32(depth),
			Variance: float32(variance),
			Timestamp: ts,
		}
		if err := ms.Update(s); err != nil {
			return n, err
		}
		n++
	}
	return n, scanner.Err()
}

func runBuild(cCtx *cli.Context) error {
	log.Println("Building mapsheet from description:", cCtx.String("desc"))

	params := mapsheet.DefaultParams()
	ms, err := buildSheet(cCtx.String("desc"), cCtx.String("algorithm"), params)
	if err != nil {
		return err
	}
	defer ms.Release()

	log.Println("Processing soundings:", cCtx.String("soundings"))
	n, err := ingestSoundings(ms, cCtx.String("soundings"))
	if err != nil {
		return err
	}
	log.Println("Soundings processed:", n)

	log.Println("Writing mapsheet:", cCtx.String("out"))
	if err := ms.Save(cCtx.String("out")); err != nil {
		return err
	}

	log.Println("Finished mapsheet:", cCtx.String("out"))
	return nil
}

func runSummary(cCtx *cli.Context) error {
	log.Println("Loading mapsheet:", cCtx.String("sheet"))
	ms, err := mapsheet.Load(cCtx.String("sheet"))
	if err != nil {
		return err
	}
	defer ms.Release()

	log.Println("Writing summary rasters:", cCtx.String("out"))
	if err := ms.MakeSummary(cCtx.String("out")); err != nil {
		return err
	}
	log.Println("Finished summary:", cCtx.String("out"))
	return nil
}

func runMerge(cCtx *cli.Context) error {
	dirs := cCtx.StringSlice("source")
	log.Println("Merging disjoint mapsheets, count:", len(dirs))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := mapsheet.MergeDisjointSheets(ctx, dirs, cCtx.String("out"), runtime.NumCPU()); err != nil {
		return err
	}
	log.Println("Finished merge:", cCtx.String("out"))
	return nil
}

func main() {
	app := &cli.App{
		Name:  "gomapsheet",
		Usage: "build, summarize, and merge CUBE-style bathymetric mapsheets",
		Commands: []*cli.Command{
			{
				Name:  "build",
				Usage: "build a mapsheet from an ASCII sheet description and an abstract sounding stream",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "desc", Usage: "path to the ASCII mapsheet description"},
					&cli.StringFlag{Name: "soundings", Usage: "path to a whitespace-delimited sounding file"},
					&cli.StringFlag{Name: "algorithm", Value: "hypothesis", Usage: "nodal, binned_mean, binned_median, hypothesis"},
					&cli.StringFlag{Name: "out", Usage: "destination backing-store directory"},
				},
				Action: runBuild,
			},
			{
				Name:  "summary",
				Usage: "write depth/uncertainty/hitcount/hypothesis rasters for a saved mapsheet",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "sheet", Usage: "path to a saved mapsheet directory"},
					&cli.StringFlag{Name: "out", Usage: "destination raster directory"},
				},
				Action: runSummary,
			},
			{
				Name:  "merge",
				Usage: "merge disjoint mapsheets produced by partitioning a survey",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "source", Usage: "source mapsheet directory (repeatable)"},
					&cli.StringFlag{Name: "out", Usage: "destination backing-store directory"},
				},
				Action: runMerge,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
