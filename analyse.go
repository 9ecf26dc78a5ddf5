package mapsheet

// AOI is a post-hoc analysis record over a finalized depth surface
// (§3, §12: mapsheet_analyse_sheet): a contiguous region of nodes whose
// hypothesis count meets or exceeds a threshold, bucketed into one
// bounding box with summary statistics.
type AOI struct {
	MinCol, MinRow, MaxCol, MaxRow uint32

	ShoalestDepth float64

	FocusCol, FocusRow   uint32
	FocusHypoCount       int
	FocusHypoStrength    float64

	MeanDepth         float64
	MeanVariance      float64
	MeanHypoCount     float64
	MeanHypoStrength  float64
}

// aoiNodeInfo carries one node's thresholded disambiguation result
// during AnalyseSheet's flood fill.
type aoiNodeInfo struct {
	ok     bool
	result DisambiguationResult
}

// AnalyseSheet walks the finalized hypothesis-count surface and buckets
// contiguous (4-connected) regions whose hypothesis count is at least
// minHypoCount into AOI records (§12, mapsheet_analyse_sheet). The
// focus point of each region is its node of maximum hypothesis count,
// ties broken by the shoalest depth.
func (m *MapSheet) AnalyseSheet(minHypoCount int) ([]AOI, error) {
	disc := m.disambiguator()
	w, h := m.grid.TotalCols, m.grid.TotalRows

	grid := make([]aoiNodeInfo, int(w)*int(h))
	for row := uint32(0); row < h; row++ {
		for col := uint32(0); col < w; col++ {
			r, err := disc.Disambiguate(col, row)
			if err != nil {
				return nil, err
			}
			grid[int(row)*int(w)+int(col)] = aoiNodeInfo{ok: r.Ok && r.HypoCount >= minHypoCount, result: r}
		}
	}

	visited := make([]bool, len(grid))
	var aois []AOI

	for row := uint32(0); row < h; row++ {
		for col := uint32(0); col < w; col++ {
			idx := int(row)*int(w) + int(col)
			if visited[idx] || !grid[idx].ok {
				continue
			}

			// 4-connected flood fill over the thresholded mask.
			stack := []uint32{col, row}
			var members [][2]uint32
			minC, maxC, minR, maxR := col, col, row, row

			for len(stack) > 0 {
				r := stack[len(stack)-1]
				c := stack[len(stack)-2]
				stack = stack[:len(stack)-2]

				i := int(r)*int(w) + int(c)
				if visited[i] || !grid[i].ok {
					continue
				}
				visited[i] = true
				members = append(members, [2]uint32{c, r})
				if c < minC {
					minC = c
				}
				if c > maxC {
					maxC = c
				}
				if r < minR {
					minR = r
				}
				if r > maxR {
					maxR = r
				}

				if c+1 < w {
					stack = append(stack, c+1, r)
				}
				if c > 0 {
					stack = append(stack, c-1, r)
				}
				if r+1 < h {
					stack = append(stack, c, r+1)
				}
				if r > 0 {
					stack = append(stack, c, r-1)
				}
			}

			aois = append(aois, buildAOI(members, grid, w, minC, maxC, minR, maxR))
		}
	}
	return aois, nil
}

func buildAOI(members [][2]uint32, grid []aoiNodeInfo, width, minC, maxC, minR, maxR uint32) AOI {
	var sumDepth, sumVar, sumHypo, sumStrength float64
	shoalestDepth := grid[int(members[0][1])*int(width)+int(members[0][0])].result.Z
	focus := members[0]
	focusCount := grid[int(members[0][1])*int(width)+int(members[0][0])].result.HypoCount
	focusDepth := shoalestDepth

	for _, m := range members {
		info := grid[int(m[1])*int(width)+int(m[0])].result
		sumDepth += info.Z
		sumVar += info.V
		sumHypo += float64(info.HypoCount)
		sumStrength += info.Strength

		if info.Z < shoalestDepth {
			shoalestDepth = info.Z
		}
		if info.HypoCount > focusCount || (info.HypoCount == focusCount && info.Z < focusDepth) {
			focusCount = info.HypoCount
			focusDepth = info.Z
			focus = m
		}
	}

	n := float64(len(members))
	focusInfo := grid[int(focus[1])*int(width)+int(focus[0])].result

	return AOI{
		MinCol: minC, MinRow: minR, MaxCol: maxC, MaxRow: maxR,
		ShoalestDepth:     shoalestDepth,
		FocusCol:          focus[0],
		FocusRow:          focus[1],
		FocusHypoCount:    focusInfo.HypoCount,
		FocusHypoStrength: focusInfo.Strength,
		MeanDepth:         sumDepth / n,
		MeanVariance:      sumVar / n,
		MeanHypoCount:     sumHypo / n,
		MeanHypoStrength:  sumStrength / n,
	}
}
