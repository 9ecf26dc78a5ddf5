package mapsheet

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// nodeRecordSize is the fixed on-disk size of one node, sized to hold up
// to maxSlots hypotheses (hypothesis/nodal algorithms) or maxSlots binned
// samples (binned mean/median algorithms) interchangeably, so a tile file
// layout does not need to change if a sheet's algorithm is never changed
// after construction (§4.8: "fixed per-node record sized for the maximum
// allowed hypothesis count"). In-flight monitor state (§4.1 step 4) is
// deliberately not persisted: it is re-derived from the next sounding that
// lands on the node, the same way the reference implementation treats the
// monitor queue as volatile working state rather than committed estimate.
const hypothesisRecordSize = 8 + 8 + 4 + 8 + 8 + 8 // Z,V,N,S,FirstTime,LastTime

func nodeRecordSize(maxSlots uint32) int {
	return 4 + 4 + 1 + 8 + 8 + 4 + 8 + int(maxSlots)*hypothesisRecordSize + int(maxSlots)*8
}

func encodeNode(buf *bytes.Buffer, n *NodeEstimator, maxSlots uint32) {
	nHyp := uint32(len(n.Hypotheses))
	if nHyp > maxSlots {
		nHyp = maxSlots
	}
	_ = binary.Write(buf, binary.BigEndian, nHyp)
	_ = binary.Write(buf, binary.BigEndian, n.Nominated)
	if n.PredictedDepth != nil {
		_ = binary.Write(buf, binary.BigEndian, uint8(1))
		_ = binary.Write(buf, binary.BigEndian, *n.PredictedDepth)
	} else {
		_ = binary.Write(buf, binary.BigEndian, uint8(0))
		_ = binary.Write(buf, binary.BigEndian, float64(0))
	}
	_ = binary.Write(buf, binary.BigEndian, n.binSeen)

	nBins := uint32(len(n.Bins))
	if nBins > maxSlots {
		nBins = maxSlots
	}
	_ = binary.Write(buf, binary.BigEndian, nBins)
	_ = binary.Write(buf, binary.BigEndian, n.WriteEpoch)

	for i := uint32(0); i < maxSlots; i++ {
		var h Hypothesis
		if i < nHyp {
			h = n.Hypotheses[i]
		}
		_ = binary.Write(buf, binary.BigEndian, h.Z)
		_ = binary.Write(buf, binary.BigEndian, h.V)
		_ = binary.Write(buf, binary.BigEndian, h.N)
		_ = binary.Write(buf, binary.BigEndian, h.S)
		_ = binary.Write(buf, binary.BigEndian, h.FirstTime)
		_ = binary.Write(buf, binary.BigEndian, h.LastTime)
	}

	for i := uint32(0); i < maxSlots; i++ {
		var v float64
		if i < nBins {
			v = n.Bins[i]
		}
		_ = binary.Write(buf, binary.BigEndian, v)
	}
}

func decodeNode(r *bytes.Reader, maxSlots uint32) (NodeEstimator, error) {
	n := NewNodeEstimator()

	var nHyp, nBins uint32
	var hasPredicted uint8
	var predicted float64

	if err := binary.Read(r, binary.BigEndian, &nHyp); err != nil {
		return n, err
	}
	if err := binary.Read(r, binary.BigEndian, &n.Nominated); err != nil {
		return n, err
	}
	if err := binary.Read(r, binary.BigEndian, &hasPredicted); err != nil {
		return n, err
	}
	if err := binary.Read(r, binary.BigEndian, &predicted); err != nil {
		return n, err
	}
	if hasPredicted != 0 {
		n.PredictedDepth = &predicted
	}
	if err := binary.Read(r, binary.BigEndian, &n.binSeen); err != nil {
		return n, err
	}
	if err := binary.Read(r, binary.BigEndian, &nBins); err != nil {
		return n, err
	}
	if err := binary.Read(r, binary.BigEndian, &n.WriteEpoch); err != nil {
		return n, err
	}

	hyps := make([]Hypothesis, maxSlots)
	for i := range hyps {
		var h Hypothesis
		if err := binary.Read(r, binary.BigEndian, &h.Z); err != nil {
			return n, err
		}
		if err := binary.Read(r, binary.BigEndian, &h.V); err != nil {
			return n, err
		}
		if err := binary.Read(r, binary.BigEndian, &h.N); err != nil {
			return n, err
		}
		if err := binary.Read(r, binary.BigEndian, &h.S); err != nil {
			return n, err
		}
		if err := binary.Read(r, binary.BigEndian, &h.FirstTime); err != nil {
			return n, err
		}
		if err := binary.Read(r, binary.BigEndian, &h.LastTime); err != nil {
			return n, err
		}
		hyps[i] = h
	}
	if nHyp > maxSlots {
		nHyp = maxSlots
	}
	n.Hypotheses = hyps[:nHyp]

	bins := make([]float64, maxSlots)
	for i := range bins {
		if err := binary.Read(r, binary.BigEndian, &bins[i]); err != nil {
			return n, err
		}
	}
	if nBins > maxSlots {
		nBins = maxSlots
	}
	n.Bins = bins[:nBins]

	return n, nil
}

// encodeTile serializes every design-grid node of tile, row-major, into a
// fixed-stride binary blob (§4.8).
func encodeTile(tile *Tile, maxSlots uint32) []byte {
	buf := &bytes.Buffer{}
	buf.Grow(len(tile.Nodes) * nodeRecordSize(maxSlots))
	for i := range tile.Nodes {
		encodeNode(buf, &tile.Nodes[i], maxSlots)
	}
	return buf.Bytes()
}

// decodeTile parses a tile's binary blob back into a resident Tile. An
// unexpected length signals a truncated tile file (§7: PersistenceError,
// distinguishable from "tile never written" which is reported via the
// TileStore.LoadTile present=false path instead).
func decodeTile(raw []byte, coord TileCoord, activeW, activeH, designW, designH uint32, maxSlots uint32) (*Tile, error) {
	want := int(designW) * int(designH) * nodeRecordSize(maxSlots)
	if len(raw) != want {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", errShortTile, len(raw), want)
	}

	nodes, err := allocateNodes(designW, designH)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(raw)
	for i := range nodes {
		n, err := decodeNode(r, maxSlots)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTileTruncated, err)
		}
		nodes[i] = n
	}

	return &Tile{
		Coord:   coord,
		ActiveW: activeW, ActiveH: activeH,
		DesignW: designW, DesignH: designH,
		Nodes: nodes,
	}, nil
}
