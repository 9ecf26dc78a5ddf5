// Package sheetdesc implements the small ASCII mapsheet description
// grammar consumed by the CLI (§6): a projection block, a sheet block
// carrying either a center+size specification or an axis-aligned bounds
// specification, a spacing, and an optional backing-store path. The
// original grammar was generated from a Bison/Yacc definition
// (mapsheet_par.y); a generated parser generator is not warranted for a
// CLI-only, ~10-keyword grammar, so this is a small hand-written
// recursive-descent reader instead.
package sheetdesc

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Unit tags the unit a numeric token was written in (§6: "meters,
// kilometers, degrees, minutes, radians").
type Unit int

const (
	UnitMeters Unit = iota
	UnitKilometers
	UnitDegrees
	UnitMinutes
	UnitRadians
)

// metersPerDegree is the acknowledged approximation from §6: "1 degree
// ≈ 60·1852 m at the equator", applied only on mixed-unit coercion.
const metersPerDegree = 60 * 1852.0

// ToMeters coerces a value in u to meters under the equatorial
// approximation.
func (u Unit) ToMeters(v float64) float64 {
	switch u {
	case UnitKilometers:
		return v * 1000
	case UnitDegrees:
		return v * metersPerDegree
	case UnitMinutes:
		return v * metersPerDegree / 60
	case UnitRadians:
		return v * (180 / 3.141592653589793) * metersPerDegree
	default:
		return v
	}
}

// ProjectionSpec is the parsed `projection` block.
type ProjectionSpec struct {
	Type          string // "utm", "mercator", "polar_stereographic"
	Origin        [2]float64
	FalseOrigin   [2]float64
}

// SheetSpec is the parsed `sheet` block, in exactly one of its two
// forms (§6).
type SheetSpec struct {
	HasCenter bool
	Center    [2]float64
	Width, Height float64 // meters, if HasCenter

	HasBounds bool
	SW, NE    [2]float64 // meters, if !HasCenter

	SpacingEast, SpacingNorth float64
	Backstore                 string
}

// Description is the fully parsed ASCII mapsheet description.
type Description struct {
	Projection ProjectionSpec
	Sheet      SheetSpec
}

type token struct {
	text string
}

// Parse reads a mapsheet description from r, recognizing exactly the
// keywords `projection`, `sheet`, `type`, `origin`, `false_origin`,
// `location`, `bounds`, `spacing`, `backstore`, `meters`, `kilometers`,
// `degrees`, `minutes`, `radians` (§6).
func Parse(r io.Reader) (Description, error) {
	toks, err := tokenize(r)
	if err != nil {
		return Description{}, err
	}
	p := &parser{toks: toks}
	return p.parseDescription()
}

func tokenize(r io.Reader) ([]token, error) {
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)
	var toks []token
	for scanner.Scan() {
		text := scanner.Text()
		if strings.HasPrefix(text, "#") {
			continue
		}
		toks = append(toks, token{text: text})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() (string, bool) {
	if p.pos >= len(p.toks) {
		return "", false
	}
	return p.toks[p.pos].text, true
}

func (p *parser) next() (string, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

func (p *parser) expect(kw string) error {
	t, ok := p.next()
	if !ok {
		return fmt.Errorf("sheetdesc: expected %q, got end of input", kw)
	}
	if !strings.EqualFold(t, kw) {
		return fmt.Errorf("sheetdesc: expected %q, got %q", kw, t)
	}
	return nil
}

func (p *parser) number() (float64, error) {
	t, ok := p.next()
	if !ok {
		return 0, fmt.Errorf("sheetdesc: expected a number, got end of input")
	}
	v, err := strconv.ParseFloat(t, 64)
	if err != nil {
		return 0, fmt.Errorf("sheetdesc: invalid number %q: %w", t, err)
	}
	return v, nil
}

// unit consumes an optional trailing unit keyword, defaulting to def if
// none is present.
func (p *parser) unit(def Unit) Unit {
	t, ok := p.peek()
	if !ok {
		return def
	}
	switch strings.ToLower(t) {
	case "meters":
		p.pos++
		return UnitMeters
	case "kilometers":
		p.pos++
		return UnitKilometers
	case "degrees":
		p.pos++
		return UnitDegrees
	case "minutes":
		p.pos++
		return UnitMinutes
	case "radians":
		p.pos++
		return UnitRadians
	default:
		return def
	}
}

func (p *parser) numberWithUnit(def Unit) (float64, error) {
	v, err := p.number()
	if err != nil {
		return 0, err
	}
	u := p.unit(def)
	return u.ToMeters(v), nil
}

func (p *parser) parseDescription() (Description, error) {
	var d Description
	for {
		t, ok := p.peek()
		if !ok {
			break
		}
		switch strings.ToLower(t) {
		case "projection":
			proj, err := p.parseProjection()
			if err != nil {
				return d, err
			}
			d.Projection = proj
		case "sheet":
			sheet, err := p.parseSheet()
			if err != nil {
				return d, err
			}
			d.Sheet = sheet
		default:
			return d, fmt.Errorf("sheetdesc: unexpected token %q", t)
		}
	}
	return d, nil
}

func (p *parser) parseProjection() (ProjectionSpec, error) {
	var spec ProjectionSpec
	if err := p.expect("projection"); err != nil {
		return spec, err
	}
	for {
		t, ok := p.peek()
		if !ok || strings.EqualFold(t, "sheet") {
			break
		}
		switch strings.ToLower(t) {
		case "type":
			p.pos++
			typ, ok := p.next()
			if !ok {
				return spec, fmt.Errorf("sheetdesc: expected a projection type")
			}
			spec.Type = strings.ToLower(typ)
		case "origin":
			p.pos++
			lon, err := p.numberWithUnit(UnitDegrees)
			if err != nil {
				return spec, err
			}
			lat, err := p.numberWithUnit(UnitDegrees)
			if err != nil {
				return spec, err
			}
			spec.Origin = [2]float64{lon / metersPerDegree, lat / metersPerDegree}
		case "false_origin":
			p.pos++
			x, err := p.numberWithUnit(UnitMeters)
			if err != nil {
				return spec, err
			}
			y, err := p.numberWithUnit(UnitMeters)
			if err != nil {
				return spec, err
			}
			spec.FalseOrigin = [2]float64{x, y}
		default:
			return spec, fmt.Errorf("sheetdesc: unexpected projection keyword %q", t)
		}
	}
	return spec, nil
}

func (p *parser) parseSheet() (SheetSpec, error) {
	var spec SheetSpec
	if err := p.expect("sheet"); err != nil {
		return spec, err
	}
	for {
		t, ok := p.peek()
		if !ok {
			break
		}
		switch strings.ToLower(t) {
		case "location":
			p.pos++
			e, err := p.numberWithUnit(UnitMeters)
			if err != nil {
				return spec, err
			}
			n, err := p.numberWithUnit(UnitMeters)
			if err != nil {
				return spec, err
			}
			w, err := p.numberWithUnit(UnitMeters)
			if err != nil {
				return spec, err
			}
			h, err := p.numberWithUnit(UnitMeters)
			if err != nil {
				return spec, err
			}
			spec.HasCenter = true
			spec.Center = [2]float64{e, n}
			spec.Width, spec.Height = w, h
		case "bounds":
			p.pos++
			swE, err := p.numberWithUnit(UnitMeters)
			if err != nil {
				return spec, err
			}
			swN, err := p.numberWithUnit(UnitMeters)
			if err != nil {
				return spec, err
			}
			neE, err := p.numberWithUnit(UnitMeters)
			if err != nil {
				return spec, err
			}
			neN, err := p.numberWithUnit(UnitMeters)
			if err != nil {
				return spec, err
			}
			spec.HasBounds = true
			spec.SW = [2]float64{swE, swN}
			spec.NE = [2]float64{neE, neN}
		case "spacing":
			p.pos++
			e, err := p.numberWithUnit(UnitMeters)
			if err != nil {
				return spec, err
			}
			n, err := p.numberWithUnit(UnitMeters)
			if err != nil {
				return spec, err
			}
			spec.SpacingEast, spec.SpacingNorth = e, n
		case "backstore":
			p.pos++
			path, ok := p.next()
			if !ok {
				return spec, fmt.Errorf("sheetdesc: expected a backstore path")
			}
			spec.Backstore = path
		default:
			// Unrecognized keyword (or the start of another block):
			// stop here and let the caller decide.
			return spec, nil
		}
	}
	return spec, nil
}
