package mapsheet

import (
	"errors"
	"fmt"
	"reflect"

	stgpsr "github.com/yuin/stagparser"
)

// DisambiguatorPolicy selects how Disambiguator picks a reportable
// hypothesis (§4.6).
type DisambiguatorPolicy uint8

const (
	PolicyNominated DisambiguatorPolicy = iota
	PolicyLocale
	PolicyPrior
	PolicyDensity
)

func (p DisambiguatorPolicy) String() string {
	switch p {
	case PolicyNominated:
		return "nominated"
	case PolicyLocale:
		return "locale"
	case PolicyPrior:
		return "prior"
	case PolicyDensity:
		return "density"
	default:
		return "unknown"
	}
}

// Params holds every threshold and cap referenced in §4.1/§4.4 plus the
// TileCache and algorithm-selection options of §6. Each field is tagged
// with `param:"limit(default=...,min=...,max=...,name=...)"`, parsed via
// stagparser the same way the teacher's tiledb.go walks `tiledb:"..."`
// struct tags to build schema attributes; here the tags drive bounds
// validation instead of TileDB attribute construction.
type Params struct {
	TileWidth  uint32 `param:"limit(default=64,min=4,max=1024,name=tile.width)"`
	TileHeight uint32 `param:"limit(default=64,min=4,max=1024,name=tile.height)"`

	CacheCapacity uint32 `param:"limit(default=128,min=1,max=1000000,name=cache.capacity)"`
	CacheSellBy   uint64 `param:"limit(default=600,min=1,max=1000000000,name=cache.sell_by)"`

	NodeMaxHypotheses uint32  `param:"limit(default=8,min=1,max=64,name=node.max_hypotheses)"`
	NodeMatchThreshold float64 `param:"limit(default=3.84,min=0.0001,max=1000,name=node.match_threshold)"`
	NodeMonitorDepth   uint32  `param:"limit(default=5,min=1,max=1000,name=node.monitor_depth)"`
	NodeVarianceFloor  float64 `param:"limit(default=0.01,min=1e-9,max=1000,name=node.variance_floor)"`

	DispatcherInfluenceRadius   float64 `param:"limit(default=5.0,min=0.001,max=100000,name=dispatcher.influence_radius)"`
	DispatcherDistanceInflation float64 `param:"limit(default=0.05,min=0,max=1000,name=dispatcher.distance_inflation)"`

	BinnedMaxSlots uint32 `param:"limit(default=200,min=1,max=1000000,name=binned.max_slots)"`

	DisambiguatorPolicy  DisambiguatorPolicy `param:"limit(default=3,min=0,max=3,name=disambiguator.policy)"`
	DisambiguatorCILevel float64             `param:"limit(default=0.95,min=0.5,max=0.999999,name=disambiguator.ci_level)"`

	// GateMinDepth/GateMaxDepth and GateMaxAbsAngle implement §4.4's
	// "Depth and angle gates (parameters) are applied to the sounding
	// itself before any node is touched; gated-out soundings are
	// silently dropped" — not named in §6's config list, but required by
	// §4.4's own text, so they are carried as ordinary tagged parameters
	// alongside it. Depth is positive-down (§6), so the gate's natural
	// range starts at zero; the angle gate is expressed as a single
	// symmetric bound (|beam angle| <= GateMaxAbsAngle) rather than a
	// signed [min,max] pair, avoiding a negative numeric literal in the
	// struct tag grammar.
	GateMinDepth   float64 `param:"limit(default=0,min=0,max=12000,name=gate.min_depth)"`
	GateMaxDepth   float64 `param:"limit(default=12000,min=0,max=12000,name=gate.max_depth)"`
	GateMaxAbsAngle float64 `param:"limit(default=90,min=0,max=90,name=gate.max_abs_angle)"`
}

// DefaultParams returns a Params populated with every field's tagged
// default, validated against its own bounds.
func DefaultParams() Params {
	var p Params
	bounds, err := paramBounds(&p)
	if err != nil {
		// tag definitions are a compile-time invariant of this package;
		// a failure here means the struct tags themselves are broken.
		panic(err)
	}
	v := reflect.ValueOf(&p).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		b, ok := bounds[field.Name]
		if !ok {
			continue
		}
		setFieldFloat(v.Field(i), b.Default)
	}
	return p
}

type paramBound struct {
	Default, Min, Max float64
	Name              string
}

// paramBounds walks the `param` struct tag on every field of p using
// stagparser.ParseStruct, the same reflection-tag entry point the teacher
// uses for `tiledb` tags in tiledb.go's CreateAttr helpers.
func paramBounds(p *Params) (map[string]paramBound, error) {
	defs, err := stgpsr.ParseStruct(p, "param")
	if err != nil {
		return nil, errors.Join(ErrConfiguration, err)
	}

	out := make(map[string]paramBound, len(defs))
	for field, fieldDefs := range defs {
		if len(fieldDefs) == 0 {
			continue
		}
		def := fieldDefs[0]
		b := paramBound{}
		if v, ok := def.Attribute("default"); ok {
			b.Default = toFloat(v)
		}
		if v, ok := def.Attribute("min"); ok {
			b.Min = toFloat(v)
		}
		if v, ok := def.Attribute("max"); ok {
			b.Max = toFloat(v)
		}
		if v, ok := def.Attribute("name"); ok {
			b.Name = fmt.Sprint(v)
		}
		out[field] = b
	}
	return out, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		return n
	case float32:
		return float64(n)
	default:
		return 0
	}
}

func setFieldFloat(field reflect.Value, val float64) {
	switch field.Kind() {
	case reflect.Float32, reflect.Float64:
		field.SetFloat(val)
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		field.SetUint(uint64(val))
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		field.SetInt(int64(val))
	}
}

// Validate checks every tagged field against its declared [min, max] range,
// returning a joined InputError/ConfigurationError naming every violation
// found (not just the first), so a caller resetting parameters after load
// gets the complete picture in one pass.
func (p *Params) Validate() error {
	bounds, err := paramBounds(p)
	if err != nil {
		return err
	}
	v := reflect.ValueOf(p).Elem()
	t := v.Type()

	var errs []error
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		b, ok := bounds[field.Name]
		if !ok {
			continue
		}
		val := fieldFloat(v.Field(i))
		if val < b.Min || val > b.Max {
			errs = append(errs, fmt.Errorf("%s: value %v outside [%v, %v]", b.Name, val, b.Min, b.Max))
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrBadParameter}, errs...)...)
	}
	return nil
}

func fieldFloat(field reflect.Value) float64 {
	switch field.Kind() {
	case reflect.Float32, reflect.Float64:
		return field.Float()
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		return float64(field.Uint())
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		return float64(field.Int())
	default:
		return 0
	}
}
