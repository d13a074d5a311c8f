package application

import (
	"image"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/jobrunner/owsgate/internal/domain"
)

// Grid axis names accepted by the scaling extension.
const (
	axisI    = "i"
	axisJ    = "j"
	axisIURI = "http://www.opengis.net/def/axis/OGC/1/i"
	axisJURI = "http://www.opengis.net/def/axis/OGC/1/j"
)

// pixelEpsilon absorbs floating point noise when envelopes are snapped to
// grid cells.
const pixelEpsilon = 1e-9

// DefaultMaxCells bounds the number of cells a single GetCoverage may read.
const DefaultMaxCells = 16 << 20

// CoveragePlanner turns GetCoverage requests into read plans.
type CoveragePlanner struct {
	maxCells int
}

// NewCoveragePlanner creates a planner. maxCells <= 0 selects
// DefaultMaxCells.
func NewCoveragePlanner(maxCells int) *CoveragePlanner {
	if maxCells <= 0 {
		maxCells = DefaultMaxCells
	}
	return &CoveragePlanner{maxCells: maxCells}
}

// Plan resolves subsets, scaling, range subset and format of req against
// the coverage desc.
func (p *CoveragePlanner) Plan(desc domain.CoverageDescriptor, req domain.GetCoverageRequest) (domain.CoverageReadPlan, error) {
	plan := domain.CoverageReadPlan{Coverage: desc}

	env, err := p.subset(desc, req.Subsets, &plan)
	if err != nil {
		return plan, err
	}
	window, snapped, err := pixelWindow(desc, env)
	if err != nil {
		return plan, err
	}
	plan.Window = window
	plan.Envelope = snapped

	plan.TargetWidth, plan.TargetHeight, err = targetSize(window.Dx(), window.Dy(), req.Scaling)
	if err != nil {
		return plan, err
	}

	plan.Bands, err = rangeSubset(desc, req.RangeSubset)
	if err != nil {
		return plan, err
	}

	if cells := plan.TargetWidth * plan.TargetHeight * len(plan.Bands); cells > p.maxCells {
		return plan, domain.InvalidParameter("scaling",
			"requested %d cells, at most %d can be returned", cells, p.maxCells)
	}

	plan.Format, err = outputFormat(desc, req.Format)
	if err != nil {
		return plan, err
	}
	return plan, nil
}

// subset applies dimension subsets and returns the requested envelope.
func (p *CoveragePlanner) subset(desc domain.CoverageDescriptor, subsets []domain.DimensionSubset, plan *domain.CoverageReadPlan) (orb.Bound, error) {
	env := desc.Envelope
	seen := make(map[string]bool, len(subsets))

	for _, s := range subsets {
		axis := canonicalAxis(s.Axis)
		if axis == "" {
			return env, domain.CoverageError(domain.CodeInvalidAxisLabel, s.Axis, "unknown axis %s", s.Axis)
		}
		if seen[axis] {
			return env, domain.CoverageError(domain.CodeInvalidAxisLabel, s.Axis, "axis %s subset more than once", s.Axis)
		}
		seen[axis] = true

		switch axis {
		case "x", "y":
			dim := 0
			if axis == "y" {
				dim = 1
			}
			lo, hi, err := spatialRange(s, desc.Envelope.Min[dim], desc.Envelope.Max[dim])
			if err != nil {
				return env, err
			}
			env.Min[dim], env.Max[dim] = lo, hi

		case "time":
			if len(desc.Times) == 0 {
				return env, domain.CoverageError(domain.CodeInvalidAxisLabel, s.Axis, "coverage %s has no time axis", desc.ID)
			}
			t, err := timeSelection(s, desc.Times)
			if err != nil {
				return env, err
			}
			plan.Time = &t

		case "elevation":
			if len(desc.Elevations) == 0 {
				return env, domain.CoverageError(domain.CodeInvalidAxisLabel, s.Axis, "coverage %s has no elevation axis", desc.ID)
			}
			e, err := elevationSelection(s, desc.Elevations)
			if err != nil {
				return env, err
			}
			plan.Elevation = &e
		}
	}
	return env, nil
}

func canonicalAxis(axis string) string {
	switch strings.ToLower(strings.TrimSpace(axis)) {
	case "long", "lon", "x", "e":
		return "x"
	case "lat", "y", "n":
		return "y"
	case "time":
		return "time"
	case "elevation":
		return "elevation"
	}
	return ""
}

// spatialRange intersects a trim or slice with [min, max].
func spatialRange(s domain.DimensionSubset, min, max float64) (float64, float64, error) {
	if s.IsSlice() {
		v, err := parseCoordinate(s.Point)
		if err != nil {
			return 0, 0, err
		}
		if v < min || v > max {
			return 0, 0, domain.CoverageError(domain.CodeInvalidSubsetting, s.Point,
				"slice point %s on axis %s is outside the coverage", s.Point, s.Axis)
		}
		return v, v, nil
	}

	lo, hi := min, max
	if s.Low != "" && s.Low != "*" {
		v, err := parseCoordinate(s.Low)
		if err != nil {
			return 0, 0, err
		}
		lo = v
	}
	if s.High != "" && s.High != "*" {
		v, err := parseCoordinate(s.High)
		if err != nil {
			return 0, 0, err
		}
		hi = v
	}
	if lo > hi {
		return 0, 0, domain.CoverageError(domain.CodeInvalidSubsetting, s.Low,
			"low %s is greater than high %s on axis %s", s.Low, s.High, s.Axis)
	}
	lo, hi = math.Max(lo, min), math.Min(hi, max)
	if lo > hi {
		return 0, 0, domain.CoverageError(domain.CodeInvalidSubsetting, s.Axis,
			"subset on axis %s does not intersect the coverage", s.Axis)
	}
	return lo, hi, nil
}

func parseCoordinate(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, domain.CoverageError(domain.CodeInvalidSubsetting, s, "invalid coordinate %s", s)
	}
	return v, nil
}

// timeSelection picks the instant of the coverage time domain matching the
// subset: the nearest one for a slice, the latest in range for a trim.
func timeSelection(s domain.DimensionSubset, times []time.Time) (time.Time, error) {
	first, last := times[0], times[0]
	for _, t := range times[1:] {
		if t.Before(first) {
			first = t
		}
		if t.After(last) {
			last = t
		}
	}

	if s.IsSlice() {
		at, err := parseInstant(s.Point)
		if err != nil {
			return time.Time{}, err
		}
		if at.Before(first) || at.After(last) {
			return time.Time{}, domain.CoverageError(domain.CodeInvalidSubsetting, "subset",
				"time %s is outside the coverage time domain", s.Point)
		}
		best := times[0]
		for _, t := range times[1:] {
			if absDuration(t.Sub(at)) < absDuration(best.Sub(at)) {
				best = t
			}
		}
		return best, nil
	}

	lo, hi := first, last
	var err error
	if s.Low != "" && s.Low != "*" {
		if lo, err = parseInstant(s.Low); err != nil {
			return time.Time{}, err
		}
	}
	if s.High != "" && s.High != "*" {
		if hi, err = parseInstant(s.High); err != nil {
			return time.Time{}, err
		}
	}
	if lo.After(hi) {
		return time.Time{}, domain.CoverageError(domain.CodeInvalidSubsetting, s.Low,
			"low %s is after high %s", s.Low, s.High)
	}
	var best time.Time
	found := false
	for _, t := range times {
		if t.Before(lo) || t.After(hi) {
			continue
		}
		if !found || t.After(best) {
			best = t
			found = true
		}
	}
	if !found {
		return time.Time{}, domain.CoverageError(domain.CodeInvalidSubsetting, "subset",
			"time range does not intersect the coverage time domain")
	}
	return best, nil
}

func parseInstant(s string) (time.Time, error) {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, domain.CoverageError(domain.CodeInvalidSubsetting, s, "invalid time %s", s)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// elevationSelection mirrors timeSelection for the elevation domain, where
// a trim selects the lowest elevation in range.
func elevationSelection(s domain.DimensionSubset, elevations []float64) (float64, error) {
	first, last := elevations[0], elevations[0]
	for _, e := range elevations[1:] {
		first = math.Min(first, e)
		last = math.Max(last, e)
	}

	if s.IsSlice() {
		at, err := parseCoordinate(s.Point)
		if err != nil {
			return 0, err
		}
		if at < first || at > last {
			return 0, domain.CoverageError(domain.CodeInvalidSubsetting, "subset",
				"elevation %s is outside the coverage elevation domain", s.Point)
		}
		best := elevations[0]
		for _, e := range elevations[1:] {
			if math.Abs(e-at) < math.Abs(best-at) {
				best = e
			}
		}
		return best, nil
	}

	lo, hi := first, last
	if s.Low != "" && s.Low != "*" {
		v, err := parseCoordinate(s.Low)
		if err != nil {
			return 0, err
		}
		lo = v
	}
	if s.High != "" && s.High != "*" {
		v, err := parseCoordinate(s.High)
		if err != nil {
			return 0, err
		}
		hi = v
	}
	if lo > hi {
		return 0, domain.CoverageError(domain.CodeInvalidSubsetting, s.Low,
			"low %s is greater than high %s", s.Low, s.High)
	}
	found := false
	var best float64
	for _, e := range elevations {
		if e < lo || e > hi {
			continue
		}
		if !found || e < best {
			best = e
			found = true
		}
	}
	if !found {
		return 0, domain.CoverageError(domain.CodeInvalidSubsetting, "subset",
			"elevation range does not intersect the coverage elevation domain")
	}
	return best, nil
}

// pixelWindow maps env onto the grid of desc. Rows count downwards from the
// top edge. The returned envelope is snapped to cell boundaries.
func pixelWindow(desc domain.CoverageDescriptor, env orb.Bound) (image.Rectangle, orb.Bound, error) {
	resX, resY := desc.Resolution()
	if resX <= 0 || resY <= 0 {
		return image.Rectangle{}, env, domain.NoApplicableCode("coverage "+desc.ID+" has an empty grid", nil)
	}
	full := desc.Envelope

	col0 := clamp(int(math.Floor((env.Min[0]-full.Min[0])/resX+pixelEpsilon)), 0, desc.Width-1)
	col1 := clamp(int(math.Ceil((env.Max[0]-full.Min[0])/resX-pixelEpsilon)), col0+1, desc.Width)
	row0 := clamp(int(math.Floor((full.Max[1]-env.Max[1])/resY+pixelEpsilon)), 0, desc.Height-1)
	row1 := clamp(int(math.Ceil((full.Max[1]-env.Min[1])/resY-pixelEpsilon)), row0+1, desc.Height)

	window := image.Rect(col0, row0, col1, row1)
	snapped := orb.Bound{
		Min: orb.Point{full.Min[0] + float64(col0)*resX, full.Max[1] - float64(row1)*resY},
		Max: orb.Point{full.Min[0] + float64(col1)*resX, full.Max[1] - float64(row0)*resY},
	}
	return window, snapped, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// targetSize applies the scaling extension to a w x h window.
func targetSize(w, h int, sc *domain.Scaling) (int, int, error) {
	if sc == nil || sc.Kind == domain.ScaleNone {
		return w, h, nil
	}

	switch sc.Kind {
	case domain.ScaleByFactor:
		if sc.Factor <= 0 {
			return 0, 0, domain.CoverageError(domain.CodeInvalidScaleFactor, formatFloat(sc.Factor),
				"scale factor must be positive")
		}
		return scaled(w, sc.Factor), scaled(h, sc.Factor), nil

	case domain.ScaleAxesByFactor:
		i, j, err := scaleAxes(sc.Axes, domain.CodeInvalidScaleFactor, func(a domain.AxisScale) error {
			if a.Factor <= 0 {
				return domain.CoverageError(domain.CodeInvalidScaleFactor, formatFloat(a.Factor),
					"scale factor on axis %s must be positive", a.Axis)
			}
			return nil
		})
		if err != nil {
			return 0, 0, err
		}
		return scaled(w, i.Factor), scaled(h, j.Factor), nil

	case domain.ScaleToSize:
		i, j, err := scaleAxes(sc.Axes, domain.CodeInvalidExtent, func(a domain.AxisScale) error {
			if a.Size <= 0 {
				return domain.CoverageError(domain.CodeInvalidExtent, strconv.Itoa(a.Size),
					"target size on axis %s must be positive", a.Axis)
			}
			return nil
		})
		if err != nil {
			return 0, 0, err
		}
		return i.Size, j.Size, nil

	case domain.ScaleToExtent:
		i, j, err := scaleAxes(sc.Axes, domain.CodeInvalidExtent, func(a domain.AxisScale) error {
			if a.High-a.Low <= 0 {
				return domain.CoverageError(domain.CodeInvalidExtent, strconv.Itoa(a.High),
					"extent on axis %s must have high greater than low", a.Axis)
			}
			return nil
		})
		if err != nil {
			return 0, 0, err
		}
		return i.High - i.Low, j.High - j.Low, nil
	}
	return 0, 0, domain.InvalidParameter("scaling", "unknown scaling policy")
}

// scaleAxes validates per axis scaling and returns the i and j entries.
// missingCode is reported with locator "Null" when one of them is absent.
func scaleAxes(axes []domain.AxisScale, missingCode domain.ExceptionCode, check func(domain.AxisScale) error) (domain.AxisScale, domain.AxisScale, error) {
	var i, j *domain.AxisScale
	for k := range axes {
		a := axes[k]
		switch a.Axis {
		case axisI, axisIURI:
			i = &axes[k]
		case axisJ, axisJURI:
			j = &axes[k]
		default:
			return domain.AxisScale{}, domain.AxisScale{}, domain.CoverageError(domain.CodeScaleAxisUndefined, a.Axis,
				"scaling axis %s is not a grid axis", a.Axis)
		}
		if err := check(a); err != nil {
			return domain.AxisScale{}, domain.AxisScale{}, err
		}
	}
	if i == nil || j == nil {
		return domain.AxisScale{}, domain.AxisScale{}, domain.CoverageError(missingCode, "Null",
			"scaling must name both grid axes")
	}
	return *i, *j, nil
}

func scaled(n int, factor float64) int {
	return max(1, int(math.Round(float64(n)*factor)))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// rangeSubset resolves band names and intervals to band indices. No range
// subset selects every band.
func rangeSubset(desc domain.CoverageDescriptor, items []domain.RangeItem) ([]int, error) {
	if len(items) == 0 {
		bands := make([]int, len(desc.Bands))
		for i := range bands {
			bands[i] = i
		}
		return bands, nil
	}

	var bands []int
	for _, item := range items {
		if item.Component != "" {
			idx := desc.BandIndex(item.Component)
			if idx < 0 {
				return nil, domain.CoverageError(domain.CodeNoSuchField, item.Component, "unknown band %s", item.Component)
			}
			bands = append(bands, idx)
			continue
		}
		start := desc.BandIndex(item.Start)
		if start < 0 {
			return nil, domain.CoverageError(domain.CodeNoSuchField, item.Start, "unknown band %s", item.Start)
		}
		end := desc.BandIndex(item.End)
		if end < 0 {
			return nil, domain.CoverageError(domain.CodeNoSuchField, item.End, "unknown band %s", item.End)
		}
		step := 1
		if end < start {
			step = -1
		}
		for k := start; ; k += step {
			bands = append(bands, k)
			if k == end {
				break
			}
		}
	}
	return bands, nil
}

func outputFormat(desc domain.CoverageDescriptor, requested string) (string, error) {
	if requested == "" {
		if len(desc.Formats) > 0 {
			return desc.Formats[0], nil
		}
		return "application/json", nil
	}
	if len(desc.Formats) == 0 && strings.EqualFold(requested, "application/json") {
		return "application/json", nil
	}
	for _, f := range desc.Formats {
		if strings.EqualFold(f, requested) {
			return f, nil
		}
	}
	return "", domain.InvalidParameter("format", "unsupported format %s for coverage %s", requested, desc.ID)
}
