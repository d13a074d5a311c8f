package domain

import (
	"image"
	"time"

	"github.com/paulmach/orb"
)

// Band is one range component of a coverage.
type Band struct {
	Name        string
	Description string
	Unit        string
	NoData      *float64
}

// CoverageDescriptor describes a gridded coverage.
type CoverageDescriptor struct {
	ID         string
	Title      string
	CRS        string
	Envelope   orb.Bound // in CRS units, X first
	Width      int       // grid columns
	Height     int       // grid rows
	Bands      []Band
	Times      []time.Time // empty when the coverage has no time dimension
	Elevations []float64   // empty when the coverage has no elevation dimension
	Formats    []string
}

// Resolution returns the cell size along x and y.
func (c CoverageDescriptor) Resolution() (float64, float64) {
	if c.Width == 0 || c.Height == 0 {
		return 0, 0
	}
	return (c.Envelope.Max[0] - c.Envelope.Min[0]) / float64(c.Width),
		(c.Envelope.Max[1] - c.Envelope.Min[1]) / float64(c.Height)
}

// BandIndex returns the index of the named band or -1.
func (c CoverageDescriptor) BandIndex(name string) int {
	for i, b := range c.Bands {
		if b.Name == name {
			return i
		}
	}
	return -1
}

// DimensionSubset trims or slices one axis. Values are kept as written so
// time axes can be parsed as instants.
type DimensionSubset struct {
	Axis  string
	Low   string // trim
	High  string // trim
	Point string // slice, exclusive with Low/High
}

// IsSlice reports whether the subset is a slice.
func (d DimensionSubset) IsSlice() bool {
	return d.Point != ""
}

// ScalingKind selects a scaling policy.
type ScalingKind int

// Scaling policies.
const (
	ScaleNone ScalingKind = iota
	ScaleByFactor
	ScaleAxesByFactor
	ScaleToSize
	ScaleToExtent
)

// AxisScale scales one grid axis.
type AxisScale struct {
	Axis   string
	Factor float64 // ScaleAxesByFactor
	Size   int     // ScaleToSize
	Low    int     // ScaleToExtent
	High   int     // ScaleToExtent
}

// Scaling is the scaling extension of GetCoverage.
type Scaling struct {
	Kind   ScalingKind
	Factor float64 // ScaleByFactor
	Axes   []AxisScale
}

// RangeItem selects a band or an inclusive band interval.
type RangeItem struct {
	Component string // single band
	Start     string // interval start
	End       string // interval end
}

// GetCoverageRequest is a WCS GetCoverage invocation.
type GetCoverageRequest struct {
	CoverageID  string
	Subsets     []DimensionSubset
	Scaling     *Scaling
	RangeSubset []RangeItem
	Format      string
}

// DescribeCoverageRequest is a WCS DescribeCoverage invocation.
type DescribeCoverageRequest struct {
	CoverageIDs []string
}

// CoverageReadPlan is what the coverage store is asked to read.
type CoverageReadPlan struct {
	Coverage     CoverageDescriptor
	Envelope     orb.Bound
	Window       image.Rectangle // source pixel window, Min inclusive, Max exclusive
	TargetWidth  int
	TargetHeight int
	Bands        []int
	Time         *time.Time
	Elevation    *float64
	Format       string
}

// Coverage is a read coverage: one row-major slice of values per band.
type Coverage struct {
	Plan      CoverageReadPlan
	BandNames []string
	Data      [][]float64
}
