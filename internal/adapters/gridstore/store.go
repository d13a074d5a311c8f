// Package gridstore provides an in-memory coverage store whose grids are
// declared in a YAML definitions file.
package gridstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"

	"github.com/jobrunner/owsgate/internal/domain"
	"github.com/jobrunner/owsgate/internal/ports/output"
)

// Definitions is the content of a coverage definitions file.
//
//	coverages:
//	  - id: dem
//	    title: Digital elevation model
//	    crs: EPSG:4326
//	    envelope: [5.8, 47.2, 15.1, 55.1]
//	    width: 4
//	    height: 2
//	    times: ["2024-01-01T00:00:00Z"]
//	    formats: [image/tiff, application/json]
//	    bands:
//	      - name: height
//	        unit: m
//	        values: [1, 2, 3, 4, 5, 6, 7, 8]
type Definitions struct {
	Coverages []CoverageSpec `yaml:"coverages"`
}

// CoverageSpec declares one coverage.
type CoverageSpec struct {
	ID         string     `yaml:"id"`
	Title      string     `yaml:"title"`
	CRS        string     `yaml:"crs"`
	Envelope   []float64  `yaml:"envelope"`
	Width      int        `yaml:"width"`
	Height     int        `yaml:"height"`
	Times      []string   `yaml:"times"`
	Elevations []float64  `yaml:"elevations"`
	Formats    []string   `yaml:"formats"`
	Bands      []BandSpec `yaml:"bands"`
}

// BandSpec declares one band. Values hold the grid row-major from the top
// row; without values every cell holds Fill.
type BandSpec struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Unit        string    `yaml:"unit"`
	NoData      *float64  `yaml:"nodata"`
	Fill        float64   `yaml:"fill"`
	Values      []float64 `yaml:"values"`
}

type grid struct {
	desc domain.CoverageDescriptor
	data [][]float64 // per band
}

// Store implements output.CoverageStore.
type Store struct {
	mu    sync.RWMutex
	grids map[string]*grid
	order []string
}

// New creates an empty store.
func New() *Store {
	return &Store{grids: make(map[string]*grid)}
}

// Load replaces the served coverages with the definitions read from r.
func (s *Store) Load(r io.Reader) (int, error) {
	var defs Definitions
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&defs); err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("decoding coverage definitions: %w", err)
	}

	grids := make(map[string]*grid, len(defs.Coverages))
	order := make([]string, 0, len(defs.Coverages))
	for _, spec := range defs.Coverages {
		g, err := spec.build()
		if err != nil {
			return 0, fmt.Errorf("coverage %s: %w", spec.ID, err)
		}
		if _, dup := grids[spec.ID]; dup {
			return 0, fmt.Errorf("duplicate coverage %s", spec.ID)
		}
		grids[spec.ID] = g
		order = append(order, spec.ID)
	}

	s.mu.Lock()
	s.grids = grids
	s.order = order
	s.mu.Unlock()
	return len(order), nil
}

func (spec CoverageSpec) build() (*grid, error) {
	if spec.ID == "" {
		return nil, errors.New("missing id")
	}
	if len(spec.Envelope) != 4 {
		return nil, fmt.Errorf("envelope needs 4 values, got %d", len(spec.Envelope))
	}
	env := orb.Bound{
		Min: orb.Point{spec.Envelope[0], spec.Envelope[1]},
		Max: orb.Point{spec.Envelope[2], spec.Envelope[3]},
	}
	if env.Min[0] >= env.Max[0] || env.Min[1] >= env.Max[1] {
		return nil, errors.New("envelope is empty")
	}
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, fmt.Errorf("invalid grid size %dx%d", spec.Width, spec.Height)
	}
	if len(spec.Bands) == 0 {
		return nil, errors.New("no band")
	}

	desc := domain.CoverageDescriptor{
		ID:         spec.ID,
		Title:      spec.Title,
		CRS:        spec.CRS,
		Envelope:   env,
		Width:      spec.Width,
		Height:     spec.Height,
		Elevations: append([]float64(nil), spec.Elevations...),
		Formats:    spec.Formats,
	}
	if desc.CRS == "" {
		desc.CRS = "EPSG:4326"
	}
	if len(desc.Formats) == 0 {
		desc.Formats = []string{"application/json"}
	}
	sort.Float64s(desc.Elevations)
	for _, ts := range spec.Times {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("time %q: %w", ts, err)
		}
		desc.Times = append(desc.Times, t.UTC())
	}
	sort.Slice(desc.Times, func(i, j int) bool { return desc.Times[i].Before(desc.Times[j]) })

	cells := spec.Width * spec.Height
	data := make([][]float64, len(spec.Bands))
	for i, b := range spec.Bands {
		if b.Name == "" {
			return nil, fmt.Errorf("band %d has no name", i)
		}
		desc.Bands = append(desc.Bands, domain.Band{
			Name:        b.Name,
			Description: b.Description,
			Unit:        b.Unit,
			NoData:      b.NoData,
		})
		switch len(b.Values) {
		case 0:
			data[i] = make([]float64, cells)
			for c := range data[i] {
				data[i][c] = b.Fill
			}
		case cells:
			data[i] = append([]float64(nil), b.Values...)
		default:
			return nil, fmt.Errorf("band %s has %d values, want %d", b.Name, len(b.Values), cells)
		}
	}
	return &grid{desc: desc, data: data}, nil
}

// Coverages implements output.CoverageStore.
func (s *Store) Coverages(_ context.Context) ([]domain.CoverageDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.CoverageDescriptor, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.grids[id].desc)
	}
	return out, nil
}

// Coverage implements output.CoverageStore.
func (s *Store) Coverage(_ context.Context, id string) (domain.CoverageDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.grids[id]
	if !ok {
		return domain.CoverageDescriptor{}, fmt.Errorf("%s: %w", id, domain.ErrCoverageNotFound)
	}
	return g.desc, nil
}

// Read implements output.CoverageStore. The source window is resampled to
// the target size by nearest neighbour.
func (s *Store) Read(ctx context.Context, plan domain.CoverageReadPlan) (*domain.Coverage, error) {
	s.mu.RLock()
	g, ok := s.grids[plan.Coverage.ID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", plan.Coverage.ID, domain.ErrCoverageNotFound)
	}

	w := plan.Window
	if w.Empty() || w.Min.X < 0 || w.Min.Y < 0 || w.Max.X > g.desc.Width || w.Max.Y > g.desc.Height {
		return nil, fmt.Errorf("window %v outside grid %dx%d", w, g.desc.Width, g.desc.Height)
	}
	if plan.TargetWidth <= 0 || plan.TargetHeight <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", plan.TargetWidth, plan.TargetHeight)
	}

	cov := &domain.Coverage{Plan: plan}
	for _, b := range plan.Bands {
		if b < 0 || b >= len(g.data) {
			return nil, fmt.Errorf("band index %d out of range", b)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := make([]float64, plan.TargetWidth*plan.TargetHeight)
		for ty := 0; ty < plan.TargetHeight; ty++ {
			sy := w.Min.Y + ty*w.Dy()/plan.TargetHeight
			for tx := 0; tx < plan.TargetWidth; tx++ {
				sx := w.Min.X + tx*w.Dx()/plan.TargetWidth
				out[ty*plan.TargetWidth+tx] = g.data[b][sy*g.desc.Width+sx]
			}
		}
		cov.BandNames = append(cov.BandNames, g.desc.Bands[b].Name)
		cov.Data = append(cov.Data, out)
	}
	return cov, nil
}

var _ output.CoverageStore = (*Store)(nil)
