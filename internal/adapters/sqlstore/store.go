// Package sqlstore provides a SQLite catalog store. Record properties are
// kept as JSON next to a value index used for filtering, and record
// envelopes are indexed in an R*Tree.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/owsgate/internal/domain"
	"github.com/jobrunner/owsgate/internal/ports/output"
	"github.com/jobrunner/owsgate/internal/records"
)

// Name identifies the store for selection.
const Name = "sqlite"

// Store implements output.TransactionalStore and output.SeedLoader.
type Store struct {
	db     *sql.DB
	types  *records.TypeSet
	logger *slog.Logger
}

// Open opens or creates the catalog database at path. ":memory:" opens a
// private in-memory database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=1&_busy_timeout=5000", path)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}
	// One connection keeps in-memory databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating catalog schema: %w", err)
	}

	s := &Store{
		db:     db,
		types:  records.NewTypeSet(records.DublinCore(), records.ISO()),
		logger: logger,
	}
	if err := s.loadFeatureTypes(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// loadFeatureTypes registers the feature types stored in the database.
func (s *Store) loadFeatureTypes(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT source, spec FROM feature_types ORDER BY rowid`)
	if err != nil {
		return fmt.Errorf("reading feature types: %w", err)
	}
	defer func() { _ = rows.Close() }()

	bySource := make(map[string][]domain.TypeDescriptor)
	var order []string
	for rows.Next() {
		var source, spec string
		if err := rows.Scan(&source, &spec); err != nil {
			return fmt.Errorf("scanning feature type: %w", err)
		}
		var ft records.FeatureTypeSpec
		if err := json.Unmarshal([]byte(spec), &ft); err != nil {
			return fmt.Errorf("decoding feature type: %w", err)
		}
		d, err := ft.Descriptor()
		if err != nil {
			return err
		}
		if _, ok := bySource[source]; !ok {
			order = append(order, source)
		}
		bySource[source] = append(bySource[source], d)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, src := range order {
		s.types.SetSource(src, bySource[src])
	}
	return nil
}

// Name implements output.CatalogStore.
func (s *Store) Name() string {
	return Name
}

// RecordDescriptors implements output.CatalogStore.
func (s *Store) RecordDescriptors(_ context.Context) ([]domain.TypeDescriptor, error) {
	return s.types.All(), nil
}

// typeName returns the canonical name of the type q refers to.
func (s *Store) typeName(name domain.QName) domain.QName {
	if d, ok := s.types.Lookup(name); ok {
		return d.Name()
	}
	return name
}

// Count implements output.CatalogStore.
func (s *Store) Count(ctx context.Context, q domain.Query) (int, error) {
	b := &builder{}
	cond := b.typeCondition(s.typeName(q.TypeName))
	where, err := b.where(q.Filter)
	if err != nil {
		return 0, err
	}

	query := "SELECT count(*) FROM records r WHERE " + cond + " AND " + where //#nosec G202 -- conditions are built from placeholders
	var n int
	if err := s.db.QueryRowContext(ctx, query, b.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

// Query implements output.CatalogStore.
func (s *Store) Query(ctx context.Context, q domain.Query) (output.RecordIterator, error) {
	b := &builder{}
	typeName := s.typeName(q.TypeName)
	cond := b.typeCondition(typeName)
	where, err := b.where(q.Filter)
	if err != nil {
		return nil, err
	}
	order := b.orderBy(q.SortBy)

	limit := -1
	if q.Limited() {
		limit = q.MaxRecords
	}
	query := "SELECT r.id, r.properties, r.geometry FROM records r WHERE " + cond + " AND " + where +
		" ORDER BY " + order + " LIMIT " + b.arg(limit) + " OFFSET " + b.arg(max(q.StartIndex, 0)) //#nosec G202 -- conditions are built from placeholders

	rows, err := s.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}

	keepGeometry := q.Properties == nil
	if desc, ok := s.types.Lookup(typeName); ok {
		for _, p := range q.Properties {
			if a, ok := desc.Attribute(p.Local); ok && a.IsGeometry() {
				keepGeometry = true
				break
			}
		}
	}
	return &rowIterator{
		rows:         rows,
		typeName:     typeName,
		properties:   q.Properties,
		keepGeometry: keepGeometry,
	}, nil
}

// DomainValues implements output.CatalogStore.
func (s *Store) DomainValues(ctx context.Context, typeName domain.QName, property string) ([]string, error) {
	b := &builder{}
	cond := b.typeCondition(s.typeName(typeName))
	query := `SELECT DISTINCT v.value_text FROM record_values v JOIN records r ON r.rid = v.rid
		WHERE ` + cond + ` AND v.property = ` + b.arg(records.LocalName(property)) + ` ORDER BY v.value_text` //#nosec G202 -- placeholders only

	rows, err := s.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("reading domain values: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Capabilities implements output.CatalogStore.
func (s *Store) Capabilities(_ context.Context) (output.StoreCapabilities, error) {
	types := s.types.All()
	queryables := make(map[string][]string, len(types))
	names := make([]string, 0, len(types))
	for _, t := range types {
		queryables[t.Name().String()] = t.Queryables()
		names = append(names, t.Name().String())
	}
	params := records.OperationParameters(types)
	params["Transaction"] = []domain.Domain{
		{Name: "TypeName", Values: names},
		{Name: "ConstraintLanguage", Values: []string{"FILTER", "CQL_TEXT"}},
	}
	return output.StoreCapabilities{
		OperationParameters: params,
		Queryables:          queryables,
		Transactions:        true,
	}, nil
}

// TranslateProperty implements output.CatalogStore.
func (s *Store) TranslateProperty(desc domain.TypeDescriptor, name string) (string, error) {
	attr, ok := desc.Attribute(name)
	if !ok {
		return "", fmt.Errorf("%s has no property %s", desc.Name(), name)
	}
	return attr.Name.Local, nil
}

// rowIterator decodes record rows.
type rowIterator struct {
	rows         *sql.Rows
	typeName     domain.QName
	properties   []domain.QName
	keepGeometry bool
	current      domain.Record
	err          error
}

func (it *rowIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	var (
		id, props string
		geom      sql.NullString
	)
	if err := it.rows.Scan(&id, &props, &geom); err != nil {
		it.err = err
		return false
	}
	rec, err := decodeRecord(id, it.typeName, props, geom)
	if err != nil {
		it.err = err
		return false
	}
	it.current = rec.Project(it.properties, it.keepGeometry)
	return true
}

func (it *rowIterator) Record() domain.Record {
	return it.current
}

func (it *rowIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *rowIterator) Close() error {
	return it.rows.Close()
}

func decodeRecord(id string, typeName domain.QName, props string, geom sql.NullString) (domain.Record, error) {
	rec := domain.Record{ID: id, TypeName: typeName}
	if err := json.Unmarshal([]byte(props), &rec.Properties); err != nil {
		return rec, fmt.Errorf("record %s: decoding properties: %w", id, err)
	}
	if geom.Valid && geom.String != "" {
		g, err := geojson.UnmarshalGeometry([]byte(geom.String))
		if err != nil {
			return rec, fmt.Errorf("record %s: decoding geometry: %w", id, err)
		}
		rec.Geometry = g.Geometry()
	}
	return rec, nil
}

var (
	_ output.TransactionalStore = (*Store)(nil)
	_ output.SeedLoader         = (*Store)(nil)
)
