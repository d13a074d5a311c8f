package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/owsgate/internal/domain"
	"github.com/jobrunner/owsgate/internal/records"
)

// Apply implements output.TransactionalStore. All actions run in one
// database transaction.
func (s *Store) Apply(ctx context.Context, req domain.TransactionRequest) (domain.TransactionResult, error) {
	var res domain.TransactionResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, a := range req.Actions {
		typeName := s.typeName(a.TypeName)
		switch a.Kind {
		case domain.TransactionInsert:
			for _, rec := range a.Records {
				rec.TypeName = typeName
				if err := insertRecord(ctx, tx, "", rec); err != nil {
					return domain.TransactionResult{}, err
				}
				res.InsertedIDs = append(res.InsertedIDs, rec.ID)
			}
			res.Inserted += len(a.Records)

		case domain.TransactionUpdate:
			n, err := updateRecords(ctx, tx, typeName, a.Filter, a.Set)
			if err != nil {
				return domain.TransactionResult{}, err
			}
			res.Updated += n

		case domain.TransactionDelete:
			rids, err := matchingRows(ctx, tx, typeName, a.Filter)
			if err != nil {
				return domain.TransactionResult{}, err
			}
			if err := deleteRows(ctx, tx, rids); err != nil {
				return domain.TransactionResult{}, err
			}
			res.Deleted += len(rids)

		default:
			return domain.TransactionResult{}, fmt.Errorf("unknown transaction action %q", a.Kind)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.TransactionResult{}, fmt.Errorf("committing transaction: %w", err)
	}
	return res, nil
}

// LoadSeed implements output.SeedLoader. The records and feature types of
// source are replaced atomically.
func (s *Store) LoadSeed(ctx context.Context, source string, r io.Reader) (int, error) {
	seed, err := records.DecodeSeed(r)
	if err != nil {
		return 0, err
	}
	declared, recs, err := seed.Resolve(s.types)
	if err != nil {
		return 0, fmt.Errorf("seed %s: %w", source, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := removeSource(ctx, tx, source); err != nil {
		return 0, err
	}
	for _, ft := range seed.FeatureTypes {
		spec, err := json.Marshal(ft)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO feature_types (name, source, spec) VALUES (?, ?, ?)`,
			ft.Name, source, string(spec),
		); err != nil {
			return 0, fmt.Errorf("seed %s: storing feature type %s: %w", source, ft.Name, err)
		}
	}
	for _, rec := range recs {
		if err := insertRecord(ctx, tx, source, rec); err != nil {
			return 0, fmt.Errorf("seed %s: %w", source, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing seed %s: %w", source, err)
	}

	if len(declared) > 0 {
		s.types.SetSource(source, declared)
	} else {
		s.types.RemoveSource(source)
	}
	s.logger.Debug("seed loaded", "source", source, "records", len(recs), "types", len(declared))
	return len(recs), nil
}

// RemoveSeed implements output.SeedLoader.
func (s *Store) RemoveSeed(ctx context.Context, source string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := removeSource(ctx, tx, source); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing removal of %s: %w", source, err)
	}
	s.types.RemoveSource(source)
	return nil
}

func removeSource(ctx context.Context, tx *sql.Tx, source string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rtree_records_bbox WHERE id IN (SELECT rid FROM records WHERE source = ?)`, source,
	); err != nil {
		return fmt.Errorf("removing envelopes of %s: %w", source, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE source = ?`, source); err != nil {
		return fmt.Errorf("removing records of %s: %w", source, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM feature_types WHERE source = ?`, source); err != nil {
		return fmt.Errorf("removing feature types of %s: %w", source, err)
	}
	return nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, source string, rec domain.Record) error {
	props, err := json.Marshal(nonNil(rec.Properties))
	if err != nil {
		return fmt.Errorf("record %s: encoding properties: %w", rec.ID, err)
	}

	var geom sql.NullString
	var minx, miny, maxx, maxy sql.NullFloat64
	if rec.Geometry != nil {
		raw, err := geojson.NewGeometry(rec.Geometry).MarshalJSON()
		if err != nil {
			return fmt.Errorf("record %s: encoding geometry: %w", rec.ID, err)
		}
		geom = sql.NullString{String: string(raw), Valid: true}
		b := rec.Geometry.Bound()
		minx = sql.NullFloat64{Float64: b.Min[0], Valid: true}
		miny = sql.NullFloat64{Float64: b.Min[1], Valid: true}
		maxx = sql.NullFloat64{Float64: b.Max[0], Valid: true}
		maxy = sql.NullFloat64{Float64: b.Max[1], Valid: true}
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO records (id, type_ns, type_prefix, type_local, source, properties, geometry, minx, miny, maxx, maxy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TypeName.Space, rec.TypeName.Prefix, rec.TypeName.Local, source,
		string(props), geom, minx, miny, maxx, maxy,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return domain.InvalidParameter("Insert", "record %s already exists", rec.ID)
		}
		return fmt.Errorf("record %s: %w", rec.ID, err)
	}
	rid, err := result.LastInsertId()
	if err != nil {
		return err
	}

	if rec.Geometry != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rtree_records_bbox (id, minx, maxx, miny, maxy) VALUES (?, ?, ?, ?, ?)`,
			rid, minx.Float64, maxx.Float64, miny.Float64, maxy.Float64,
		); err != nil {
			return fmt.Errorf("record %s: indexing envelope: %w", rec.ID, err)
		}
	}
	return insertValues(ctx, tx, rid, rec.Properties)
}

// insertValues fills the value index of one record. Lists contribute one
// row per item.
func insertValues(ctx context.Context, tx *sql.Tx, rid int64, props map[string]any) error {
	for name, v := range props {
		for seq, item := range flatten(v) {
			kind, txt, num := indexValue(item)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO record_values (rid, property, seq, kind, value_text, value_num) VALUES (?, ?, ?, ?, ?, ?)`,
				rid, name, seq, kind, txt, num,
			); err != nil {
				return fmt.Errorf("indexing %s: %w", name, err)
			}
		}
	}
	return nil
}

func indexValue(v any) (string, string, sql.NullFloat64) {
	switch t := v.(type) {
	case bool:
		n := 0.0
		if t {
			n = 1
		}
		return "bool", text(t), sql.NullFloat64{Float64: n, Valid: true}
	case time.Time:
		return "date", text(t), sql.NullFloat64{}
	case string:
		if f, ok := numeric(t); ok {
			return "text", t, sql.NullFloat64{Float64: f, Valid: true}
		}
		return "text", t, sql.NullFloat64{}
	}
	if f, ok := numeric(v); ok {
		return "number", text(v), sql.NullFloat64{Float64: f, Valid: true}
	}
	return "text", text(v), sql.NullFloat64{}
}

func flatten(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			if item != nil {
				out = append(out, item)
			}
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	}
	return []any{v}
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// matchingRows returns the row ids of the records of typeName matching f.
func matchingRows(ctx context.Context, tx *sql.Tx, typeName domain.QName, f domain.Filter) ([]int64, error) {
	b := &builder{}
	cond := b.typeCondition(typeName)
	where, err := b.where(f)
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, "SELECT r.rid FROM records r WHERE "+cond+" AND "+where, b.args...) //#nosec G202 -- placeholders only
	if err != nil {
		return nil, fmt.Errorf("selecting records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rids []int64
	for rows.Next() {
		var rid int64
		if err := rows.Scan(&rid); err != nil {
			return nil, err
		}
		rids = append(rids, rid)
	}
	return rids, rows.Err()
}

func deleteRows(ctx context.Context, tx *sql.Tx, rids []int64) error {
	for _, rid := range rids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM rtree_records_bbox WHERE id = ?`, rid); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE rid = ?`, rid); err != nil {
			return err
		}
	}
	return nil
}

// updateRecords sets properties on every matching record and rebuilds its
// value index.
func updateRecords(ctx context.Context, tx *sql.Tx, typeName domain.QName, f domain.Filter, set map[string]any) (int, error) {
	rids, err := matchingRows(ctx, tx, typeName, f)
	if err != nil {
		return 0, err
	}
	for _, rid := range rids {
		var raw string
		if err := tx.QueryRowContext(ctx, `SELECT properties FROM records WHERE rid = ?`, rid).Scan(&raw); err != nil {
			return 0, err
		}
		props := map[string]any{}
		if err := json.Unmarshal([]byte(raw), &props); err != nil {
			return 0, fmt.Errorf("decoding properties: %w", err)
		}
		for k, v := range set {
			if v == nil {
				delete(props, k)
				continue
			}
			props[k] = v
		}
		encoded, err := json.Marshal(props)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE records SET properties = ? WHERE rid = ?`, string(encoded), rid); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM record_values WHERE rid = ?`, rid); err != nil {
			return 0, err
		}
		if err := insertValues(ctx, tx, rid, props); err != nil {
			return 0, err
		}
	}
	return len(rids), nil
}
