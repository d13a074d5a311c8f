package sqlstore

import (
	"database/sql"
	"regexp"
	"sync"

	"github.com/mattn/go-sqlite3"
)

// driverName is the sqlite3 driver with the REGEXP function registered.
const driverName = "sqlite3_owsgate"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("regexp", matchRegexp, true)
		},
	})
}

var patterns sync.Map // pattern -> *regexp.Regexp

// matchRegexp backs "value REGEXP pattern". SQLite passes the pattern
// first.
func matchRegexp(pattern, value string) (bool, error) {
	if re, ok := patterns.Load(pattern); ok {
		return re.(*regexp.Regexp).MatchString(value), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, err
	}
	patterns.Store(pattern, re)
	return re.MatchString(value), nil
}

const schema = `
CREATE TABLE IF NOT EXISTS records (
	rid         INTEGER PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	type_ns     TEXT NOT NULL,
	type_prefix TEXT NOT NULL,
	type_local  TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	properties  TEXT NOT NULL,
	geometry    TEXT,
	minx        REAL,
	miny        REAL,
	maxx        REAL,
	maxy        REAL
);
CREATE INDEX IF NOT EXISTS records_type ON records (type_local, type_ns);
CREATE INDEX IF NOT EXISTS records_source ON records (source);

CREATE TABLE IF NOT EXISTS record_values (
	rid        INTEGER NOT NULL REFERENCES records (rid) ON DELETE CASCADE,
	property   TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	value_text TEXT NOT NULL,
	value_num  REAL
);
CREATE INDEX IF NOT EXISTS record_values_rid ON record_values (rid, property);
CREATE INDEX IF NOT EXISTS record_values_text ON record_values (property, value_text);

CREATE VIRTUAL TABLE IF NOT EXISTS rtree_records_bbox USING rtree(id, minx, maxx, miny, maxy);

CREATE TABLE IF NOT EXISTS feature_types (
	name   TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	spec   TEXT NOT NULL
);
`
