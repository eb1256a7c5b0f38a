package overlay

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when a run id is unknown to the store.
var ErrRunNotFound = eris.New("run not found")

// RunRecord is the header row of one stored analysis.
type RunRecord struct {
	ID               string    `json:"id"`
	Attribute        string    `json:"attribute"`
	CreatedAt        time.Time `json:"createdAt"`
	TotalArea        float64   `json:"totalArea"`
	ChangedArea      float64   `json:"changedArea"`
	UnchangedArea    float64   `json:"unchangedArea"`
	ChangePercentage float64   `json:"changePercentage"`
	GeometryErrors   int       `json:"geometryErrors"`
}

// ResultStore persists analysis results in SQLite. Change geometries are
// stored as WKB.
type ResultStore struct {
	db *sql.DB
}

// OpenResultStore opens (or creates) the database at dsn in WAL mode.
func OpenResultStore(dsn string) (*ResultStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection; one connection keeps them in force and
	// matches SQLite's single writer.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &ResultStore{db: db}, nil
}

const resultMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	attribute         TEXT NOT NULL,
	created_at        DATETIME NOT NULL,
	total_area        REAL NOT NULL,
	changed_area      REAL NOT NULL,
	unchanged_area    REAL NOT NULL,
	change_percentage REAL NOT NULL,
	geometry_errors   INTEGER NOT NULL DEFAULT 0,
	categories        TEXT NOT NULL DEFAULT '[]',
	diagnostics       TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS change_matrix (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	rank       INTEGER NOT NULL,
	from_value TEXT NOT NULL,
	to_value   TEXT NOT NULL,
	area_m2    REAL NOT NULL,
	count      INTEGER NOT NULL,
	PRIMARY KEY (run_id, rank)
);

CREATE TABLE IF NOT EXISTS change_features (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq          INTEGER NOT NULL,
	status       TEXT NOT NULL,
	before_value TEXT NOT NULL,
	after_value  TEXT NOT NULL,
	area_m2      REAL NOT NULL,
	geom_wkb     BLOB NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_change_features_status ON change_features(run_id, status);
`

// Migrate creates the schema if needed.
func (s *ResultStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, resultMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *ResultStore) Close() error {
	return s.db.Close()
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.New().String() }

// SaveResult stores r under id in one transaction. An empty id gets a new
// UUID. The id is returned.
func (s *ResultStore) SaveResult(ctx context.Context, id string, r *AnalysisResult) (string, error) {
	if id == "" {
		id = NewRunID()
	}
	categories, err := json.Marshal(r.Categories)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal categories")
	}
	diagnostics, err := json.Marshal(r.Diagnostics)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal diagnostics")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: begin")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, attribute, created_at, total_area, changed_area, unchanged_area,
			change_percentage, geometry_errors, categories, diagnostics)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, r.Attribute, time.Now().UTC(), r.TotalArea, r.ChangedArea, r.UnchangedArea,
		r.ChangePercentage, r.Diagnostics.GeometryErrors, string(categories), string(diagnostics),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: insert run %s", id)
	}

	matrixStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO change_matrix (run_id, rank, from_value, to_value, area_m2, count) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: prepare matrix insert")
	}
	defer matrixStmt.Close()
	for rank, e := range r.ChangeMatrix {
		from, to, err := encodeValues(e.From, e.To)
		if err != nil {
			return "", err
		}
		if _, err := matrixStmt.ExecContext(ctx, id, rank+1, from, to, e.Area, e.Count); err != nil {
			return "", eris.Wrapf(err, "sqlite: insert matrix rank %d", rank+1)
		}
	}

	featureStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO change_features (run_id, seq, status, before_value, after_value, area_m2, geom_wkb)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: prepare feature insert")
	}
	defer featureStmt.Close()
	for seq, rec := range r.ChangeFeatures {
		before, after, err := encodeValues(rec.BeforeValue, rec.AfterValue)
		if err != nil {
			return "", err
		}
		data, err := EncodeWKB(rec.Geometry)
		if err != nil {
			return "", err
		}
		if _, err := featureStmt.ExecContext(ctx, id, seq, string(rec.Status), before, after, rec.Area, data); err != nil {
			return "", eris.Wrapf(err, "sqlite: insert feature %d", seq)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", eris.Wrap(err, "sqlite: commit")
	}
	return id, nil
}

// GetRun returns the header row of a stored run.
func (s *ResultStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, attribute, created_at, total_area, changed_area, unchanged_area, change_percentage, geometry_errors
		 FROM runs WHERE id = ?`, id)
	rec, err := scanRunRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "sqlite: get run %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", id)
	}
	return rec, nil
}

// ListRuns returns the most recent runs first.
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, attribute, created_at, total_area, changed_area, unchanged_area, change_percentage, geometry_errors
		 FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRunRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

// LoadResult rebuilds a stored AnalysisResult, including colors.
func (s *ResultStore) LoadResult(ctx context.Context, id string) (*AnalysisResult, error) {
	var (
		attribute                 string
		total, changed, unchanged float64
		pct                       float64
		categoriesJSON, diagJSON  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT attribute, total_area, changed_area, unchanged_area, change_percentage, categories, diagnostics
		 FROM runs WHERE id = ?`, id,
	).Scan(&attribute, &total, &changed, &unchanged, &pct, &categoriesJSON, &diagJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "sqlite: load run %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load run %s", id)
	}

	r := &AnalysisResult{
		Attribute:        attribute,
		TotalArea:        total,
		ChangedArea:      changed,
		UnchangedArea:    unchanged,
		ChangePercentage: pct,
		Categories:       []any{},
		ChangeMatrix:     []ChangeMatrixEntry{},
		ChangeFeatures:   []ChangeRecord{},
	}
	if err := json.Unmarshal([]byte(categoriesJSON), &r.Categories); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode categories")
	}
	if err := json.Unmarshal([]byte(diagJSON), &r.Diagnostics); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode diagnostics")
	}

	if r.ChangeMatrix, err = s.loadMatrix(ctx, id); err != nil {
		return nil, err
	}
	if r.ChangeFeatures, err = s.loadFeatures(ctx, id); err != nil {
		return nil, err
	}

	r.ValueColors = ValueColorMap(r.Categories)
	r.TransitionColors = TransitionColorMap(r.ChangeFeatures)
	return r, nil
}

func (s *ResultStore) loadMatrix(ctx context.Context, id string) ([]ChangeMatrixEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_value, to_value, area_m2, count FROM change_matrix WHERE run_id = ? ORDER BY rank`, id)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query matrix")
	}
	defer rows.Close()

	out := []ChangeMatrixEntry{}
	for rows.Next() {
		var from, to string
		var e ChangeMatrixEntry
		if err := rows.Scan(&from, &to, &e.Area, &e.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan matrix")
		}
		if e.From, e.To, err = decodeValues(from, to); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate matrix")
}

func (s *ResultStore) loadFeatures(ctx context.Context, id string) ([]ChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, before_value, after_value, area_m2, geom_wkb FROM change_features WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query features")
	}
	defer rows.Close()

	out := []ChangeRecord{}
	for rows.Next() {
		var status, before, after string
		var data []byte
		var rec ChangeRecord
		if err := rows.Scan(&status, &before, &after, &rec.Area, &data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feature")
		}
		rec.Status = Status(status)
		if rec.BeforeValue, rec.AfterValue, err = decodeValues(before, after); err != nil {
			return nil, err
		}
		if rec.Geometry, err = DecodeWKB(data); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate features")
}

// DeleteRun removes a run and its rows.
func (s *ResultStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete run %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrRunNotFound, "sqlite: delete run %s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRunRecord(row scannable) (*RunRecord, error) {
	var rec RunRecord
	err := row.Scan(&rec.ID, &rec.Attribute, &rec.CreatedAt, &rec.TotalArea, &rec.ChangedArea,
		&rec.UnchangedArea, &rec.ChangePercentage, &rec.GeometryErrors)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Attribute values are stored as JSON so their type survives the round
// trip.
func encodeValues(a, b any) (string, string, error) {
	ja, err := json.Marshal(a)
	if err != nil {
		return "", "", eris.Wrap(err, "sqlite: encode value")
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return "", "", eris.Wrap(err, "sqlite: encode value")
	}
	return string(ja), string(jb), nil
}

func decodeValues(a, b string) (any, any, error) {
	var va, vb any
	if err := json.Unmarshal([]byte(a), &va); err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: decode value")
	}
	if err := json.Unmarshal([]byte(b), &vb); err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: decode value")
	}
	return va, vb, nil
}

// EncodeWKB encodes mp as a little-endian WKB MultiPolygon.
func EncodeWKB(mp orb.MultiPolygon) ([]byte, error) {
	coords := make([][][]geom.Coord, len(mp))
	for i, poly := range mp {
		coords[i] = make([][]geom.Coord, len(poly))
		for j, ring := range poly {
			cs := make([]geom.Coord, len(ring))
			for k, p := range ring {
				cs[k] = geom.Coord{p[0], p[1]}
			}
			coords[i][j] = cs
		}
	}
	g, err := geom.NewMultiPolygon(geom.XY).SetCoords(coords)
	if err != nil {
		return nil, eris.Wrap(err, "wkb: build multipolygon")
	}
	data, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "wkb: encode")
	}
	return data, nil
}

// DecodeWKB decodes a WKB Polygon or MultiPolygon.
func DecodeWKB(data []byte) (orb.MultiPolygon, error) {
	g, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "wkb: decode")
	}
	switch t := g.(type) {
	case *geom.MultiPolygon:
		return coordsToMultiPolygon(t.Coords()), nil
	case *geom.Polygon:
		return coordsToMultiPolygon([][][]geom.Coord{t.Coords()}), nil
	}
	return nil, eris.Errorf("wkb: unexpected geometry %T", g)
}

func coordsToMultiPolygon(coords [][][]geom.Coord) orb.MultiPolygon {
	mp := make(orb.MultiPolygon, len(coords))
	for i, poly := range coords {
		mp[i] = make(orb.Polygon, len(poly))
		for j, ring := range poly {
			r := make(orb.Ring, len(ring))
			for k, c := range ring {
				r[k] = orb.Point{c[0], c[1]}
			}
			mp[i][j] = r
		}
	}
	return mp
}
