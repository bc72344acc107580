package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"mixsearch/internal/models"
	sqlm "mixsearch/internal/storage/sqlite"
)

var _ Repository = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, unavailable("create db dir", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, unavailable("open", err)
	}
	// single writer: check-then-insert statements rely on serialized access
	db.SetMaxOpenConns(1)
	if err := (sqlm.Manager{}).UpToLatest(context.Background(), db); err != nil {
		db.Close()
		return nil, unavailable("migrate", err)
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes underlying *sql.DB for internal helpers and tests.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error { return s.db.Close() }

// WithTx provides a simple transaction wrapper that commits on nil error
// and rolls back on error. The callback must not hold the tx beyond return.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrStoreUnavailable, err)
}

func encodeCode(c models.ModelCode) string {
	b, _ := json.Marshal(c)
	return string(b)
}

// Enumeration partitions

func (s *SQLiteStore) IsComplete(ctx context.Context, k int) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM enum_complete WHERE k=?`, k).Scan(&n); err != nil {
		return false, unavailable("is complete", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) CodeCount(ctx context.Context, k int) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM enum_codes WHERE k=?`, k).Scan(&n); err != nil {
		return 0, unavailable("code count", err)
	}
	return n, nil
}

// AppendCode is the single-record form of AppendCodes.
func (s *SQLiteStore) AppendCode(ctx context.Context, k, seq int, c models.ModelCode) error {
	return s.AppendCodes(ctx, k, seq, []models.ModelCode{c})
}

func (s *SQLiteStore) AppendCodes(ctx context.Context, k, startSeq int, codes []models.ModelCode) error {
	if len(codes) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO enum_codes(k,seq,mask,code) VALUES(?,?,?,?)`)
		if err != nil {
			return unavailable("prepare append", err)
		}
		defer stmt.Close()
		for i, c := range codes {
			if c.Len() != k {
				return fmt.Errorf("append k=%d: code %s has %d terms", k, c, c.Len())
			}
			if _, err := stmt.ExecContext(ctx, k, startSeq+i, int64(c), encodeCode(c)); err != nil {
				return unavailable("append code", err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) MarkComplete(ctx context.Context, k, total int) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO enum_complete(k,total,completed_at) VALUES(?,?,?)`, k, total, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return unavailable("mark complete", err)
	}
	return nil
}

func (s *SQLiteStore) Codes(ctx context.Context, k int) ([]models.ModelCode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT mask FROM enum_codes WHERE k=? ORDER BY seq`, k)
	if err != nil {
		return nil, unavailable("codes", err)
	}
	defer rows.Close()
	var out []models.ModelCode
	for rows.Next() {
		var mask int64
		if err := rows.Scan(&mask); err != nil {
			return nil, unavailable("scan code", err)
		}
		c, err := models.CodeFromMask(mask)
		if err != nil {
			return nil, fmt.Errorf("k=%d: %w", k, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("codes", err)
	}
	return out, nil
}

func (s *SQLiteStore) EnumerationStatus(ctx context.Context) ([]models.EnumerationStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT c.k, COUNT(1), EXISTS(SELECT 1 FROM enum_complete m WHERE m.k=c.k)
        FROM enum_codes c GROUP BY c.k ORDER BY c.k`)
	if err != nil {
		return nil, unavailable("enumeration status", err)
	}
	defer rows.Close()
	var out []models.EnumerationStatus
	for rows.Next() {
		var st models.EnumerationStatus
		if err := rows.Scan(&st.K, &st.Count, &st.Complete); err != nil {
			return nil, unavailable("scan status", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Score partitions

func (s *SQLiteStore) HasScore(ctx context.Context, sc models.ScoringContext, c models.ModelCode) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM scores WHERE context=? AND mask=?`, sc.Key(), int64(c)).Scan(&n)
	if err != nil {
		return false, unavailable("has score", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ScoredCodes(ctx context.Context, sc models.ScoringContext) (map[models.ModelCode]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT mask FROM scores WHERE context=?`, sc.Key())
	if err != nil {
		return nil, unavailable("scored codes", err)
	}
	defer rows.Close()
	out := make(map[models.ModelCode]struct{})
	for rows.Next() {
		var mask int64
		if err := rows.Scan(&mask); err != nil {
			return nil, unavailable("scan scored", err)
		}
		out[models.ModelCode(mask)] = struct{}{}
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertScore(ctx context.Context, rec models.ScoreRecord, force bool) (bool, error) {
	now := rec.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	args := []any{rec.Context.Key(), int64(rec.Code), encodeCode(rec.Code), rec.Code.Len(), rec.MeanCVScore, rec.RunID, now.UTC().Format(time.RFC3339Nano)}
	var (
		res sql.Result
		err error
	)
	if force {
		res, err = s.db.ExecContext(ctx, `INSERT INTO scores(context,mask,code,n_terms,mean_cv_score,run_id,created_at) VALUES(?,?,?,?,?,?,?)`, args...)
	} else {
		res, err = s.db.ExecContext(ctx, `INSERT INTO scores(context,mask,code,n_terms,mean_cv_score,run_id,created_at)
            SELECT ?,?,?,?,?,?,? WHERE NOT EXISTS (SELECT 1 FROM scores WHERE context=? AND mask=?)`,
			append(args, rec.Context.Key(), int64(rec.Code))...)
	}
	if err != nil {
		return false, unavailable("insert score", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("insert score", err)
	}
	return n == 1, nil
}

const scoreCols = `id, context, mask, n_terms, mean_cv_score, COALESCE(run_id,''), created_at`

func scanScore(row interface{ Scan(...any) error }) (models.ScoreRecord, error) {
	var (
		rec     models.ScoreRecord
		key     string
		mask    int64
		created string
	)
	if err := row.Scan(&rec.ID, &key, &mask, &rec.NTerms, &rec.MeanCVScore, &rec.RunID, &created); err != nil {
		return rec, err
	}
	sc, err := models.ParseContext(key)
	if err != nil {
		return rec, err
	}
	rec.Context = sc
	rec.Code = models.ModelCode(mask)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return rec, nil
}

func (s *SQLiteStore) LatestScore(ctx context.Context, sc models.ScoringContext, c models.ModelCode) (models.ScoreRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scoreCols+` FROM scores WHERE context=? AND mask=? ORDER BY id DESC LIMIT 1`, sc.Key(), int64(c))
	rec, err := scanScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, unavailable("latest score", err)
	}
	return rec, true, nil
}

func (s *SQLiteStore) TopScores(ctx context.Context, sc models.ScoringContext, n int) ([]models.ScoreRecord, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+scoreCols+` FROM scores s
        WHERE s.context=? AND s.id = (SELECT MAX(id) FROM scores l WHERE l.context=s.context AND l.mask=s.mask)
        ORDER BY s.mean_cv_score DESC, s.id ASC LIMIT ?`, sc.Key(), n)
	if err != nil {
		return nil, unavailable("top scores", err)
	}
	defer rows.Close()
	var out []models.ScoreRecord
	for rows.Next() {
		rec, err := scanScore(rows)
		if err != nil {
			return nil, unavailable("scan score", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ScoreCount(ctx context.Context, sc models.ScoringContext) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT mask) FROM scores WHERE context=?`, sc.Key()).Scan(&n); err != nil {
		return 0, unavailable("score count", err)
	}
	return n, nil
}

func (s *SQLiteStore) ContextStatus(ctx context.Context) ([]models.ContextStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT context, COUNT(DISTINCT mask) FROM scores GROUP BY context ORDER BY context`)
	if err != nil {
		return nil, unavailable("context status", err)
	}
	defer rows.Close()
	var out []models.ContextStatus
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, unavailable("scan context status", err)
		}
		sc, err := models.ParseContext(key)
		if err != nil {
			return nil, err
		}
		out = append(out, models.ContextStatus{Context: sc, Scored: n})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Claim(ctx context.Context, sc models.ScoringContext, c models.ModelCode, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `INSERT INTO score_claims(context,mask,owner,expires_at) VALUES(?,?,?,?)
        ON CONFLICT(context, mask) DO UPDATE SET owner=excluded.owner, expires_at=excluded.expires_at
        WHERE score_claims.expires_at < ? OR score_claims.owner = excluded.owner`,
		sc.Key(), int64(c), owner, now.Add(ttl).UnixNano(), now.UnixNano())
	if err != nil {
		return false, unavailable("claim", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("claim", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) Release(ctx context.Context, sc models.ScoringContext, c models.ModelCode, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM score_claims WHERE context=? AND mask=? AND owner=?`, sc.Key(), int64(c), owner)
	if err != nil {
		return unavailable("release", err)
	}
	return nil
}

// Observations / fractions

// InsertObservations upserts by (equipment, data type, sample); a re-import
// replaces earlier values.
func (s *SQLiteStore) InsertObservations(ctx context.Context, obs []models.Observation) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, o := range obs {
			_, err := tx.ExecContext(ctx, `INSERT INTO observations(equipment_name,data_type,sample_number,value,created_at) VALUES(?,?,?,?,?)
                ON CONFLICT(equipment_name,data_type,sample_number) DO UPDATE SET value=excluded.value, created_at=excluded.created_at`,
				o.Equipment, o.DataType, o.Sample, o.Value, now)
			if err != nil {
				return unavailable("insert observation", err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Observations(ctx context.Context, equipment, dataType string) ([]models.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sample_number, value FROM observations WHERE equipment_name=? AND data_type=? ORDER BY sample_number`, equipment, dataType)
	if err != nil {
		return nil, unavailable("observations", err)
	}
	defer rows.Close()
	var out []models.Observation
	for rows.Next() {
		o := models.Observation{Equipment: equipment, DataType: dataType}
		if err := rows.Scan(&o.Sample, &o.Value); err != nil {
			return nil, unavailable("scan observation", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Contexts(ctx context.Context) ([]models.ScoringContext, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT equipment_name, data_type FROM observations ORDER BY equipment_name, data_type`)
	if err != nil {
		return nil, unavailable("contexts", err)
	}
	defer rows.Close()
	var out []models.ScoringContext
	for rows.Next() {
		var sc models.ScoringContext
		if err := rows.Scan(&sc.Source, &sc.DataType); err != nil {
			return nil, unavailable("scan context", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertFractions(ctx context.Context, fr map[int]models.Fractions) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for sample, f := range fr {
			_, err := tx.ExecContext(ctx, `INSERT INTO fractions(sample_number,f0,f1,f2,f3,f4,f5,f6,updated_at) VALUES(?,?,?,?,?,?,?,?,?)
                ON CONFLICT(sample_number) DO UPDATE SET f0=excluded.f0, f1=excluded.f1, f2=excluded.f2, f3=excluded.f3,
                f4=excluded.f4, f5=excluded.f5, f6=excluded.f6, updated_at=excluded.updated_at`,
				sample, f[0], f[1], f[2], f[3], f[4], f[5], f[6], now)
			if err != nil {
				return unavailable("upsert fractions", err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Fractions(ctx context.Context) (map[int]models.Fractions, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sample_number,f0,f1,f2,f3,f4,f5,f6 FROM fractions`)
	if err != nil {
		return nil, unavailable("fractions", err)
	}
	defer rows.Close()
	out := make(map[int]models.Fractions)
	for rows.Next() {
		var sample int
		var f models.Fractions
		if err := rows.Scan(&sample, &f[0], &f[1], &f[2], &f[3], &f[4], &f[5], &f[6]); err != nil {
			return nil, unavailable("scan fractions", err)
		}
		out[sample] = f
	}
	return out, rows.Err()
}

// Runs

func (s *SQLiteStore) CreateRun(ctx context.Context, kind string) (*models.Run, error) {
	now := time.Now()
	run := &models.Run{ID: uuid.NewString(), Kind: kind, Status: models.RunRunning, StartedAt: now}
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs(id,kind,status,started_at) VALUES(?,?,?,?)`, run.ID, kind, string(run.Status), now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, unavailable("create run", err)
	}
	return run, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, id string, status models.RunStatus, metrics string) error {
	if status == "" {
		status = models.RunCompleted
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET status=?, finished_at=?, metrics=? WHERE id=?`, string(status), now, metrics, id)
	if err != nil {
		return unavailable("finish run", err)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, status, started_at, finished_at, metrics FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, unavailable("list runs", err)
	}
	defer rows.Close()
	var out []*models.Run
	for rows.Next() {
		var (
			r                 models.Run
			status, started   string
			finished, metrics sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Kind, &status, &started, &finished, &metrics); err != nil {
			return nil, unavailable("scan run", err)
		}
		r.Status = models.RunStatus(status)
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		if finished.Valid {
			if t, err := time.Parse(time.RFC3339, finished.String); err == nil {
				r.Finished = &t
			}
		}
		r.Metrics = metrics.String
		out = append(out, &r)
	}
	return out, rows.Err()
}
