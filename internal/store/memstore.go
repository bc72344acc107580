package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mixsearch/internal/models"
)

var _ Repository = (*Store)(nil)

type claim struct {
	owner   string
	expires time.Time
}

type obsKey struct{ equipment, dataType string }

type claimKey struct {
	context string
	code    models.ModelCode
}

// Store is an in-memory Repository for tests and dry runs. Nothing survives
// the process.
type Store struct {
	mu        sync.RWMutex
	codes     map[int][]models.ModelCode
	complete  map[int]int
	scores    map[string][]models.ScoreRecord // context key -> append log
	claims    map[claimKey]claim
	obs       map[obsKey][]models.Observation
	obsOrder  []obsKey
	fractions map[int]models.Fractions
	runs      []*models.Run
	seq       int64
}

func New() *Store {
	return &Store{
		codes:     make(map[int][]models.ModelCode),
		complete:  make(map[int]int),
		scores:    make(map[string][]models.ScoreRecord),
		claims:    make(map[claimKey]claim),
		obs:       make(map[obsKey][]models.Observation),
		fractions: make(map[int]models.Fractions),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) IsComplete(ctx context.Context, k int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.complete[k]
	return ok, nil
}

func (s *Store) CodeCount(ctx context.Context, k int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.codes[k]), nil
}

func (s *Store) AppendCodes(ctx context.Context, k, startSeq int, codes []models.ModelCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if startSeq != len(s.codes[k])+1 {
		return fmt.Errorf("append k=%d: seq %d follows %d records", k, startSeq, len(s.codes[k]))
	}
	for _, c := range codes {
		if c.Len() != k {
			return fmt.Errorf("append k=%d: code %s has %d terms", k, c, c.Len())
		}
	}
	s.codes[k] = append(s.codes[k], codes...)
	return nil
}

func (s *Store) MarkComplete(ctx context.Context, k, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.complete[k]; !ok {
		s.complete[k] = total
	}
	return nil
}

func (s *Store) Codes(ctx context.Context, k int) ([]models.ModelCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ModelCode(nil), s.codes[k]...), nil
}

func (s *Store) EnumerationStatus(ctx context.Context) ([]models.EnumerationStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.EnumerationStatus
	for k, cs := range s.codes {
		_, done := s.complete[k]
		out = append(out, models.EnumerationStatus{K: k, Count: len(cs), Complete: done})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].K < out[j].K })
	return out, nil
}

func (s *Store) HasScore(ctx context.Context, sc models.ScoringContext, c models.ModelCode) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasScoreLocked(sc.Key(), c), nil
}

func (s *Store) hasScoreLocked(key string, c models.ModelCode) bool {
	for _, r := range s.scores[key] {
		if r.Code == c {
			return true
		}
	}
	return false
}

func (s *Store) ScoredCodes(ctx context.Context, sc models.ScoringContext) (map[models.ModelCode]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.ModelCode]struct{})
	for _, r := range s.scores[sc.Key()] {
		out[r.Code] = struct{}{}
	}
	return out, nil
}

func (s *Store) InsertScore(ctx context.Context, rec models.ScoreRecord, force bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rec.Context.Key()
	if !force && s.hasScoreLocked(key, rec.Code) {
		return false, nil
	}
	s.seq++
	rec.ID = s.seq
	rec.NTerms = rec.Code.Len()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.scores[key] = append(s.scores[key], rec)
	return true, nil
}

// latestLocked returns the last record per code, in first-seen order.
func (s *Store) latestLocked(key string) []models.ScoreRecord {
	idx := make(map[models.ModelCode]int)
	var out []models.ScoreRecord
	for _, r := range s.scores[key] {
		if i, ok := idx[r.Code]; ok {
			out[i] = r
			continue
		}
		idx[r.Code] = len(out)
		out = append(out, r)
	}
	return out
}

func (s *Store) LatestScore(ctx context.Context, sc models.ScoringContext, c models.ModelCode) (models.ScoreRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.scores[sc.Key()]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Code == c {
			return entries[i], true, nil
		}
	}
	return models.ScoreRecord{}, false, nil
}

func (s *Store) TopScores(ctx context.Context, sc models.ScoringContext, n int) ([]models.ScoreRecord, error) {
	if n <= 0 {
		n = 10
	}
	s.mu.RLock()
	out := s.latestLocked(sc.Key())
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].MeanCVScore > out[j].MeanCVScore })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *Store) ScoreCount(ctx context.Context, sc models.ScoringContext) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.latestLocked(sc.Key())), nil
}

func (s *Store) ContextStatus(ctx context.Context) ([]models.ContextStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ContextStatus
	for key := range s.scores {
		sc, err := models.ParseContext(key)
		if err != nil {
			return nil, err
		}
		out = append(out, models.ContextStatus{Context: sc, Scored: len(s.latestLocked(key))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Context.Key() < out[j].Context.Key() })
	return out, nil
}

func (s *Store) Claim(ctx context.Context, sc models.ScoringContext, c models.ModelCode, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := claimKey{sc.Key(), c}
	now := time.Now()
	if cur, ok := s.claims[key]; ok && cur.owner != owner && !cur.expires.Before(now) {
		return false, nil
	}
	s.claims[key] = claim{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (s *Store) Release(ctx context.Context, sc models.ScoringContext, c models.ModelCode, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := claimKey{sc.Key(), c}
	if cur, ok := s.claims[key]; ok && cur.owner == owner {
		delete(s.claims, key)
	}
	return nil
}

// InsertObservations appends; unlike the SQLite store duplicates are kept so
// callers can exercise duplicate detection.
func (s *Store) InsertObservations(ctx context.Context, obs []models.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range obs {
		k := obsKey{o.Equipment, o.DataType}
		if _, ok := s.obs[k]; !ok {
			s.obsOrder = append(s.obsOrder, k)
		}
		s.obs[k] = append(s.obs[k], o)
	}
	return nil
}

func (s *Store) Observations(ctx context.Context, equipment, dataType string) ([]models.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Observation(nil), s.obs[obsKey{equipment, dataType}]...), nil
}

func (s *Store) Contexts(ctx context.Context) ([]models.ScoringContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ScoringContext, 0, len(s.obsOrder))
	for _, k := range s.obsOrder {
		out = append(out, models.ScoringContext{Source: k.equipment, DataType: k.dataType})
	}
	return out, nil
}

func (s *Store) UpsertFractions(ctx context.Context, fr map[int]models.Fractions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range fr {
		s.fractions[k] = v
	}
	return nil
}

func (s *Store) Fractions(ctx context.Context) (map[int]models.Fractions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]models.Fractions, len(s.fractions))
	for k, v := range s.fractions {
		out[k] = v
	}
	return out, nil
}

func (s *Store) CreateRun(ctx context.Context, kind string) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &models.Run{ID: uuid.NewString(), Kind: kind, Status: models.RunRunning, StartedAt: time.Now()}
	s.runs = append(s.runs, r)
	cp := *r
	return &cp, nil
}

func (s *Store) FinishRun(ctx context.Context, id string, status models.RunStatus, metrics string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == "" {
		status = models.RunCompleted
	}
	for _, r := range s.runs {
		if r.ID == id {
			now := time.Now()
			r.Status = status
			r.Finished = &now
			r.Metrics = metrics
			return nil
		}
	}
	return fmt.Errorf("run %s not found", id)
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	var out []*models.Run
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.runs[i]
		out = append(out, &cp)
	}
	return out, nil
}
