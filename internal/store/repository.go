package store

import (
	"context"
	"database/sql"
	"time"

	"mixsearch/internal/models"
)

// TxRunner provides a transaction wrapper for repository operations.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(*sql.Tx) error) error
}

// EnumerationStore is the append-only log of valid model codes, one partition
// per model size k, each closed by a completion marker.
type EnumerationStore interface {
	IsComplete(ctx context.Context, k int) (bool, error)
	// CodeCount excludes the completion marker.
	CodeCount(ctx context.Context, k int) (int, error)
	// AppendCodes durably records codes at positions startSeq, startSeq+1, ...
	// as one unit: either all are recorded or none.
	AppendCodes(ctx context.Context, k, startSeq int, codes []models.ModelCode) error
	MarkComplete(ctx context.Context, k, total int) error
	// Codes returns the partition in enumeration order.
	Codes(ctx context.Context, k int) ([]models.ModelCode, error)
}

// ScoreStore is the per-context log of cross-validated scores.
type ScoreStore interface {
	HasScore(ctx context.Context, sc models.ScoringContext, code models.ModelCode) (bool, error)
	ScoredCodes(ctx context.Context, sc models.ScoringContext) (map[models.ModelCode]struct{}, error)
	// InsertScore appends rec. Unless force is set the insert only happens when
	// no record exists for (context, code); the check and the insert are atomic.
	InsertScore(ctx context.Context, rec models.ScoreRecord, force bool) (inserted bool, err error)
	// LatestScore returns the most recently inserted record for the code.
	LatestScore(ctx context.Context, sc models.ScoringContext, code models.ModelCode) (models.ScoreRecord, bool, error)
	// TopScores returns latest records ordered by descending score.
	TopScores(ctx context.Context, sc models.ScoringContext, n int) ([]models.ScoreRecord, error)
	ScoreCount(ctx context.Context, sc models.ScoringContext) (int, error)
	// Claim takes a lease on (context, code) for owner. It succeeds when no
	// lease exists, the existing lease expired, or owner already holds it.
	Claim(ctx context.Context, sc models.ScoringContext, code models.ModelCode, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, sc models.ScoringContext, code models.ModelCode, owner string) error
}

// ObservationSource yields raw response observations.
type ObservationSource interface {
	Observations(ctx context.Context, equipment, dataType string) ([]models.Observation, error)
}

// FractionSource yields base mixture fractions keyed by sample number.
type FractionSource interface {
	Fractions(ctx context.Context) (map[int]models.Fractions, error)
}

// RunRecorder keeps a record of batch invocations.
type RunRecorder interface {
	CreateRun(ctx context.Context, kind string) (*models.Run, error)
	FinishRun(ctx context.Context, id string, status models.RunStatus, metrics string) error
	ListRuns(ctx context.Context, limit int) ([]*models.Run, error)
}

// Repository is everything a batch needs from persistence.
type Repository interface {
	EnumerationStore
	ScoreStore
	ObservationSource
	FractionSource
	RunRecorder

	InsertObservations(ctx context.Context, obs []models.Observation) error
	UpsertFractions(ctx context.Context, fr map[int]models.Fractions) error
	// Contexts lists the distinct (equipment, data type) pairs with observations.
	Contexts(ctx context.Context) ([]models.ScoringContext, error)
	EnumerationStatus(ctx context.Context) ([]models.EnumerationStatus, error)
	ContextStatus(ctx context.Context) ([]models.ContextStatus, error)
	Close() error
}
