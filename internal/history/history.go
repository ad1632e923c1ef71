package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Operation kinds.
const (
	KindDeploy   = "deploy"
	KindUndeploy = "undeploy"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// ErrNotFound is returned by Get for an unknown operation ID.
var ErrNotFound = errors.New("operation not found")

// Operation is one deploy or undeploy request handled by the coordinator.
type Operation struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	Kind    string `gorm:"size:20;not null;index" json:"kind"`
	VHost   string `gorm:"size:255;not null" json:"vhost"`
	Outcome string `gorm:"size:20;not null" json:"outcome"`

	// ErrorKind is the failure class (deployer.Kind) when Outcome is failure.
	ErrorKind string `gorm:"size:50" json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`

	StartedAt  time.Time `gorm:"index" json:"started_at"`
	DurationMs int64     `json:"duration_ms"`

	Units []OperationUnit `gorm:"constraint:OnDelete:CASCADE" json:"units"`
}

// OperationUnit is one context touched by an operation.
type OperationUnit struct {
	OperationId uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	Context     string    `gorm:"primaryKey" json:"context"`
	Artifact    string    `json:"artifact,omitempty"`
}

// Store persists operations in a SQL database through gorm.
type Store struct {
	db *gorm.DB
}

// Open connects to the sqlite database at dsn and migrates the schema.
// Use "file::memory:?cache=shared" for a throwaway in-memory database.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open history db: %w", err)
	}
	if err := db.AutoMigrate(&Operation{}, &OperationUnit{}); err != nil {
		return nil, fmt.Errorf("unable to migrate history db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record inserts op and its units in one transaction, assigning an ID when
// op has none.
func (s *Store) Record(ctx context.Context, op *Operation) error {
	if op.Id == uuid.Nil {
		op.Id = uuid.New()
	}
	if op.StartedAt.IsZero() {
		op.StartedAt = time.Now()
	}
	for i := range op.Units {
		op.Units[i].OperationId = op.Id
	}
	if result := s.db.WithContext(ctx).Create(op); result.Error != nil {
		return fmt.Errorf("error recording %s operation: %w", op.Kind, result.Error)
	}
	return nil
}

// List returns the most recent operations first. limit <= 0 means 50.
// An empty kind matches every kind.
func (s *Store) List(ctx context.Context, kind string, limit int) ([]Operation, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Preload("Units").Order("started_at DESC").Limit(limit)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var ops []Operation
	if result := q.Find(&ops); result.Error != nil {
		return nil, fmt.Errorf("error listing operations: %w", result.Error)
	}
	return ops, nil
}

// Get loads one operation with its units.
//
// Returns:
//   - The operation
//   - ErrNotFound when no operation has that ID
//   - A wrapped database error otherwise
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Operation, error) {
	var op Operation
	result := s.db.WithContext(ctx).Preload("Units").First(&op, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return Operation{}, ErrNotFound
	}
	if result.Error != nil {
		return Operation{}, fmt.Errorf("error loading operation %s: %w", id, result.Error)
	}
	return op, nil
}
