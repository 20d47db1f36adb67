package db

import (
	"context"

	"github.com/jonathan/content-pipeline/internal/types"
	"go.uber.org/zap"
)

// Record kinds
const (
	KindPipeline = "pipeline"
	KindPersona  = "persona"
	KindProject  = "project"
	KindRun      = "run"
	KindBatch    = "batch"
)

// Backends
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Store bundles the tables the pipeline reads and writes.
type Store struct {
	Pipelines Table[types.Pipeline]
	Personas  Table[types.Persona]
	Projects  Table[types.VideoProject]
	Runs      Table[types.PipelineRun]
	Batches   Table[types.BatchResult]

	backend string
	db      *DB
}

func pipelineID(p *types.Pipeline) *string    { return &p.ID }
func personaID(p *types.Persona) *string      { return &p.ID }
func projectID(p *types.VideoProject) *string { return &p.ID }
func runID(r *types.PipelineRun) *string      { return &r.ID }
func batchID(b *types.BatchResult) *string    { return &b.ID }

// NewMemoryStore returns a store backed by in-process tables.
func NewMemoryStore() *Store {
	return &Store{
		Pipelines: NewMemoryTable(KindPipeline, pipelineID),
		Personas:  NewMemoryTable(KindPersona, personaID),
		Projects:  NewMemoryTable(KindProject, projectID),
		Runs:      NewMemoryTable(KindRun, runID),
		Batches:   NewMemoryTable(KindBatch, batchID),
		backend:   BackendMemory,
	}
}

// NewPostgresStore returns a store backed by db. The schema must already be migrated.
func NewPostgresStore(db *DB) *Store {
	return &Store{
		Pipelines: NewPostgresTable(db, KindPipeline, pipelineID),
		Personas:  NewPostgresTable(db, KindPersona, personaID),
		Projects:  NewPostgresTable(db, KindProject, projectID),
		Runs:      NewPostgresTable(db, KindRun, runID),
		Batches:   NewPostgresTable(db, KindBatch, batchID),
		backend:   BackendPostgres,
		db:        db,
	}
}

// Open picks the backend once: PostgreSQL when databaseURL is set and reachable,
// memory otherwise. Persistence is best effort, so an unreachable database is logged, not fatal.
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if databaseURL == "" {
		logger.Info("no database configured, using in-memory store")
		return NewMemoryStore()
	}

	db, err := Connect(ctx, databaseURL)
	if err != nil {
		logger.Warn("database unavailable, using in-memory store", zap.Error(err))
		return NewMemoryStore()
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		logger.Warn("database migration failed, using in-memory store", zap.Error(err))
		return NewMemoryStore()
	}
	logger.Info("using postgres store")
	return NewPostgresStore(db)
}

// Backend reports which backend was selected.
func (s *Store) Backend() string { return s.backend }

// Close releases the database pool, if any.
func (s *Store) Close() {
	if s.db != nil {
		s.db.Close()
	}
}
