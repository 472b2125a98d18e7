// Package state keeps the definition index: a SQLite record of which
// definitions each macro file contributed, so a context can be rebuilt
// without re-reading the macro path.
package state

import (
	"context"
	"errors"
	"time"
)

// ErrNoRuns is returned when the index has never been built.
var ErrNoRuns = errors.New("no index runs recorded")

// Run is one build of the index.
type Run struct {
	ID          string
	MacroPath   string
	StartedAt   time.Time
	CompletedAt *time.Time
	Files       int
	Definitions int
}

// FileRecord is one entry of the macro path as seen by a run.
type FileRecord struct {
	RunID   string
	Seq     int
	Path    string
	Found   bool
	Loaded  int
	Skipped int
	Error   string
}

// DefinitionRecord is a definition read from a macro file. Seq orders the
// definitions of a run the way they were loaded.
type DefinitionRecord struct {
	RunID         string
	Seq           int
	File          string
	Line          int
	Name          string
	Opts          string
	Parameterized bool
	Body          string
	Level         int
}

// Store persists the definition index.
type Store interface {
	Open(path string) error
	Close() error
	Migrate() error

	CreateRun(ctx context.Context, macroPath string) (*Run, error)
	CompleteRun(ctx context.Context, id string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	LatestRun(ctx context.Context) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	PruneRuns(ctx context.Context, keep int) (int, error)

	AddFile(ctx context.Context, f FileRecord, defs []DefinitionRecord) error
	Files(ctx context.Context, runID string) ([]FileRecord, error)
	Definitions(ctx context.Context, runID string) ([]DefinitionRecord, error)
	FindDefinitions(ctx context.Context, runID, name string) ([]DefinitionRecord, error)
}
