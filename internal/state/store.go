// Package state archives lineage runs in SQLite: the analyzed SQL, the
// composed event and the knowledge graph of every run.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrRunNotFound is returned when a run id is not in the archive.
var ErrRunNotFound = errors.New("run not found")

// RunStatus is the lifecycle state of an archived run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one archived pipeline run. Event and Graph hold the emitted JSON
// documents and are empty in listings.
type Run struct {
	ID          string          `json:"id" yaml:"id"`
	JobName     string          `json:"job_name" yaml:"job_name"`
	Namespace   string          `json:"namespace" yaml:"namespace"`
	Status      RunStatus       `json:"status" yaml:"status"`
	SQL         string          `json:"sql" yaml:"sql"`
	Units       int             `json:"units" yaml:"units"`
	Event       json.RawMessage `json:"event,omitempty" yaml:"-"`
	Graph       json.RawMessage `json:"graph,omitempty" yaml:"-"`
	Error       string          `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// Store is the run archive.
type Store interface {
	// CreateRun records a new running run and returns it with a fresh id.
	CreateRun(ctx context.Context, jobName, namespace, sql string) (*Run, error)
	// CompleteRun stores the artifacts of a successful run.
	CompleteRun(ctx context.Context, id string, units int, event, graph any) error
	// FailRun marks a run failed with the given message.
	FailRun(ctx context.Context, id, errMsg string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	// ListRuns returns the most recent runs first, without artifacts.
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	Close() error
}
