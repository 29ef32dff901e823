package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/sqllineage/internal/state"
)

// RunAndRecord runs sql and archives the outcome in store. The event carries
// the archived run's id. A failed run is archived as failed and its error
// returned.
func (p *Pipeline) RunAndRecord(ctx context.Context, store state.Store, sql string) (*Result, error) {
	namespace, job := p.composer.Job()
	run, err := store.CreateRun(ctx, job, namespace, sql)
	if err != nil {
		return nil, err
	}

	res, runErr := p.run(ctx, sql, run.ID)
	if runErr != nil {
		// Archive the failure even when ctx is done.
		if err := store.FailRun(context.WithoutCancel(ctx), run.ID, runErr.Error()); err != nil {
			return nil, errors.Join(runErr, err)
		}
		return nil, runErr
	}
	if err := store.CompleteRun(ctx, run.ID, len(res.Decomposition.Units), res.Event, res.Graph); err != nil {
		return nil, fmt.Errorf("failed to archive run %s: %w", run.ID, err)
	}

	p.logger.Debug("archived run", slog.String("run_id", run.ID))
	return res, nil
}
