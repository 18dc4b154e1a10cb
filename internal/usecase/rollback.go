package usecase

import (
	"context"
	"fmt"
)

// RollbackOptions selects the target generation (spec §4.7,
// component C9). Exactly one of Steps or To should be set; Steps
// defaults to 1 when To is empty (spec §9, resolved Open Question).
type RollbackOptions struct {
	Steps int
	To    string
}

// ResolveRollbackTarget picks the revision a rollback should deploy,
// per spec §4.7 and §9's resolution of the "default steps" open
// question: --steps N selects the Nth most recent prior generation,
// falling back to HEAD~N only when fewer than N prior records exist.
func ResolveRollbackTarget(ctx context.Context, repo RepoPort, records []GenerationRecord, opts RollbackOptions) (revisionID string, err error) {
	if opts.To != "" {
		return repo.Resolve(ctx, opts.To)
	}

	steps := opts.Steps
	if steps <= 0 {
		steps = 1
	}

	if rec, ok := NthPriorGeneration(records, steps); ok {
		return rec.RevisionID, nil
	}

	return repo.Resolve(ctx, fmt.Sprintf("HEAD~%d", steps))
}

// Rollback resolves the target generation and redeploys it through
// the same applier a normal deploy uses, marking the resulting
// generation record as a rollback (spec §4.7).
func Rollback(ctx context.Context, repo RepoPort, planner *Planner, applier *Applier, records []GenerationRecord, opts RollbackOptions, deployOpts DeployOptions) (*DeployResult, error) {
	target, err := ResolveRollbackTarget(ctx, repo, records, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotEnoughGenerations, err)
	}

	actions, err := planner.Plan(ctx, target)
	if err != nil {
		return nil, err
	}

	deployOpts.Rollback = true
	return applier.Deploy(ctx, target, actions, deployOpts)
}
