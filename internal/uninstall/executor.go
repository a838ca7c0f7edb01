// SPDX-License-Identifier: MPL-2.0

package uninstall

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sitepkg/sitepkg/internal/env"
	"github.com/sitepkg/sitepkg/internal/filelock"
	"github.com/sitepkg/sitepkg/internal/metrics"
	"github.com/sitepkg/sitepkg/internal/namespace"
	"github.com/sitepkg/sitepkg/internal/registry"
	"github.com/sitepkg/sitepkg/pkg/manifest"
)

type (
	// Executor applies plans to the environment.
	Executor struct {
		layout      env.Layout
		namespaces  *namespace.Tracker
		registry    *registry.Editor
		lockTimeout time.Duration
		metrics     *metrics.Metrics

		// rename moves entries in and out of the stash.
		rename func(oldpath, newpath string) error
	}

	// ExecutorOption configures an Executor.
	ExecutorOption func(*Executor)

	// transaction is the undo log of one execution.
	transaction struct {
		stash   string
		undo    []undoEntry
		backups []*registry.Backup
		removed []string
	}

	undoEntry struct {
		step int
		fn   func() error
	}
)

// WithLockTimeout bounds the wait for the environment lock.
func WithLockTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.lockTimeout = d }
}

// WithMetrics records execution metrics.
func WithMetrics(m *metrics.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor returns an executor for the environment.
func NewExecutor(layout env.Layout, namespaces *namespace.Tracker, reg *registry.Editor, opts ...ExecutorOption) *Executor {
	e := &Executor{
		layout:      layout,
		namespaces:  namespaces,
		registry:    reg,
		lockTimeout: filelock.DefaultTimeout,
		rename:      os.Rename,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute applies plan under the environment lock. On success the result
// status is StatusSuccess and the error is nil. When a step fails, applied
// steps are reverted in reverse order: the result is StatusRolledBack with an
// error wrapping ErrRolledBack and the cause, or StatusPartial with a
// *PartialRemovalError when some step could not be reverted. A lock timeout
// returns a nil result and an error wrapping filelock.ErrLockTimeout.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (_ *ExecutionResult, err error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "uninstall.Execute")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	result := &ExecutionResult{
		Status:    StatusSuccess,
		Packages:  make([]string, 0, len(plan.Targets)),
		Removed:   []string{},
		Protected: plan.Protected,
		Missing:   plan.Missing,
		Steps:     make([]StepOutcome, len(plan.Steps)),
	}
	for _, t := range plan.Targets {
		result.Packages = append(result.Packages, t.Name.Normalize())
	}
	for i, s := range plan.Steps {
		result.Steps[i] = StepOutcome{Step: s, State: StepSkipped}
	}
	span.SetAttributes(
		attribute.StringSlice("sitepkg.packages", result.Packages),
		attribute.Int("sitepkg.steps", len(plan.Steps)),
	)
	if len(plan.Steps) == 0 {
		return result, nil
	}

	if err := os.MkdirAll(e.layout.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	lockStart := time.Now()
	lock, err := filelock.Acquire(ctx, e.layout.LockFile, e.lockTimeout)
	e.metrics.ObserveLockWait(time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	stash, err := os.MkdirTemp(e.layout.StateDir, "stash-")
	if err != nil {
		return nil, fmt.Errorf("create stash directory: %w", err)
	}
	tx := &transaction{stash: stash}

	var cause error
	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			cause = fmt.Errorf("uninstall interrupted before step %d: %w", i, err)
			break
		}
		if err := e.apply(ctx, tx, i, step); err != nil {
			result.Steps[i].State = StepFailed
			result.Steps[i].Error = err.Error()
			cause = err
			break
		}
		result.Steps[i].State = StepApplied
	}

	defer func() {
		result.Duration = time.Since(start)
		e.metrics.ObserveExecution(string(result.Status), len(result.Packages), len(result.Removed), len(result.Protected), result.Duration)
		span.SetAttributes(attribute.String("sitepkg.status", string(result.Status)))
	}()

	if cause == nil {
		tx.commit()
		result.Removed = tx.removed
		slog.Info("uninstall complete", "packages", result.Packages, "removed", len(result.Removed))
		return result, nil
	}

	slog.Warn("uninstall step failed, rolling back", "error", cause)
	rollbackErrs := e.rollback(tx, result)
	if len(rollbackErrs) == 0 {
		removeStash(tx.stash)
		result.Status = StatusRolledBack
		err = fmt.Errorf("%w: %w", ErrRolledBack, cause)
		result.Error = err.Error()
		return result, err
	}

	result.Status = StatusPartial
	result.StashDir = tx.stash
	result.Removed = slices.DeleteFunc(tx.removed, func(p string) bool {
		_, statErr := os.Lstat(p)
		return statErr == nil
	})
	partial := &PartialRemovalError{
		Applied:        result.stepsIn(StepApplied),
		Failed:         result.stepsIn(StepFailed),
		Skipped:        result.stepsIn(StepSkipped),
		Cause:          cause,
		RollbackErrors: rollbackErrs,
		StashDir:       tx.stash,
	}
	result.Error = partial.Error()
	slog.Error("uninstall left the environment partially modified", "stash", tx.stash, "error", partial)
	return result, partial
}

func (e *Executor) apply(ctx context.Context, tx *transaction, i int, step Step) error {
	switch step.Kind {
	case StepDirectDelete, StepManifestDelete:
		moved, err := e.stashEntry(tx, i, step.Path)
		if err != nil || !moved {
			return err
		}
		if step.Kind == StepDirectDelete {
			tx.removed = append(tx.removed, step.Path)
		}
		return nil

	case StepRegistryLine:
		removed, backup, err := e.registry.RemoveLines(step.Lines...)
		if err != nil {
			return fmt.Errorf("rewrite registry %s: %w", step.Path, err)
		}
		slog.Debug("registry entries removed", "path", step.Path, "entries", removed)
		tx.backups = append(tx.backups, backup)
		tx.undo = append(tx.undo, undoEntry{step: i, fn: backup.Restore})
		return nil

	case StepNamespaceCandidate:
		return e.applyNamespace(ctx, tx, i, step)

	default:
		return fmt.Errorf("unknown step kind %q", step.Kind)
	}
}

func (e *Executor) applyNamespace(ctx context.Context, tx *transaction, i int, step Step) error {
	// Rollback must still run after ctx is canceled.
	undoCtx := context.WithoutCancel(ctx)
	var left []manifest.PackageName
	reregister := func() error {
		var errs []error
		for _, name := range left {
			if err := e.namespaces.Register(undoCtx, step.Path, name); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	decision := namespace.Untracked
	for _, p := range step.Packages {
		name := manifest.PackageName(p)
		d, err := e.namespaces.Unregister(ctx, step.Path, name)
		if err != nil {
			if undoErr := reregister(); undoErr != nil {
				slog.Error("namespace re-registration failed", "dir", step.Path, "error", undoErr)
			}
			return err
		}
		left = append(left, name)
		decision = d
	}
	tx.undo = append(tx.undo, undoEntry{step: i, fn: reregister})

	if !step.RemoveDir {
		return nil
	}
	if decision != namespace.Delete {
		slog.Warn("namespace directory still has contributors, keeping it", "dir", step.Path, "decision", decision)
		return nil
	}
	if entries, err := os.ReadDir(step.Path); err == nil && len(entries) > 0 {
		slog.Warn("namespace directory is not empty, keeping it", "dir", step.Path, "entries", len(entries))
		return nil
	}
	moved, err := e.stashEntry(tx, i, step.Path)
	if err != nil {
		return err
	}
	if moved {
		tx.removed = append(tx.removed, step.Path)
	}
	return nil
}

// stashEntry moves path into the stash and registers the reverse move. A path
// that vanished since planning is not an error.
func (e *Executor) stashEntry(tx *transaction, i int, path string) (bool, error) {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		slog.Debug("path already gone", "path", path)
		return false, nil
	}
	dest := filepath.Join(tx.stash, strconv.Itoa(i))
	if err := e.rename(path, dest); err != nil {
		return false, fmt.Errorf("remove %s: %w", path, err)
	}
	tx.undo = append(tx.undo, undoEntry{step: i, fn: func() error {
		if err := e.rename(dest, path); err != nil {
			return fmt.Errorf("restore %s: %w", path, err)
		}
		return nil
	}})
	return true, nil
}

// rollback reverts the undo log in reverse order. Steps whose every undo
// succeeded are marked reverted.
func (e *Executor) rollback(tx *transaction, result *ExecutionResult) []error {
	var errs []error
	failedSteps := make(map[int]bool)
	for j := len(tx.undo) - 1; j >= 0; j-- {
		u := tx.undo[j]
		if err := u.fn(); err != nil {
			slog.Error("rollback step failed", "step", u.step, "error", err)
			errs = append(errs, err)
			failedSteps[u.step] = true
		}
	}
	for i := range result.Steps {
		if result.Steps[i].State == StepApplied && !failedSteps[i] {
			result.Steps[i].State = StepReverted
		}
	}
	return errs
}

func (tx *transaction) commit() {
	for _, b := range tx.backups {
		b.Discard()
	}
	removeStash(tx.stash)
}

func removeStash(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		slog.Debug("stash cleanup failed", "path", dir, "error", err)
	}
}
