package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"boxes-go/internal/boxes"
)

// Phase is the step a restore is in.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseExtracting   Phase = "extracting"
	PhaseValidating   Phase = "validating"
	PhaseReplacing    Phase = "replacing"
	PhaseReconnecting Phase = "reconnecting"
	// PhaseFailed is terminal: live data may be inconsistent and the
	// process must be restarted against a known-good store.
	PhaseFailed Phase = "failed"
)

// Status is a point-in-time view of the restorer.
type Status struct {
	Phase       Phase     `json:"phase"`
	StartedAt   time.Time `json:"startedAt,omitzero"`
	FinishedAt  time.Time `json:"finishedAt,omitzero"`
	LastError   string    `json:"lastError,omitempty"`
	RolledBack  bool      `json:"rolledBack,omitempty"`
	RollbackDir string    `json:"rollbackDir,omitempty"`
}

// Result describes a finished restore, successful or not.
type Result struct {
	Manifest *Manifest
	// RolledBack is set when a replace or reconnect failure left the
	// previous data live again.
	RolledBack bool
	// RollbackDir is set when the previous data could not be put back; it
	// still holds the files moved aside.
	RollbackDir string
	Duration    time.Duration
}

// RestorerOptions configure a Restorer.
type RestorerOptions struct {
	// Rollback puts the previous data back when replacing or reconnecting fails.
	Rollback bool
	Clock    boxes.Clock
	Logger   boxes.Logger
}

// Restorer runs the restore pipeline: extract, validate, replace,
// reconnect. Only one restore runs at a time.
type Restorer struct {
	run sync.Mutex

	mu     sync.RWMutex
	status Status

	reader   *ArchiveReader
	replacer *Replacer
	store    Store
	rollback bool
	clock    boxes.Clock
	logger   boxes.Logger
}

// NewRestorer wires a Restorer.
func NewRestorer(reader *ArchiveReader, replacer *Replacer, store Store, opts RestorerOptions) *Restorer {
	r := &Restorer{
		reader:   reader,
		replacer: replacer,
		store:    store,
		rollback: opts.Rollback,
		clock:    opts.Clock,
		logger:   opts.Logger,
		status:   Status{Phase: PhaseIdle},
	}
	if r.clock == nil {
		r.clock = boxes.RealClock{}
	}
	if r.logger == nil {
		r.logger = boxes.NewNopLogger()
	}
	return r
}

// Status returns the current restore status.
func (r *Restorer) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// RestoreFile restores from an archive on disk.
func (r *Restorer) RestoreFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	return r.Restore(ctx, f, info.Size())
}

// Restore replaces the live store and attachment tree with the contents of
// the archive in src. Cancelling ctx aborts the restore only before the
// replace step. A concurrent call fails with ErrRestoreInProgress.
func (r *Restorer) Restore(ctx context.Context, src io.ReaderAt, size int64) (*Result, error) {
	if !r.run.TryLock() {
		return nil, ErrRestoreInProgress
	}
	defer r.run.Unlock()

	if r.Status().Phase == PhaseFailed {
		return nil, ErrRestartRequired
	}

	start := r.clock.Now()
	r.mu.Lock()
	r.status = Status{Phase: PhaseExtracting, StartedAt: start}
	r.mu.Unlock()
	r.logger.Info("restore started", "size", size)

	staged, err := r.reader.Extract(ctx, src, size)
	if err != nil {
		return nil, r.abort(err)
	}
	defer func() {
		if err := staged.Close(); err != nil {
			r.logger.Warn("could not remove staging directory", "path", staged.Path(), "error", err)
		}
	}()

	r.setPhase(PhaseValidating)
	if err := r.reader.Validate(staged); err != nil {
		return nil, r.abort(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, r.abort(err)
	}

	// No cancellation from here on.
	ctx = context.WithoutCancel(ctx)
	res := &Result{Manifest: staged.Manifest}

	r.setPhase(PhaseReplacing)
	if err := r.store.Detach(); err != nil {
		r.logger.Warn("closing store before replace", "error", err)
	}

	rb, err := r.replacer.Replace(staged)
	if err != nil {
		return r.recover(ctx, res, rb, true, err)
	}

	r.setPhase(PhaseReconnecting)
	if err := r.store.Attach(ctx); err != nil {
		return r.recover(ctx, res, rb, false, fmt.Errorf("%w: %w", ErrReconnectFailed, err))
	}

	if err := rb.Discard(); err != nil {
		r.logger.Warn("could not remove rollback directory", "path", rb.Path(), "error", err)
	}

	res.Duration = r.clock.Now().Sub(start)
	r.finish(PhaseIdle, nil, res)
	r.logger.Info("restore finished", "duration", res.Duration)
	return res, nil
}

// abort records a failure that happened before any live data was touched.
func (r *Restorer) abort(err error) error {
	r.logger.Warn("restore rejected; no changes made", "error", err)
	r.finish(PhaseIdle, err, nil)
	return err
}

// recover handles a failure at or after the replace step. With rollback
// enabled the previous files are put back and the store reattached; the
// restorer then stays usable. Otherwise it enters PhaseFailed. A nil
// rollback means Replace moved nothing, so only the store needs reopening.
func (r *Restorer) recover(ctx context.Context, res *Result, rb *Rollback, detached bool, cause error) (*Result, error) {
	untouched := rb == nil
	if untouched {
		r.logger.Warn("restore failed before live data was moved", "error", cause)
	} else {
		r.logger.Error("restore failed after live data was touched", "error", cause)
	}

	if !detached {
		if err := r.store.Detach(); err != nil {
			r.logger.Warn("closing store before rollback", "error", err)
		}
	}

	restored := false
	if rb != nil && r.rollback {
		if err := r.replacer.Undo(rb); err != nil {
			r.logger.Error("rollback failed; previous data left in place for manual recovery",
				"rollback_dir", rb.Path(), "error", err)
			res.RollbackDir = rb.Path()
		} else {
			restored = true
		}
	} else if rb != nil {
		res.RollbackDir = rb.Path()
		r.logger.Error("rollback disabled; previous data kept", "rollback_dir", rb.Path())
	}

	attachErr := r.store.Attach(ctx)
	if attachErr != nil {
		r.logger.Error("store could not be reopened", "error", attachErr)
		if untouched {
			cause = fmt.Errorf("%w: %w", ErrReconnectFailed, attachErr)
		}
	}

	res.RolledBack = restored && attachErr == nil
	if (restored || untouched) && attachErr == nil {
		r.finish(PhaseIdle, cause, res)
		return res, cause
	}
	r.finish(PhaseFailed, cause, res)
	return res, cause
}

func (r *Restorer) setPhase(p Phase) {
	r.mu.Lock()
	r.status.Phase = p
	r.mu.Unlock()
	r.logger.Debug("restore phase", "phase", string(p))
}

func (r *Restorer) finish(p Phase, err error, res *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Phase = p
	r.status.FinishedAt = r.clock.Now()
	r.status.LastError = ""
	if err != nil {
		r.status.LastError = err.Error()
	}
	if res != nil {
		r.status.RolledBack = res.RolledBack
		r.status.RollbackDir = res.RollbackDir
	}
}
