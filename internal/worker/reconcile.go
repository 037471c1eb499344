package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/mtlprog/tokenize/internal/deployment"
)

// DefaultBatch bounds how many open deployments one pass examines.
const DefaultBatch = 100

// Reconciler settles deployments whose outcome was left open.
type Reconciler interface {
	Reconcile(ctx context.Context, limit int) (deployment.ReconcileReport, error)
}

// Observer receives the counts of each reconciliation pass.
type Observer interface {
	Reconciled(confirmed, failed, open int)
}

// AfterPassHook is called after each pass that settled at least one deployment.
type AfterPassHook interface {
	Export(ctx context.Context) error
}

// ReconcileWorker periodically reconciles deployments that ended indeterminate or timed out.
type ReconcileWorker struct {
	reconciler Reconciler
	interval   time.Duration
	batch      int
	observer   Observer      // optional
	hook       AfterPassHook // optional
}

// NewReconcileWorker creates a ReconcileWorker. observer and hook may be nil.
func NewReconcileWorker(reconciler Reconciler, interval time.Duration, observer Observer, hook AfterPassHook) *ReconcileWorker {
	return &ReconcileWorker{
		reconciler: reconciler,
		interval:   interval,
		batch:      DefaultBatch,
		observer:   observer,
		hook:       hook,
	}
}

// Run starts the reconcile loop. It blocks until the context is cancelled.
func (w *ReconcileWorker) Run(ctx context.Context) {
	slog.Info("ReconcileWorker: starting", "interval", w.interval)

	w.pass(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("ReconcileWorker: shutting down")
			return
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

func (w *ReconcileWorker) pass(ctx context.Context) {
	report, err := w.reconciler.Reconcile(ctx, w.batch)
	if w.observer != nil {
		w.observer.Reconciled(report.Confirmed, report.Failed, report.Open)
	}
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("ReconcileWorker: pass failed", "error", err)
		}
		return
	}
	slog.Info("ReconcileWorker: pass completed",
		"checked", report.Checked, "confirmed", report.Confirmed, "failed", report.Failed, "open", report.Open)

	if w.hook == nil || report.Confirmed+report.Failed == 0 {
		return
	}
	if err := w.hook.Export(ctx); err != nil {
		slog.Error("ReconcileWorker: export hook failed", "error", err)
	} else {
		slog.Info("ReconcileWorker: export hook completed")
	}
}
