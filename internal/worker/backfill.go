package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/northcell/conversation-cdc/internal/catalog"
	"github.com/northcell/conversation-cdc/internal/config"
	"github.com/northcell/conversation-cdc/internal/domain"
)

// deltaExclusion keeps the delta phase away from rows recent enough that
// the live CDC loop owns them.
const deltaExclusion = 1200 * time.Minute

// BulkCollector is the backfill view of the source repository.
type BulkCollector interface {
	CollectBulk(ctx context.Context, src catalog.Source, lookback time.Duration, batchSize int) ([]string, error)
	CollectDelta(ctx context.Context, src catalog.Source, lookback, exclusion time.Duration, batchSize int) ([]string, error)
}

// BackfillStats are the run counters printed at exit. The engine is
// single-goroutine, so plain fields suffice.
type BackfillStats struct {
	BulkDispatched  int64
	DeltaDispatched int64
	Skipped         int64
	Failures        int64
	Batches         int64
}

// BackfillEngine is the one-shot historical loader: a bulk full-scan phase
// over the configured window, then a delta phase that sweeps the recent
// hours the bulk scan may have raced with. Skipped ids are always marked so
// the backfill converges; failed sends stay unmarked until the dispatcher
// retires them.
type BackfillEngine struct {
	catalog    *catalog.Catalog
	collector  BulkCollector
	assembler  Assembler
	dispatcher Dispatcher
	marks      SkipMarker
	errlog     ErrorLog
	cfg        config.BackfillConfig

	stats BackfillStats
}

func NewBackfillEngine(cat *catalog.Catalog, collector BulkCollector, assembler Assembler,
	dispatcher Dispatcher, marks SkipMarker, errlog ErrorLog, cfg config.BackfillConfig) *BackfillEngine {
	return &BackfillEngine{
		catalog:    cat,
		collector:  collector,
		assembler:  assembler,
		dispatcher: dispatcher,
		marks:      marks,
		errlog:     errlog,
		cfg:        cfg,
	}
}

// Stats returns the run counters.
func (e *BackfillEngine) Stats() BackfillStats {
	return e.stats
}

// Run executes both phases across every enabled source and prints a
// summary. It returns the first collect-level error; per-id problems are
// counted and logged instead.
func (e *BackfillEngine) Run(ctx context.Context) error {
	start := time.Now()
	log.Printf("[Backfill] starting: window=%v bulk_batch=%d delta_window=%v delta_batch=%d",
		e.cfg.Window(), e.cfg.BulkBatch, e.cfg.DeltaWindow(), e.cfg.DeltaBatch)

	for _, src := range e.catalog.Enabled() {
		if err := e.bulkPhase(ctx, e.override(src)); err != nil {
			return err
		}
	}
	for _, src := range e.catalog.Enabled() {
		if err := e.deltaPhase(ctx, e.override(src)); err != nil {
			return err
		}
	}

	log.Printf("[Backfill] done in %v: bulk=%d delta=%d skipped=%d failures=%d batches=%d",
		time.Since(start).Round(time.Second),
		e.stats.BulkDispatched, e.stats.DeltaDispatched,
		e.stats.Skipped, e.stats.Failures, e.stats.Batches)
	return nil
}

// override applies the configured min-segments override. Zero keeps the
// catalog value.
func (e *BackfillEngine) override(src catalog.Source) catalog.Source {
	if e.cfg.MinSegments > 0 {
		src.MinSegments = e.cfg.MinSegments
	}
	return src
}

// bulkPhase collects full-scan batches until the window is empty. Every
// processed id ends up marked (sent, skipped, or retired by the
// dispatcher), so repeated collects shrink monotonically.
func (e *BackfillEngine) bulkPhase(ctx context.Context, src catalog.Source) error {
	log.Printf("[Backfill] %s bulk phase: %d day window", src.ID, int(e.cfg.Window().Hours()/24))

	for {
		ids, err := e.collector.CollectBulk(ctx, src, e.cfg.Window(), e.cfg.BulkBatch)
		if err != nil {
			return fmt.Errorf("bulk collect %s: %w", src.ID, err)
		}
		if len(ids) == 0 {
			return nil
		}

		e.stats.Batches++
		log.Printf("[Backfill] %s bulk batch %d: %d id(s)", src.ID, e.stats.Batches, len(ids))
		if err := e.processBatch(ctx, src, ids, &e.stats.BulkDispatched); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.Pause()):
		}
	}
}

// deltaPhase sweeps the recent hours with the hot index, excluding rows so
// new they belong to the live loop.
func (e *BackfillEngine) deltaPhase(ctx context.Context, src catalog.Source) error {
	log.Printf("[Backfill] %s delta phase: %v lookback", src.ID, e.cfg.DeltaWindow())

	for {
		ids, err := e.collector.CollectDelta(ctx, src, e.cfg.DeltaWindow(), deltaExclusion, e.cfg.DeltaBatch)
		if err != nil {
			return fmt.Errorf("delta collect %s: %w", src.ID, err)
		}
		if len(ids) == 0 {
			return nil
		}

		e.stats.Batches++
		if err := e.processBatch(ctx, src, ids, &e.stats.DeltaDispatched); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.Pause()):
		}
	}
}

func (e *BackfillEngine) processBatch(ctx context.Context, src catalog.Source, ids []string, dispatched *int64) error {
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		e.processID(ctx, src, id, dispatched)
	}
	return nil
}

func (e *BackfillEngine) processID(ctx context.Context, src catalog.Source, id string, dispatched *int64) {
	conv, skip, err := e.assembler.Assemble(ctx, src, id)
	if err != nil {
		log.Printf("[Backfill] assemble %s/%s: %v", src.ID, id, err)
		e.stats.Failures++
		return
	}
	if skip != nil {
		e.stats.Skipped++
		if err := e.errlog.LogError(ctx, id, domain.ErrorKindAssemblySkipped, skip.String()); err != nil {
			log.Printf("[Backfill] error-log write for %s: %v", id, err)
		}
		if err := e.marks.MarkSkipped(ctx, src, id, skip.String()); err != nil {
			log.Printf("[Backfill] mark skipped %s: %v", id, err)
		}
		return
	}

	conv.Source = domain.MessageSourceBackfill
	if _, err := e.dispatcher.Dispatch(ctx, src, conv); err != nil {
		log.Printf("[Backfill] dispatch %s/%s: %v", src.ID, id, err)
		e.stats.Failures++
		return
	}
	*dispatched++
}
