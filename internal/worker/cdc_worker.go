package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/northcell/conversation-cdc/internal/catalog"
	"github.com/northcell/conversation-cdc/internal/config"
	"github.com/northcell/conversation-cdc/internal/domain"
)

// historicalWindow is how much of the past one historical pass replays.
const historicalWindow = 24 * time.Hour

// Collector pulls unprocessed ids from a source table.
type Collector interface {
	Collect(ctx context.Context, src catalog.Source, batchSize int) ([]string, error)
	CollectWindow(ctx context.Context, src catalog.Source, from, to time.Time, batchSize int) ([]string, error)
}

// Assembler builds the outbound conversation for one id.
type Assembler interface {
	Assemble(ctx context.Context, src catalog.Source, id string) (*domain.Conversation, *domain.SkipReason, error)
}

// Dispatcher sends one conversation and settles its processed state.
type Dispatcher interface {
	Dispatch(ctx context.Context, src catalog.Source, conv *domain.Conversation) (string, error)
}

// Ingestor drains inbound results until the queue reports empty.
type Ingestor interface {
	DrainOnce(ctx context.Context) (int, error)
}

// StatusStore reads and advances the historical-mode watermark row.
type StatusStore interface {
	Get(ctx context.Context, key string) (*domain.ProcessStatus, error)
	SetWatermark(ctx context.Context, key string, to time.Time, delta int64) error
}

// SkipMarker records ids assembly declined so they stop being collected.
type SkipMarker interface {
	MarkSkipped(ctx context.Context, src catalog.Source, id, reason string) error
}

// ErrorLog appends error_log rows. Best effort.
type ErrorLog interface {
	LogError(ctx context.Context, id, kind, message string) error
}

// Stats is a point-in-time snapshot of the loop counters.
type Stats struct {
	Cycles     int64
	Collected  int64
	Dispatched int64
	Skipped    int64
	Failures   int64
	ResultsIn  int64
	Historical int64
	LastCycle  time.Time
}

// outcome classifies what processID did with one collected id.
type outcome int

const (
	outcomeDispatched outcome = iota
	outcomeSkipped
	outcomeFailed
)

// CDCWorker is the continuous loop: per cycle it polls every enabled
// source, assembles and dispatches new conversations, replays one
// historical window when that mode is enabled, and drains inbound results.
type CDCWorker struct {
	catalog    *catalog.Catalog
	collector  Collector
	assembler  Assembler
	dispatcher Dispatcher
	ingestor   Ingestor
	status     StatusStore
	marks      SkipMarker
	errlog     ErrorLog
	cfg        config.CDCConfig

	stats   Stats
	statsMu sync.Mutex

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewCDCWorker wires the loop. All collaborators are required except marks
// and errlog, which may be nil only in tests that never skip.
func NewCDCWorker(cat *catalog.Catalog, collector Collector, assembler Assembler, dispatcher Dispatcher,
	ingestor Ingestor, status StatusStore, marks SkipMarker, errlog ErrorLog, cfg config.CDCConfig) *CDCWorker {
	return &CDCWorker{
		catalog:    cat,
		collector:  collector,
		assembler:  assembler,
		dispatcher: dispatcher,
		ingestor:   ingestor,
		status:     status,
		marks:      marks,
		errlog:     errlog,
		cfg:        cfg,
	}
}

// Start begins the polling loop.
func (w *CDCWorker) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("cdc worker already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Unlock()

	log.Printf("[CDC] starting: poll=%v batch=%d sources=%d",
		w.cfg.PollInterval(), w.cfg.BatchSize, len(w.catalog.Enabled()))

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop shuts the loop down and logs the final counters.
func (w *CDCWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	log.Printf("[CDC] stopping...")
	w.cancel()
	w.wg.Wait()
	w.logStats(w.Snapshot())
	log.Printf("[CDC] stopped")
}

// Snapshot returns a copy of the loop counters.
func (w *CDCWorker) Snapshot() Stats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}

func (w *CDCWorker) bump(f func(*Stats)) {
	w.statsMu.Lock()
	f(&w.stats)
	w.statsMu.Unlock()
}

func (w *CDCWorker) loop() {
	defer w.wg.Done()

	for {
		pause := w.cfg.PollInterval()
		if err := w.cycle(w.ctx); err != nil {
			if w.ctx.Err() != nil {
				return
			}
			log.Printf("[CDC] cycle error: %v", err)
			w.bump(func(s *Stats) { s.Failures++ })
			pause = w.cfg.ErrorPause()
		}

		select {
		case <-w.ctx.Done():
			return
		case <-time.After(pause):
		}
	}
}

// cycle runs one full pass. Any step error aborts the cycle; the loop
// applies the error pause and tries again.
func (w *CDCWorker) cycle(ctx context.Context) error {
	for _, src := range w.catalog.Enabled() {
		if err := w.pollSource(ctx, src); err != nil {
			return err
		}
	}

	if err := w.historicalPass(ctx); err != nil {
		return err
	}

	n, err := w.ingestor.DrainOnce(ctx)
	if n > 0 {
		w.bump(func(s *Stats) { s.ResultsIn += int64(n) })
	}
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	w.statsMu.Lock()
	w.stats.Cycles++
	w.stats.LastCycle = time.Now()
	cycles := w.stats.Cycles
	snap := w.stats
	w.statsMu.Unlock()

	if w.cfg.StatsEvery > 0 && cycles%int64(w.cfg.StatsEvery) == 0 {
		w.logStats(snap)
	}
	return nil
}

func (w *CDCWorker) pollSource(ctx context.Context, src catalog.Source) error {
	ids, err := w.collector.Collect(ctx, src, w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("collect %s: %w", src.ID, err)
	}
	if len(ids) == 0 {
		return nil
	}

	w.bump(func(s *Stats) { s.Collected += int64(len(ids)) })
	log.Printf("[CDC] %s: %d candidate(s)", src.ID, len(ids))

	for _, id := range ids {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		w.processID(ctx, src, id)
	}
	return nil
}

// processID pushes one id through assemble and dispatch. Per-id problems
// are logged and counted, never escalated; the collector will offer the id
// again next cycle since it stays unmarked.
func (w *CDCWorker) processID(ctx context.Context, src catalog.Source, id string) outcome {
	conv, skip, err := w.assembler.Assemble(ctx, src, id)
	if err != nil {
		log.Printf("[CDC] assemble %s/%s: %v", src.ID, id, err)
		w.bump(func(s *Stats) { s.Failures++ })
		return outcomeFailed
	}
	if skip != nil {
		w.handleSkip(ctx, src, id, skip)
		return outcomeSkipped
	}

	if _, err := w.dispatcher.Dispatch(ctx, src, conv); err != nil {
		log.Printf("[CDC] dispatch %s/%s: %v", src.ID, id, err)
		w.bump(func(s *Stats) { s.Failures++ })
		return outcomeFailed
	}
	w.bump(func(s *Stats) { s.Dispatched++ })
	return outcomeDispatched
}

func (w *CDCWorker) handleSkip(ctx context.Context, src catalog.Source, id string, skip *domain.SkipReason) {
	w.bump(func(s *Stats) { s.Skipped++ })

	// Missing channels is the only skip worth an error-log row: short and
	// empty conversations usually just need more fragments to land.
	if skip.Code == domain.SkipMissingChannels {
		if err := w.errlog.LogError(ctx, id, domain.ErrorKindAssemblyRejected, skip.String()); err != nil {
			log.Printf("[CDC] error-log write for %s: %v", id, err)
		}
	}

	if !w.cfg.MarkRejected {
		return
	}
	if err := w.marks.MarkSkipped(ctx, src, id, skip.String()); err != nil {
		log.Printf("[CDC] mark skipped %s: %v", id, err)
	}
}

// historicalPass replays one window per cycle while the historical-mode
// status row is enabled. The watermark only advances once a window is
// exhausted, so a window holding more ids than the batch cap is finished
// across repeated collects before the pass moves on.
func (w *CDCWorker) historicalPass(ctx context.Context) error {
	st, err := w.status.Get(ctx, domain.HistoricalModeKey)
	if err != nil {
		return fmt.Errorf("historical status: %w", err)
	}
	if st == nil || !st.Enabled {
		return nil
	}

	now := time.Now().UTC()
	if !st.LastProcessed.Before(now) {
		return nil
	}
	from := st.LastProcessed
	to := from.Add(historicalWindow)
	if to.After(now) {
		to = now
	}

	var dispatched int64
	for _, src := range w.catalog.Enabled() {
		n, err := w.replayWindow(ctx, src, from, to)
		if err != nil {
			return err
		}
		dispatched += n
	}

	if err := w.status.SetWatermark(ctx, domain.HistoricalModeKey, to, dispatched); err != nil {
		return fmt.Errorf("advance historical watermark: %w", err)
	}
	w.bump(func(s *Stats) { s.Historical += dispatched })
	log.Printf("[CDC] historical %s..%s: %d dispatched",
		from.Format(time.RFC3339), to.Format(time.RFC3339), dispatched)
	return nil
}

// replayWindow collects one source's window until it stops yielding new
// ids. Unmarked skips come back on every collect, so the seen set is what
// guarantees termination.
func (w *CDCWorker) replayWindow(ctx context.Context, src catalog.Source, from, to time.Time) (int64, error) {
	var dispatched int64
	seen := make(map[string]bool)

	for {
		ids, err := w.collector.CollectWindow(ctx, src, from, to, w.cfg.HistoricalBatchSize)
		if err != nil {
			return dispatched, fmt.Errorf("historical collect %s: %w", src.ID, err)
		}

		progress := false
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			progress = true

			select {
			case <-ctx.Done():
				return dispatched, ctx.Err()
			default:
			}
			if w.processID(ctx, src, id) == outcomeDispatched {
				dispatched++
			}
		}

		if len(ids) < w.cfg.HistoricalBatchSize || !progress {
			return dispatched, nil
		}
	}
}

func (w *CDCWorker) logStats(s Stats) {
	log.Printf("[CDC] stats: cycles=%d collected=%d dispatched=%d skipped=%d failures=%d results=%d historical=%d",
		s.Cycles, s.Collected, s.Dispatched, s.Skipped, s.Failures, s.ResultsIn, s.Historical)
}
