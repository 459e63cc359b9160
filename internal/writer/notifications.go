package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rosterly/realtime/internal/model"
)

// NotificationWriter consumes notifications and writes them to the
// notifications table in batches.
type NotificationWriter struct {
	cfg    Config
	logger *slog.Logger

	// Input from the dispatcher (push messages and fallback polls).
	input chan model.Notification

	// Database
	db *pgxpool.Pool

	// Batching
	batch       []notificationRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Called after each successful flush. Set before Start.
	onFlush func(rows int, took time.Duration)

	// insert performs the batch write; swapped out in tests.
	insert func(ctx context.Context, rows []notificationRow) (int, error)

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics Metrics
}

// NewNotificationWriter creates a new NotificationWriter.
func NewNotificationWriter(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *NotificationWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	w := &NotificationWriter{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  make(chan model.Notification, cfg.BufferSize),
		batch:  make([]notificationRow, 0, cfg.BatchSize),
	}
	w.insert = w.batchInsert
	return w
}

// OnFlush registers a callback invoked after each successful flush.
// Must be called before Start.
func (w *NotificationWriter) OnFlush(fn func(rows int, took time.Duration)) {
	w.onFlush = fn
}

// Enqueue hands a notification to the writer. It never blocks: when the
// buffer is full the notification is dropped and counted, and the next
// fallback poll will recover it.
func (w *NotificationWriter) Enqueue(n model.Notification) bool {
	select {
	case w.input <- n:
		return true
	default:
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
		w.logger.Warn("writer buffer full, dropping notification", "id", n.ID)
		return false
	}
}

// Start begins consuming notifications and writing to the database.
func (w *NotificationWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("notification writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer.
func (w *NotificationWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping notification writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("notification writer stopped")
	case <-ctx.Done():
		w.logger.Warn("notification writer stop timed out")
	}

	// Final flush on the shutdown context: w.ctx is already cancelled and
	// would abort the write, losing the tail of the batch.
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *NotificationWriter) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input channel and accumulates batches.
func (w *NotificationWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case n := <-w.input:
			w.handleNotification(n)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *NotificationWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleNotification transforms and adds a notification to the batch.
func (w *NotificationWriter) handleNotification(n model.Notification) {
	row := w.transform(n)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transform converts a Notification to a notificationRow.
func (w *NotificationWriter) transform(n model.Notification) notificationRow {
	return notificationRow{
		ID:        n.ID.String(),
		SubjectID: n.SubjectID,
		Kind:      n.Kind,
		Title:     n.Title,
		Body:      n.Body,
		Actor:     n.Actor,
		Read:      n.Read,
		CreatedTS: n.CreatedTS,
		UpdatedTS: n.UpdatedTS,
	}
}

// flush writes the current batch to the database.
func (w *NotificationWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]notificationRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.insert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	took := time.Since(start)

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	if w.onFlush != nil {
		w.onFlush(len(batch), took)
	}

	w.logger.Debug("flushed notifications",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", took,
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *NotificationWriter) batchInsert(ctx context.Context, rows []notificationRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO notifications (id, subject_id, kind, title, body, actor, read, created_ts, updated_ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.SubjectID, r.Kind, r.Title, r.Body, r.Actor, r.Read, r.CreatedTS, r.UpdatedTS)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
