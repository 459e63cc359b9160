// Package writer implements the batch notification writer.
//
// The writer consumes decoded notifications from a buffered channel,
// accumulates them into batches, and flushes on size or interval using
// pgx.Batch. Inserts are append-only with ON CONFLICT DO NOTHING:
// re-deliveries after a reconnect or a fallback poll are expected and
// deduplicated by primary key.
package writer
