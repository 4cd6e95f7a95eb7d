// Package progress reports crawl run milestones. Workers emit events to a
// non-blocking Hub that batches them on a background goroutine and hands
// each batch to every registered Sink.
package progress
