package crawler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// LogSink writes each result as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink backed by logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Record implements Sink.
func (s *LogSink) Record(_ context.Context, result CrawlResult) error {
	fields := []zap.Field{
		zap.String("url", result.URL),
		zap.String("outcome", string(result.Outcome)),
		zap.String("source", result.Source),
		zap.Int("status", result.StatusCode),
		zap.Int("bytes", result.Bytes),
		zap.Int64("duration_ms", result.DurationMs),
	}
	if result.FinalURL != "" && result.FinalURL != result.URL {
		fields = append(fields, zap.String("final_url", result.FinalURL), zap.Strings("redirects", result.Redirects))
	}
	if result.ContentHash != "" {
		fields = append(fields, zap.String("sha256", result.ContentHash))
	}
	if result.Error != "" {
		fields = append(fields, zap.String("error", result.Error))
	}
	s.logger.Info("crawl result", fields...)
	return nil
}

// JSONLSink appends one JSON object per result to a file.
type JSONLSink struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
	enc  *json.Encoder
}

// NewJSONLSink creates or truncates path.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create sink dir %s: %w", dir, err)
		}
	}
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("create sink file %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	return &JSONLSink{file: f, w: w, enc: json.NewEncoder(w)}, nil
}

// Record implements Sink.
func (s *JSONLSink) Record(ctx context.Context, result CrawlResult) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}

// Close flushes buffered records and closes the file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("flush sink: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close sink: %w", err)
	}
	return nil
}

// MemorySink keeps results in memory.
type MemorySink struct {
	mu      sync.Mutex
	results []CrawlResult
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record implements Sink.
func (s *MemorySink) Record(_ context.Context, result CrawlResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

// Results returns a copy of everything recorded so far.
func (s *MemorySink) Results() []CrawlResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.results)
}
