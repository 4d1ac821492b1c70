/*
 * Copyright 2025 MindHaven, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logs

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

const (
	defaultQueueSize       = 10000
	defaultWorkers         = 3
	defaultCleanupInterval = 6 * time.Hour

	tailPollInterval = time.Second
	tailChunkSize    = 64 * 1024
)

// EnqueueOutcome reports what happened to an offered log line.
type EnqueueOutcome int

const (
	// Accepted means the line was queued for processing.
	Accepted EnqueueOutcome = iota
	// Dropped means the queue was full and the line was discarded.
	Dropped
)

// PatternFunc receives side-channel notifications when a stored entry
// matches a detection pattern.
type PatternFunc func(ctx context.Context, entry *models.LogEntry, pattern Pattern)

type rawLine struct {
	source string
	line   string
}

// CollectorStats is a point-in-time snapshot of pipeline counters.
type CollectorStats struct {
	Accepted   int64 `json:"accepted"`
	Dropped    int64 `json:"dropped"`
	Stored     int64 `json:"stored"`
	Matched    int64 `json:"matched"`
	QueueDepth int   `json:"queue_depth"`
	Tailers    int   `json:"tailers"`
}

// Collector tails the configured log files and feeds parsed entries into
// storage through a bounded queue. When the queue is full new lines are
// dropped rather than blocking the readers.
type Collector struct {
	cfg     models.LogsConfig
	parser  *Parser
	storage *Storage
	logger  logger.Logger

	queue   chan rawLine
	watcher *fsnotify.Watcher

	onPattern PatternFunc

	mu      sync.Mutex
	tailers map[string]*tailer

	accepted atomic.Int64
	dropped  atomic.Int64
	stored   atomic.Int64
	matched  atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// CollectorOption customizes a Collector.
type CollectorOption func(*Collector)

// WithPatternFunc registers the side-channel hook fired per pattern
// match.
func WithPatternFunc(fn PatternFunc) CollectorOption {
	return func(c *Collector) {
		c.onPattern = fn
	}
}

// NewCollector creates a collector over the given parser and storage.
func NewCollector(cfg models.LogsConfig, parser *Parser, storage *Storage, log logger.Logger, opts ...CollectorOption) *Collector {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	c := &Collector{
		cfg:     cfg,
		parser:  parser,
		storage: storage,
		logger:  log,
		queue:   make(chan rawLine, queueSize),
		tailers: make(map[string]*tailer),
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start launches the file watcher, the tail goroutines for existing
// files, the worker pool, and the retention cleanup loop.
func (c *Collector) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	c.watcher = watcher

	for _, path := range c.cfg.WatchPaths {
		c.watchPath(ctx, path)
	}

	workers := c.cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	for i := 0; i < workers; i++ {
		c.wg.Add(1)

		go c.worker(ctx)
	}

	c.wg.Add(1)

	go c.watchLoop(ctx)

	if c.cfg.RetentionDays > 0 {
		c.wg.Add(1)

		go c.cleanupLoop(ctx)
	}

	c.logger.Info().
		Int("paths", len(c.cfg.WatchPaths)).
		Int("workers", workers).
		Int("queue_size", cap(c.queue)).
		Msg("Starting log collector")

	return nil
}

// Stop shuts down the watcher, tailers, and workers. Queued lines not
// yet processed are discarded.
func (c *Collector) Stop(ctx context.Context) error {
	c.closeOnce.Do(func() {
		close(c.done)
	})

	if c.watcher != nil {
		_ = c.watcher.Close()
	}

	stopped := make(chan struct{})

	go func() {
		c.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watchPath registers one configured path. Directories are watched for
// new log files; for single files the parent directory is watched so
// rotation shows up as events.
func (c *Collector) watchPath(ctx context.Context, path string) {
	info, err := os.Stat(path)

	switch {
	case err != nil:
		// Watch the parent so the file is picked up once it appears.
		c.logger.Warn().Err(err).Str("path", path).Msg("Watch path missing; waiting for creation")
		c.addWatch(filepath.Dir(path))
	case info.IsDir():
		c.addWatch(path)
		c.tailExistingDir(ctx, path)
	default:
		c.addWatch(filepath.Dir(path))
		c.startTailer(ctx, path, true)
	}
}

func (c *Collector) addWatch(dir string) {
	if err := c.watcher.Add(dir); err != nil {
		c.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to watch directory")
	}
}

func (c *Collector) tailExistingDir(ctx context.Context, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		c.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to list watch directory")

		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !isLogFile(entry.Name()) {
			continue
		}

		c.startTailer(ctx, filepath.Join(dir, entry.Name()), true)
	}
}

func isLogFile(name string) bool {
	return strings.HasSuffix(name, ".log")
}

// shouldTail reports whether an event path belongs to the configured
// watch set.
func (c *Collector) shouldTail(path string) bool {
	for _, watched := range c.cfg.WatchPaths {
		if watched == path {
			return true
		}

		if info, err := os.Stat(watched); err == nil && info.IsDir() {
			if filepath.Dir(path) == filepath.Clean(watched) && isLogFile(filepath.Base(path)) {
				return true
			}
		}
	}

	return false
}

func (c *Collector) watchLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}

			c.handleEvent(ctx, event)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}

			c.logger.Warn().Err(err).Msg("File watcher error")
		}
	}
}

func (c *Collector) handleEvent(ctx context.Context, event fsnotify.Event) {
	switch {
	case event.Op.Has(fsnotify.Create):
		if c.shouldTail(event.Name) {
			// A brand-new file is read from the top; an existing
			// tailer sees the rotation on its next poll.
			c.startTailer(ctx, event.Name, false)
			c.nudgeTailer(event.Name)
		}
	case event.Op.Has(fsnotify.Write):
		c.nudgeTailer(event.Name)
	}
}

func (c *Collector) startTailer(ctx context.Context, path string, seekEnd bool) {
	c.mu.Lock()

	if _, exists := c.tailers[path]; exists {
		c.mu.Unlock()

		return
	}

	t := &tailer{
		path:    path,
		seekEnd: seekEnd,
		nudge:   make(chan struct{}, 1),
	}
	c.tailers[path] = t

	c.mu.Unlock()

	c.logger.Info().Str("path", path).Msg("Tailing log file")

	c.wg.Add(1)

	go c.runTailer(ctx, t)
}

func (c *Collector) nudgeTailer(path string) {
	c.mu.Lock()
	t, ok := c.tailers[path]
	c.mu.Unlock()

	if !ok {
		return
	}

	select {
	case t.nudge <- struct{}{}:
	default:
	}
}

type tailer struct {
	path    string
	seekEnd bool
	nudge   chan struct{}

	file   *os.File
	offset int64
	buf    []byte
}

// runTailer polls the file for appended data. Watcher events only wake
// the poll early; correctness never depends on them.
func (c *Collector) runTailer(ctx context.Context, t *tailer) {
	defer c.wg.Done()

	defer func() {
		if t.file != nil {
			_ = t.file.Close()
		}
	}()

	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()

	for {
		c.readAvailable(t)

		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-t.nudge:
		case <-ticker.C:
		}
	}
}

func (c *Collector) readAvailable(t *tailer) {
	info, err := os.Stat(t.path)
	if err != nil {
		// Rotated away; reopen once the path reappears.
		if t.file != nil {
			_ = t.file.Close()
			t.file = nil
		}

		return
	}

	if t.file != nil {
		if current, err := t.file.Stat(); err != nil || !os.SameFile(current, info) {
			c.logger.Warn().Str("path", t.path).Msg("Log file rotated; reopening")
			_ = t.file.Close()
			t.file = nil
		} else if info.Size() < t.offset {
			c.logger.Warn().Str("path", t.path).Msg("Log file truncated; restarting tail")
			_ = t.file.Close()
			t.file = nil
		}
	}

	if t.file == nil {
		file, err := os.Open(t.path)
		if err != nil {
			return
		}

		t.file = file
		t.offset = 0
		t.buf = t.buf[:0]

		if t.seekEnd {
			// Skip history present before startup; only ever applies
			// to the first open.
			if offset, err := file.Seek(0, io.SeekEnd); err == nil {
				t.offset = offset
			}

			t.seekEnd = false
		}
	}

	if info.Size() <= t.offset {
		return
	}

	if _, err := t.file.Seek(t.offset, io.SeekStart); err != nil {
		return
	}

	chunk := make([]byte, tailChunkSize)

	for {
		n, err := t.file.Read(chunk)
		if n > 0 {
			t.offset += int64(n)
			t.buf = append(t.buf, chunk[:n]...)
			c.flushLines(t)
		}

		if err != nil {
			return
		}
	}
}

// flushLines enqueues every complete line buffered so far, keeping a
// trailing partial line for the next read.
func (c *Collector) flushLines(t *tailer) {
	for {
		idx := bytes.IndexByte(t.buf, '\n')
		if idx < 0 {
			return
		}

		line := string(t.buf[:idx])
		t.buf = t.buf[idx+1:]

		if strings.TrimSpace(line) == "" {
			continue
		}

		c.Enqueue(t.path, line)
	}
}

// Enqueue offers one raw line to the pipeline and reports whether it was
// accepted or dropped. It never blocks.
func (c *Collector) Enqueue(source, line string) EnqueueOutcome {
	select {
	case c.queue <- rawLine{source: source, line: line}:
		c.accepted.Add(1)

		return Accepted
	default:
		c.dropped.Add(1)

		return Dropped
	}
}

func (c *Collector) worker(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case raw := <-c.queue:
			c.process(ctx, raw)
		}
	}
}

func (c *Collector) process(ctx context.Context, raw rawLine) {
	entry := c.parser.Parse(raw.line)
	if entry == nil {
		return
	}

	if err := c.storage.Insert(ctx, entry); err != nil {
		c.logger.Error().Err(err).Str("source", raw.source).Msg("Failed to store log entry")
	} else {
		c.stored.Add(1)
	}

	patterns := c.parser.DetectPatterns(entry)
	if len(patterns) == 0 {
		return
	}

	c.matched.Add(int64(len(patterns)))

	for _, pattern := range patterns {
		c.firePattern(ctx, entry, pattern)
	}
}

func (c *Collector) firePattern(ctx context.Context, entry *models.LogEntry, pattern Pattern) {
	if c.onPattern == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Str("pattern", pattern.Name).
				Interface("panic", r).
				Msg("Pattern hook panicked")
		}
	}()

	c.onPattern(ctx, entry, pattern)
}

func (c *Collector) cleanupLoop(ctx context.Context) {
	defer c.wg.Done()

	interval := c.cfg.CleanupInterval.Std()
	if interval <= 0 {
		interval = defaultCleanupInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.runCleanup(ctx)
		}
	}
}

func (c *Collector) runCleanup(ctx context.Context) {
	cutoff := time.Now().Add(-time.Duration(c.cfg.RetentionDays) * 24 * time.Hour)

	removed, err := c.storage.CleanupBefore(ctx, cutoff)
	if err != nil {
		c.logger.Error().Err(err).Msg("Log retention cleanup failed")

		return
	}

	if removed > 0 {
		c.logger.Info().Int64("removed", removed).Msg("Log retention cleanup completed")
	}
}

// Stats returns a snapshot of the pipeline counters.
func (c *Collector) Stats() CollectorStats {
	c.mu.Lock()
	tailers := len(c.tailers)
	c.mu.Unlock()

	return CollectorStats{
		Accepted:   c.accepted.Load(),
		Dropped:    c.dropped.Load(),
		Stored:     c.stored.Load(),
		Matched:    c.matched.Load(),
		QueueDepth: len(c.queue),
		Tailers:    tailers,
	}
}
