// Package audit provides the file-backed decision log: JSON Lines files with
// daily rotation, retention cleanup, and an in-memory ring of recent records.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rulegate/rulegate/internal/domain/decision"
)

// logFilePattern matches decision log filenames: decisions-YYYY-MM-DD.log
var logFilePattern = regexp.MustCompile(`^decisions-(\d{4}-\d{2}-\d{2})\.log$`)

// cleanupInterval is how often the retention sweep runs.
const cleanupInterval = 1 * time.Hour

// FileLogConfig configures the file-backed decision log.
type FileLogConfig struct {
	// Dir is the directory where decision log files are stored.
	Dir string
	// RetentionDays is how many days of log files to keep (default 7).
	RetentionDays int
	// CacheSize is the number of recent records kept in memory (default 1000).
	CacheSize int
}

// FileLog implements decision.Log with daily file rotation.
type FileLog struct {
	dir           string
	retentionDays int

	mu          sync.Mutex
	currentFile *os.File
	currentDate string
	closed      bool

	cache  *recordRing
	logger *slog.Logger
	cancel context.CancelFunc
}

// NewFileLog opens the decision log in cfg.Dir, creating the directory if
// needed. It opens today's file, runs a retention sweep, seeds the recent
// ring from the newest file on disk, and starts the periodic cleanup.
func NewFileLog(cfg FileLogConfig, logger *slog.Logger) (*FileLog, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}

	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create decision log directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &FileLog{
		dir:           cfg.Dir,
		retentionDays: cfg.RetentionDays,
		cache:         newRecordRing(cfg.CacheSize),
		logger:        logger,
		cancel:        cancel,
	}

	today := time.Now().UTC().Format("2006-01-02")
	if err := l.openFileLocked(today); err != nil {
		cancel()
		return nil, fmt.Errorf("open decision log: %w", err)
	}

	l.runCleanup()
	l.seedRing()

	go l.cleanupLoop(ctx)

	return l, nil
}

// Append writes records as JSON lines, rotating when the date changes.
func (l *FileLog) Append(_ context.Context, records ...decision.Record) error {
	if len(records) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("decision log is closed")
	}

	for _, rec := range records {
		date := rec.Timestamp.UTC().Format("2006-01-02")
		if date != l.currentDate {
			if err := l.rotateLocked(date); err != nil {
				return fmt.Errorf("rotate decision log: %w", err)
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal decision record: %w", err)
		}
		if _, err := l.currentFile.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("write decision record: %w", err)
		}
		l.cache.add(rec)
	}
	return nil
}

// Recent returns up to n records, newest first.
func (l *FileLog) Recent(n int) []decision.Record {
	return l.cache.recent(n)
}

// Flush syncs the current file to disk.
func (l *FileLog) Flush(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentFile != nil {
		return l.currentFile.Sync()
	}
	return nil
}

// Close stops the cleanup loop and closes the current file. Idempotent.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	l.cancel()

	if l.currentFile != nil {
		_ = l.currentFile.Sync()
		err := l.currentFile.Close()
		l.currentFile = nil
		return err
	}
	return nil
}

// openFileLocked opens or creates the log file for the given date.
func (l *FileLog) openFileLocked(date string) error {
	path := filepath.Join(l.dir, "decisions-"+date+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	l.currentFile = f
	l.currentDate = date
	return nil
}

// rotateLocked closes the current file and opens one for the new date.
func (l *FileLog) rotateLocked(date string) error {
	if l.currentFile != nil {
		_ = l.currentFile.Sync()
		_ = l.currentFile.Close()
		l.currentFile = nil
	}
	if err := l.openFileLocked(date); err != nil {
		return err
	}
	l.runCleanup()
	return nil
}

// runCleanup deletes log files older than the retention period.
func (l *FileLog) runCleanup() {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		l.logger.Error("decision log cleanup failed to read directory",
			"dir", l.dir, "error", err)
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -l.retentionDays)
	deleted := 0
	for _, e := range entries {
		m := logFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		fileDate, err := time.Parse("2006-01-02", m[1])
		if err != nil {
			continue
		}
		if fileDate.Before(cutoff) {
			if err := os.Remove(filepath.Join(l.dir, e.Name())); err != nil {
				l.logger.Error("decision log cleanup failed to delete file",
					"file", e.Name(), "error", err)
			} else {
				deleted++
			}
		}
	}
	if deleted > 0 {
		l.logger.Info("decision log cleanup completed", "deleted", deleted)
	}
}

// cleanupLoop runs the retention sweep periodically until ctx is cancelled.
func (l *FileLog) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.runCleanup()
		}
	}
}

// seedRing fills the recent ring from the newest non-empty log file so
// Recent works across restarts.
func (l *FileLog) seedRing() {
	name := l.newestFile()
	if name == "" {
		return
	}

	f, err := os.Open(filepath.Join(l.dir, name))
	if err != nil {
		l.logger.Error("decision log failed to open file for seeding",
			"file", name, "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	var records []decision.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec decision.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			l.logger.Warn("decision log skipping malformed line",
				"file", name, "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		l.logger.Error("decision log error reading file", "file", name, "error", err)
	}

	start := 0
	if len(records) > l.cache.size {
		start = len(records) - l.cache.size
	}
	for _, rec := range records[start:] {
		l.cache.add(rec)
	}
}

// newestFile returns the newest non-empty log filename, or "".
func (l *FileLog) newestFile() string {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return ""
	}

	var names []string
	for _, e := range entries {
		if !logFilePattern.MatchString(e.Name()) {
			continue
		}
		if info, err := e.Info(); err != nil || info.Size() == 0 {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return names[len(names)-1]
}

// Compile-time interface verification.
var _ decision.Log = (*FileLog)(nil)

// recordRing is a fixed-size ring buffer of recent decision records.
type recordRing struct {
	mu      sync.RWMutex
	entries []decision.Record
	size    int
	head    int
	count   int
}

func newRecordRing(size int) *recordRing {
	return &recordRing{entries: make([]decision.Record, size), size: size}
}

// add overwrites the oldest entry when full.
func (r *recordRing) add(rec decision.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.head] = rec
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

// recent returns up to n entries, newest first.
func (r *recordRing) recent(n int) []decision.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}
	out := make([]decision.Record, n)
	for i := 0; i < n; i++ {
		out[i] = r.entries[(r.head-1-i+r.size)%r.size]
	}
	return out
}
