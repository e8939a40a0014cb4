// Package logging provides the file log writer used by the relay daemon.
// Output rotates by UTC day and by size, so a long-lived relayd streaming
// ticks never grows one unbounded file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultMaxBytes caps one log file before same-day rollover.
const DefaultMaxBytes int64 = 300 << 20

// RotatingWriter appends to dated files derived from a base path:
// logs/relayd.log writes to logs/relayd-2026-08-28.log, then to
// logs/relayd-2026-08-28-2.log once the size cap is reached. The base path is
// kept as a symlink to the live file so `tail -F logs/relayd.log` follows
// rotation.
type RotatingWriter struct {
	path  string
	limit int64

	mu   sync.Mutex
	day  string // UTC date of the open file
	seq  int    // 1-based same-day rollover sequence
	file *os.File
	size int64
}

// NewRotatingWriter opens the writer for the logical log path. A path of "-"
// discards all output; a non-positive maxBytes falls back to DefaultMaxBytes.
func NewRotatingWriter(path string, maxBytes int64) (io.WriteCloser, error) {
	if strings.TrimSpace(path) == "-" {
		return discardWriter{}, nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	w := &RotatingWriter{path: path, limit: maxBytes}
	if err := w.roll(0); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.roll(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

// roll opens a fresh file when the UTC day changed or when writing incoming
// bytes would pass the size cap.
func (w *RotatingWriter) roll(incoming int64) error {
	day := time.Now().UTC().Format("2006-01-02")
	switch {
	case w.file == nil || day != w.day:
		w.day = day
		w.seq = 1
	case w.size+incoming > w.limit:
		w.seq++
	default:
		return nil
	}
	return w.open()
}

func (w *RotatingWriter) open() error {
	if w.file != nil {
		_ = w.file.Close()
	}
	dir, name := filepath.Split(w.path)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".log"
	}
	target := fmt.Sprintf("%s-%s%s", stem, w.day, ext)
	if w.seq > 1 {
		target = fmt.Sprintf("%s-%s-%d%s", stem, w.day, w.seq, ext)
	}
	full := filepath.Join(dir, target)

	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	w.file = f
	w.size = 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	w.relink(full)
	return nil
}

// relink points the base path at the live file.
func (w *RotatingWriter) relink(target string) {
	if info, err := os.Lstat(w.path); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			if dest, err := os.Readlink(w.path); err == nil && dest == target {
				return
			}
		}
		_ = os.Remove(w.path)
	}
	if os.Symlink(target, w.path) == nil {
		return
	}
	// Filesystems without symlinks get a pointer file instead.
	_ = os.WriteFile(w.path, []byte(target+"\n"), 0o644)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
func (discardWriter) Close() error                { return nil }
