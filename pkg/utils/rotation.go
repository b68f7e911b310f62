package utils

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotationConfig controls size-based rotation of the log file
type RotationConfig struct {
	Filename string

	// MaxSizeMB rotates the file once a write would grow it past this size. 0 disables rotation.
	MaxSizeMB int64

	// MaxBackups is the number of rotated files kept. 0 keeps all.
	MaxBackups int

	// Compress gzips rotated files.
	Compress bool
}

// RotatingFile is a zapcore.WriteSyncer that rotates its file by size.
type RotatingFile struct {
	mu     sync.Mutex
	config RotationConfig
	file   *os.File
	size   int64
	now    func() time.Time
}

// NewRotatingFile opens (or creates) the log file for appending.
func NewRotatingFile(config RotationConfig) (*RotatingFile, error) {
	if config.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	rf := &RotatingFile{config: config, now: time.Now}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

// Write implements io.Writer
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.config.MaxSizeMB > 0 && rf.size > 0 && rf.size+int64(len(p)) > rf.config.MaxSizeMB*1024*1024 {
		if err := rf.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

// Sync flushes the current file
func (rf *RotatingFile) Sync() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.file == nil {
		return nil
	}
	return rf.file.Sync()
}

// Close closes the current file
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.file == nil {
		return nil
	}
	err := rf.file.Close()
	rf.file = nil
	return err
}

// Rotate forces a rotation.
func (rf *RotatingFile) Rotate() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.rotate()
}

func (rf *RotatingFile) open() error {
	if err := os.MkdirAll(filepath.Dir(rf.config.Filename), 0750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(rf.config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	rf.file = f
	rf.size = info.Size()
	return nil
}

func (rf *RotatingFile) rotate() error {
	if rf.file != nil {
		if err := rf.file.Close(); err != nil {
			return err
		}
		rf.file = nil
	}

	backup := rf.backupName(rf.now())
	if err := os.Rename(rf.config.Filename, backup); err != nil && !os.IsNotExist(err) {
		return err
	}
	if rf.config.Compress {
		if err := gzipFile(backup); err != nil {
			fmt.Fprintf(os.Stderr, "failed to compress %s: %v\n", backup, err)
		}
	}
	rf.prune()
	return rf.open()
}

// backupName returns <dir>/<name>-<UTC timestamp><ext>, with a counter when taken.
func (rf *RotatingFile) backupName(at time.Time) string {
	dir, base := filepath.Split(rf.config.Filename)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	stamp := at.UTC().Format("2006-01-02T15-04-05.000000")

	name := filepath.Join(dir, stem+"-"+stamp+ext)
	for i := 1; fileExists(name) || fileExists(name+".gz"); i++ {
		name = filepath.Join(dir, fmt.Sprintf("%s-%s.%d%s", stem, stamp, i, ext))
	}
	return name
}

// Backups returns rotated files, oldest first.
func (rf *RotatingFile) Backups() ([]string, error) {
	dir, base := filepath.Split(rf.config.Filename)
	if dir == "" {
		dir = "."
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Name() != base && strings.HasPrefix(e.Name(), stem+"-") {
			names = append(names, filepath.Join(dir, e.Name()))
		}
	}
	// timestamps sort lexically
	sort.Strings(names)
	return names, nil
}

func (rf *RotatingFile) prune() {
	if rf.config.MaxBackups <= 0 {
		return
	}
	backups, err := rf.Backups()
	if err != nil {
		return
	}
	for len(backups) > rf.config.MaxBackups {
		if err := os.Remove(backups[0]); err != nil {
			fmt.Fprintf(os.Stderr, "failed to remove old log %s: %v\n", backups[0], err)
		}
		backups = backups[1:]
	}
}

func gzipFile(name string) error {
	src, err := os.Open(name)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(name+".gz", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		_ = zw.Close()
		_ = dst.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		_ = dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}

func fileExists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}
