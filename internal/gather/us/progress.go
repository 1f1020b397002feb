package us

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// symbolLog is an append-only file of symbols, one per line, mirrored in
// memory.
type symbolLog struct {
	path    string
	symbols map[string]struct{}
	file    *os.File
	writer  *bufio.Writer
}

func openSymbolLog(path string) (*symbolLog, error) {
	l := &symbolLog{path: path, symbols: make(map[string]struct{})}
	data, err := os.ReadFile(path)
	if err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if sym := strings.TrimSpace(line); sym != "" {
				l.symbols[sym] = struct{}{}
			}
		}
	}
	if err := l.open(); err != nil {
		return nil, err
	}
	// A crash mid-write can leave the last line unterminated.
	if len(data) > 0 && data[len(data)-1] != '\n' {
		if err := l.writer.WriteByte('\n'); err != nil {
			l.close()
			return nil, err
		}
	}
	return l, nil
}

func (l *symbolLog) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filepath.Base(l.path), err)
	}
	l.file = f
	l.writer = bufio.NewWriter(f)
	return nil
}

func (l *symbolLog) has(sym string) bool {
	_, ok := l.symbols[sym]
	return ok
}

func (l *symbolLog) add(symbols []string) error {
	for _, sym := range symbols {
		if l.has(sym) {
			continue
		}
		l.symbols[sym] = struct{}{}
		if _, err := l.writer.WriteString(sym + "\n"); err != nil {
			return fmt.Errorf("writing to %s: %w", filepath.Base(l.path), err)
		}
	}
	return l.writer.Flush()
}

func (l *symbolLog) reset() error {
	l.close()
	l.symbols = make(map[string]struct{})
	os.Remove(l.path)
	return l.open()
}

func (l *symbolLog) close() error {
	if l.writer != nil {
		l.writer.Flush()
	}
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// progressTracker manages the .loaded, .tried-empty and .last-completed
// files so an interrupted load resumes where it stopped.
type progressTracker struct {
	mu         sync.Mutex
	loaded     *symbolLog
	triedEmpty *symbolLog
	dir        string // <DataDir>/us/progress/<timeframe>
}

// newProgressTracker creates a tracker rooted at dir and loads any existing
// entries.
func newProgressTracker(dir string) (*progressTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating progress dir: %w", err)
	}
	loaded, err := openSymbolLog(filepath.Join(dir, ".loaded"))
	if err != nil {
		return nil, err
	}
	empty, err := openSymbolLog(filepath.Join(dir, ".tried-empty"))
	if err != nil {
		loaded.close()
		return nil, err
	}
	return &progressTracker{loaded: loaded, triedEmpty: empty, dir: dir}, nil
}

// IsTriedEmpty returns true if the symbol was already tried and returned no data.
func (p *progressTracker) IsTriedEmpty(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.triedEmpty.has(symbol)
}

// IsLoaded returns true if every chunk of the symbol was already stored.
func (p *progressTracker) IsLoaded(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded.has(symbol)
}

// MarkEmpty records a batch of symbols as tried-empty.
func (p *progressTracker) MarkEmpty(symbols []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.triedEmpty.add(symbols)
}

// MarkLoaded records a batch of symbols as fully loaded.
func (p *progressTracker) MarkLoaded(symbols []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded.add(symbols)
}

// MarkCompleted writes the given end date to .last-completed.
func (p *progressTracker) MarkCompleted(date string) error {
	path := filepath.Join(p.dir, ".last-completed")
	return os.WriteFile(path, []byte(date), 0o644)
}

// IsCompleted returns true if .last-completed matches the given date.
func (p *progressTracker) IsCompleted(date string) bool {
	return p.LastCompleted() == date
}

// LastCompleted returns the date string from .last-completed, or empty string.
func (p *progressTracker) LastCompleted() string {
	data, err := os.ReadFile(filepath.Join(p.dir, ".last-completed"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Reset clears all progress so the next load starts over.
func (p *progressTracker) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	os.Remove(filepath.Join(p.dir, ".last-completed"))
	if err := p.loaded.reset(); err != nil {
		return err
	}
	return p.triedEmpty.reset()
}

// Close flushes and closes the progress files.
func (p *progressTracker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.loaded.close()
	if cerr := p.triedEmpty.close(); err == nil {
		err = cerr
	}
	return err
}
