package us

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"intrabar/internal/domain"
)

// sessionListing maintains one file per exchange date (YYYY-MM-DD.txt)
// naming the symbols with at least one stored bar that session. Symbols are
// collected in memory and merged into the files on Flush, so every file is
// sorted and duplicate-free after each flush.
type sessionListing struct {
	mu      sync.Mutex
	dir     string                         // <DataDir>/us/universe/<timeframe>
	loc     *time.Location                 // exchange timezone for the date key
	pending map[string]map[string]struct{} // date → symbols not yet on disk
	touched map[string]struct{}            // dates written this run
}

func newSessionListing(dir string, loc *time.Location) *sessionListing {
	return &sessionListing{
		dir:     dir,
		loc:     loc,
		pending: make(map[string]map[string]struct{}),
		touched: make(map[string]struct{}),
	}
}

// AddBars records the exchange date of every bar.
func (l *sessionListing) AddBars(bars []domain.Bar) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, b := range bars {
		date := b.Timestamp.In(l.loc).Format("2006-01-02")
		set, ok := l.pending[date]
		if !ok {
			set = make(map[string]struct{})
			l.pending[date] = set
		}
		set[b.Symbol] = struct{}{}
	}
}

// Flush merges the pending symbols into their date files.
func (l *sessionListing) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) == 0 {
		return nil
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("creating universe dir: %w", err)
	}
	for date, set := range l.pending {
		if err := mergeListing(filepath.Join(l.dir, date+".txt"), set); err != nil {
			return err
		}
		l.touched[date] = struct{}{}
		delete(l.pending, date)
	}
	return nil
}

// Finalize flushes what is left and returns how many session files were
// written during the run.
func (l *sessionListing) Finalize() (int, error) {
	if err := l.Flush(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.touched), nil
}

// mergeListing unions set with the symbols already in path and rewrites the
// file sorted. The rewrite goes through a temp file so a crash never leaves
// a truncated listing behind.
func mergeListing(path string, set map[string]struct{}) error {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading universe file %s: %w", path, err)
	}
	merged := make(map[string]struct{}, len(set))
	for sym := range set {
		merged[sym] = struct{}{}
	}
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			merged[line] = struct{}{}
		}
	}

	symbols := make([]string, 0, len(merged))
	for sym := range merged {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.Join(symbols, "\n")+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing universe file %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

// UniverseDir returns the listing directory for a timeframe.
func UniverseDir(dataDir string, tf domain.Timeframe) string {
	return filepath.Join(dataDir, "us", "universe", tf.String())
}
