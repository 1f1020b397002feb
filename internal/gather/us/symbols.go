package us

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// LoadCSVSymbols reads the "symbol" column from a CSV file and returns all
// symbols found, upper-cased and deduplicated in file order. The file must
// have a header row; without a "symbol" header the first column is used.
func LoadCSVSymbols(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV %s: %w", path, err)
	}

	if len(records) < 2 {
		return nil, nil
	}

	col := 0
	for i, h := range records[0] {
		if strings.EqualFold(strings.TrimSpace(h), "symbol") {
			col = i
			break
		}
	}

	seen := make(map[string]struct{}, len(records)-1)
	symbols := make([]string, 0, len(records)-1)
	for _, row := range records[1:] {
		if len(row) <= col {
			continue
		}
		sym := strings.ToUpper(strings.TrimSpace(row[col]))
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		symbols = append(symbols, sym)
	}
	return symbols, nil
}

// SymbolLister lists the symbols already present in a store.
type SymbolLister interface {
	DistinctSymbols(ctx context.Context) ([]string, error)
}

// Universe resolves the symbols to process: the explicit list when given,
// else the CSV universe file, else every symbol already stored.
func Universe(ctx context.Context, explicit []string, csvPath string, stored SymbolLister) ([]string, error) {
	if len(explicit) > 0 {
		out := make([]string, 0, len(explicit))
		seen := make(map[string]struct{}, len(explicit))
		for _, s := range explicit {
			s = strings.ToUpper(strings.TrimSpace(s))
			if _, ok := seen[s]; ok || s == "" {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
		return out, nil
	}
	if csvPath != "" {
		return LoadCSVSymbols(csvPath)
	}
	if stored == nil {
		return nil, fmt.Errorf("no symbols configured and no store to list from")
	}
	syms, err := stored.DistinctSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing stored symbols: %w", err)
	}
	return syms, nil
}
