package us

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "universe.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCSVSymbols(t *testing.T) {
	path := writeCSV(t, "name,symbol,sector\nApple,aapl,Tech\nMicrosoft, MSFT ,Tech\nDup,AAPL,Tech\nBlank,,Tech\n")

	got, err := LoadCSVSymbols(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != "AAPL,MSFT" {
		t.Errorf("LoadCSVSymbols = %v, want [AAPL MSFT]", got)
	}
}

func TestLoadCSVSymbolsFirstColumnFallback(t *testing.T) {
	path := writeCSV(t, "ticker,description\nGOOGL,Alphabet\nFOOBAR,NewSym\n")

	got, err := LoadCSVSymbols(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != "GOOGL,FOOBAR" {
		t.Errorf("LoadCSVSymbols = %v", got)
	}
}

func TestLoadCSVSymbolsHeaderOnly(t *testing.T) {
	got, err := LoadCSVSymbols(writeCSV(t, "symbol\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("header-only CSV gave %v", got)
	}
}

func TestLoadCSVSymbolsMissingFile(t *testing.T) {
	if _, err := LoadCSVSymbols(filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Error("expected error for missing file")
	}
}

type listerFunc func(ctx context.Context) ([]string, error)

func (f listerFunc) DistinctSymbols(ctx context.Context) ([]string, error) { return f(ctx) }

func TestUniverse(t *testing.T) {
	ctx := context.Background()
	stored := listerFunc(func(context.Context) ([]string, error) { return []string{"IBM"}, nil })
	csvPath := writeCSV(t, "symbol\nTSLA\n")

	got, err := Universe(ctx, []string{"aapl", "AAPL", " msft"}, csvPath, stored)
	if err != nil || strings.Join(got, ",") != "AAPL,MSFT" {
		t.Errorf("explicit list: %v, %v", got, err)
	}

	got, err = Universe(ctx, nil, csvPath, stored)
	if err != nil || strings.Join(got, ",") != "TSLA" {
		t.Errorf("csv: %v, %v", got, err)
	}

	got, err = Universe(ctx, nil, "", stored)
	if err != nil || strings.Join(got, ",") != "IBM" {
		t.Errorf("store: %v, %v", got, err)
	}

	failing := listerFunc(func(context.Context) ([]string, error) { return nil, errors.New("down") })
	if _, err := Universe(ctx, nil, "", failing); err == nil {
		t.Error("expected store error")
	}
	if _, err := Universe(ctx, nil, "", nil); err == nil {
		t.Error("expected error with nothing configured")
	}
}
