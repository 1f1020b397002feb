package gather

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"intrabar/internal/domain"
	"intrabar/internal/util"
)

var fastBackoff = util.Backoff{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}

type countingGate struct{ n atomic.Int64 }

func (g *countingGate) Wait(ctx context.Context) error {
	g.n.Add(1)
	return ctx.Err()
}

// scriptedSource fails with errs in order, then succeeds.
type scriptedSource struct {
	errs  []error
	calls int
	bars  []domain.Bar
	daily map[string][]domain.DailyBar // by adjustment
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Bars(_ context.Context, _ Request) ([]domain.Bar, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return nil, s.errs[s.calls-1]
	}
	return s.bars, nil
}

func (s *scriptedSource) DailyBars(_ context.Context, req Request) ([]domain.DailyBar, error) {
	s.calls++
	out := make([]domain.DailyBar, len(s.daily[req.Adjustment]))
	copy(out, s.daily[req.Adjustment])
	return out, nil
}

func transient() error {
	return &domain.ProviderError{Kind: domain.ErrKindTransient, Err: errors.New("502")}
}

func TestFetchRetriesTransient(t *testing.T) {
	src := &scriptedSource{
		errs: []error{transient(), &domain.ProviderError{Kind: domain.ErrKindRateLimited, Err: errors.New("429")}},
		bars: []domain.Bar{{Symbol: "AAPL"}},
	}
	gate := &countingGate{}
	c := NewClient(src, gate, fastBackoff, nil)

	bars, err := c.Fetch(context.Background(), Request{Symbol: "AAPL"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(bars) != 1 {
		t.Errorf("got %d bars, want 1", len(bars))
	}
	if src.calls != 3 {
		t.Errorf("calls = %d, want 3", src.calls)
	}
	if gate.n.Load() != 3 {
		t.Errorf("gate admitted %d requests, want one per attempt", gate.n.Load())
	}
}

func TestFetchExhaustsAttempts(t *testing.T) {
	src := &scriptedSource{errs: []error{transient(), transient(), transient(), transient()}}
	c := NewClient(src, &countingGate{}, fastBackoff, nil)

	_, err := c.Fetch(context.Background(), Request{Symbol: "AAPL"})
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ProviderError", err)
	}
	if pe.Kind != domain.ErrKindTransient || pe.Attempts != 3 || pe.Symbol != "AAPL" {
		t.Errorf("error = %+v, want transient after 3 attempts", pe)
	}
	if src.calls != 3 {
		t.Errorf("calls = %d, want 3", src.calls)
	}
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	src := &scriptedSource{errs: []error{&domain.ProviderError{Kind: domain.ErrKindNotFound, Err: errors.New("404")}}}
	c := NewClient(src, &countingGate{}, fastBackoff, nil)

	_, err := c.Fetch(context.Background(), Request{Symbol: "ZZZZ"})
	if !domain.IsProviderKind(err, domain.ErrKindNotFound) {
		t.Fatalf("err = %v, want not_found", err)
	}
	if src.calls != 1 {
		t.Errorf("calls = %d, want 1", src.calls)
	}
}

func TestFetchUnknownErrorIsTransient(t *testing.T) {
	src := &scriptedSource{errs: []error{errors.New("connection reset")}}
	c := NewClient(src, &countingGate{}, fastBackoff, nil)

	if _, err := c.Fetch(context.Background(), Request{Symbol: "AAPL"}); err != nil {
		t.Fatalf("plain error was not retried: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("calls = %d, want 2", src.calls)
	}
}

func TestFetchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewClient(&scriptedSource{}, &countingGate{}, fastBackoff, nil)

	if _, err := c.Fetch(ctx, Request{Symbol: "AAPL"}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestFetchDailyFillsAdjClose(t *testing.T) {
	d := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	src := &scriptedSource{daily: map[string][]domain.DailyBar{
		"raw": {{Symbol: "AAPL", Date: d, Close: 100, AdjClose: 100}},
		"all": {{Symbol: "AAPL", Date: d, Close: 50, AdjClose: 50}},
	}}
	c := NewClient(src, &countingGate{}, fastBackoff, nil)

	bars, err := c.FetchDaily(context.Background(), Request{Symbol: "AAPL", Adjustment: "raw"})
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 1 || bars[0].Close != 100 || bars[0].AdjClose != 50 {
		t.Errorf("bars = %+v, want close 100 adj 50", bars)
	}
	if src.calls != 2 {
		t.Errorf("calls = %d, want 2", src.calls)
	}
}

func TestDateRangeMonths(t *testing.T) {
	r := DateRange{
		Start: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	}
	chunks := r.Months()
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if !chunks[0].Start.Equal(r.Start) || !chunks[2].End.Equal(r.End) {
		t.Errorf("chunks not clipped: %+v", chunks)
	}
	if !chunks[1].Start.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("second chunk starts %v", chunks[1].Start)
	}
	if !chunks[0].End.Before(chunks[1].Start) {
		t.Error("chunks overlap")
	}
}

func TestFetchLogsUnderlyingFailure(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	src := &scriptedSource{
		errs: []error{&domain.ProviderError{Kind: domain.ErrKindRateLimited, Symbol: "AAPL", Err: errors.New("HTTP 429")}},
		bars: []domain.Bar{{Symbol: "AAPL"}},
	}
	c := NewClient(src, &countingGate{}, fastBackoff, log)

	if _, err := c.Fetch(context.Background(), Request{Symbol: "AAPL"}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "attempt=1") || !strings.Contains(out, "HTTP 429") {
		t.Errorf("log = %q, want attempt=1 and the 429 cause", out)
	}
	if strings.Contains(out, "attempt(s)") {
		t.Errorf("log repeats the source's attempt count: %q", out)
	}
}
