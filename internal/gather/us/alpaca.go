package us

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"intrabar/internal/domain"
	"intrabar/internal/gather"
	"intrabar/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var _ gather.Source = (*AlpacaSource)(nil)

// ---------------------------------------------------------------------------
// AlpacaSource: single OHLCV bar requests against the Alpaca market-data API.
// ---------------------------------------------------------------------------

// AlpacaSource issues one GetBars call per request. The SDK pages through
// large results; each page is a separate HTTP request admitted by the gate.
// The SDK's own retries are disabled and left to gather.Client.
type AlpacaSource struct {
	getBars func(ctx context.Context, symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	feed    string
	loc     *time.Location // exchange timezone for daily bar dates
}

// NewAlpacaSource creates an AlpacaSource configured with the given Alpaca
// credentials and data feed ("sip" or "iex"). Every HTTP request waits on
// gate first, so the gate must not also be applied by the gather.Client
// wrapping this source. A nil gate admits everything.
func NewAlpacaSource(apiKey, apiSecret, dataURL, feed string, loc *time.Location, gate util.Gate) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:     apiKey,
		APISecret:  apiSecret,
		RetryLimit: sdkRetryOff,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if feed == "" {
		feed = "sip"
	}
	base := newBaseTransport()

	return &AlpacaSource{
		// The SDK client is a thin value; one per call binds the request
		// context to its HTTP client.
		getBars: func(ctx context.Context, symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
			o := opts
			o.HTTPClient = gatedHTTPClient(ctx, gate, base)
			return marketdata.NewClient(o).GetBars(symbol, req)
		},
		feed: feed,
		loc:  loc,
	}
}

// Name returns the provider identifier.
func (s *AlpacaSource) Name() string { return "alpaca" }

// Bars fetches intraday bars for req.
func (s *AlpacaSource) Bars(ctx context.Context, req gather.Request) ([]domain.Bar, error) {
	raw, err := s.fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol:     strings.ToUpper(req.Symbol),
			Timestamp:  ab.Timestamp,
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return bars, nil
}

// DailyBars fetches daily bars for req. Alpaca stamps daily bars at exchange
// midnight, which is converted back to the civil session date. AdjClose
// equals Close; gather.Client fills it from a fully adjusted request.
func (s *AlpacaSource) DailyBars(ctx context.Context, req gather.Request) ([]domain.DailyBar, error) {
	req.Timeframe = domain.OneDay
	raw, err := s.fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	bars := make([]domain.DailyBar, 0, len(raw))
	for _, ab := range raw {
		l := ab.Timestamp.In(s.loc)
		bars = append(bars, domain.DailyBar{
			Symbol:   strings.ToUpper(req.Symbol),
			Date:     time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.UTC),
			Open:     ab.Open,
			High:     ab.High,
			Low:      ab.Low,
			Close:    ab.Close,
			AdjClose: ab.Close,
			Volume:   int64(ab.Volume),
		})
	}
	return bars, nil
}

func (s *AlpacaSource) fetch(ctx context.Context, req gather.Request) ([]marketdata.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tf, err := alpacaTimeFrame(req.Timeframe)
	if err != nil {
		return nil, &domain.ProviderError{Kind: domain.ErrKindNotFound, Symbol: req.Symbol, Err: err}
	}
	adjustment := req.Adjustment
	if adjustment == "" {
		adjustment = "all"
	}

	raw, err := s.getBars(ctx, req.Symbol, marketdata.GetBarsRequest{
		TimeFrame:  tf,
		Adjustment: marketdata.Adjustment(adjustment),
		Start:      req.Start,
		End:        req.End,
		Feed:       marketdata.Feed(s.feed),
	})
	if err != nil {
		return nil, classifyAlpacaError(req.Symbol, err)
	}
	return raw, nil
}

func alpacaTimeFrame(tf domain.Timeframe) (marketdata.TimeFrame, error) {
	switch tf {
	case domain.OneMin:
		return marketdata.OneMin, nil
	case domain.FiveMin:
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case domain.OneDay:
		return marketdata.OneDay, nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("unsupported timeframe %q", tf)
}

// classifyAlpacaError maps an SDK error to a provider failure kind: 429 is
// rate limited, 401/403 unauthorized, other 4xx not found, 5xx and network
// failures transient.
func classifyAlpacaError(symbol string, err error) error {
	kind := domain.ErrKindTransient

	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		switch code := apiErr.StatusCode; {
		case code == http.StatusTooManyRequests:
			kind = domain.ErrKindRateLimited
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			kind = domain.ErrKindUnauthorized
		case code >= 400 && code < 500:
			kind = domain.ErrKindNotFound
		}
	}
	return &domain.ProviderError{Kind: kind, Symbol: symbol, Err: err}
}
