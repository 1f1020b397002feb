package gather

import (
	"context"
	"errors"
	"log/slog"

	"intrabar/internal/domain"
	"intrabar/internal/util"
)

// Client wraps a Source with the shared admission gate and retry policy.
// One Client, and therefore one gate, is shared by all workers. A source
// that admits each of its HTTP requests itself is wrapped with a nil gate,
// so a request is never counted twice.
type Client struct {
	src     Source
	gate    util.Gate
	backoff util.Backoff
	log     *slog.Logger
}

// NewClient creates a Client. A nil logger means slog.Default().
func NewClient(src Source, gate util.Gate, backoff util.Backoff, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		src:     src,
		gate:    gate,
		backoff: backoff,
		log:     log.With("provider", src.Name()),
	}
}

// Fetch returns the bars for req. Zero bars is a valid result. Failures are
// returned as *domain.ProviderError carrying the number of attempts made,
// unless ctx ended first, in which case ctx.Err() is returned.
func (c *Client) Fetch(ctx context.Context, req Request) ([]domain.Bar, error) {
	return do(ctx, c, req, c.src.Bars)
}

// FetchDaily returns daily bars for req. Close follows req.Adjustment and
// AdjClose is the fully adjusted close, which costs a second request unless
// req.Adjustment is already "all".
func (c *Client) FetchDaily(ctx context.Context, req Request) ([]domain.DailyBar, error) {
	req.Timeframe = domain.OneDay
	bars, err := do(ctx, c, req, c.src.DailyBars)
	if err != nil || req.Adjustment == "all" || len(bars) == 0 {
		return bars, err
	}

	adj := req
	adj.Adjustment = "all"
	adjusted, err := do(ctx, c, adj, c.src.DailyBars)
	if err != nil {
		return nil, err
	}
	byDate := make(map[string]float64, len(adjusted))
	for _, b := range adjusted {
		byDate[b.Date.Format("2006-01-02")] = b.Close
	}
	for i := range bars {
		if v, ok := byDate[bars[i].Date.Format("2006-01-02")]; ok {
			bars[i].AdjClose = v
		}
	}
	return bars, nil
}

func do[T any](ctx context.Context, c *Client, req Request, call func(context.Context, Request) ([]T, error)) ([]T, error) {
	var out []T
	retryable := func(err error) bool {
		return ctx.Err() == nil && Classify(err).Retryable()
	}
	attempts, err := util.Retry(ctx, c.backoff, retryable, func(attempt int) error {
		if c.gate != nil {
			if err := c.gate.Wait(ctx); err != nil {
				return err
			}
		}
		rows, err := call(ctx, req)
		if err != nil {
			c.log.Warn("provider request failed",
				"symbol", req.Symbol,
				"start", req.Start,
				"end", req.End,
				"attempt", attempt,
				"kind", Classify(err),
				"err", cause(err),
			)
			return err
		}
		out = rows
		return nil
	})
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	return nil, &domain.ProviderError{Kind: Classify(err), Symbol: req.Symbol, Attempts: attempts, Err: cause(err)}
}

// cause strips a source's own *domain.ProviderError, whose attempt count is
// meaningless, down to the underlying failure.
func cause(err error) error {
	var inner *domain.ProviderError
	if errors.As(err, &inner) && inner.Err != nil {
		return inner.Err
	}
	return err
}

// Classify returns the provider failure kind of err. Errors without a known
// kind are transient.
func Classify(err error) domain.ProviderErrorKind {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return domain.ErrKindTransient
}
