package us

import (
	"context"
	"net/http"
	"time"

	"intrabar/internal/util"
)

// sdkRetryOff disables the Alpaca SDK's built-in resend of 429 and 500
// responses. gather.Client owns retries so every resend goes through the
// backoff policy and the gate.
const sdkRetryOff = -1

// gatedTransport admits every HTTP request through the shared gate before it
// is sent, so SDK pagination costs one admission per page. The SDK builds
// its requests without a context; ctx is attached here so cancellation
// reaches both the gate wait and the request itself.
type gatedTransport struct {
	ctx  context.Context
	gate util.Gate // nil admits everything
	base http.RoundTripper
}

func (t *gatedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.gate != nil {
		if err := t.gate.Wait(t.ctx); err != nil {
			return nil, err
		}
	}
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

// newBaseTransport returns the transport shared by all gated clients. The
// timeout covers the wait for response headers only; a client-wide timeout
// would also count the time spent queued at the gate.
func newBaseTransport() http.RoundTripper {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = 30 * time.Second
	return tr
}

// gatedHTTPClient returns an http.Client whose requests are admitted by gate
// and bound to ctx.
func gatedHTTPClient(ctx context.Context, gate util.Gate, base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &gatedTransport{ctx: ctx, gate: gate, base: base}}
}
