package httpclient

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimitedTransport waits on a token bucket before each request
type RateLimitedTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

// NewRateLimitedTransport allows requestsPerSecond requests with a burst of 1
func NewRateLimitedTransport(next http.RoundTripper, requestsPerSecond float64) *RateLimitedTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &RateLimitedTransport{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// RoundTrip implements http.RoundTripper. Waiting honours the request context.
func (t *RateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}
