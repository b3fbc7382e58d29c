package telemetry

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// WrapHTTPTransport adds OTEL instrumentation to an outbound transport when tracing is on
func WrapHTTPTransport(transport http.RoundTripper) http.RoundTripper {
	if !IsEnabled() {
		return transport
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return otelhttp.NewTransport(transport)
}

// WrapHTTPClient wraps client's transport in place and returns it
func WrapHTTPClient(client *http.Client) *http.Client {
	client.Transport = WrapHTTPTransport(client.Transport)
	return client
}

// WrapHandler instruments an inbound handler; operation names the server span
func WrapHandler(handler http.Handler, operation string) http.Handler {
	if !IsEnabled() {
		return handler
	}
	return otelhttp.NewHandler(handler, operation)
}
