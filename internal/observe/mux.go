package observe

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// Multiplexer is the part of http.ServeMux that Mux decorates.
type Multiplexer interface {
	Handle(pattern string, handler http.Handler)
	http.Handler
}

// Mux adds HTTP server telemetry to the routes registered through it. Each
// request span is named for the route pattern that served it. Routes
// registered directly on the wrapped multiplexer are still traced, but keep
// the generic span name.
type Mux struct {
	wrapped Multiplexer
	handler http.Handler
}

func NewMux(wrapped Multiplexer, opts ...otelhttp.Option) *Mux {
	return &Mux{
		wrapped: wrapped,
		handler: otelhttp.NewHandler(wrapped, "http.request", opts...),
	}
}

func (mux *Mux) Handle(pattern string, handler http.Handler) {
	named := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		trace.SpanFromContext(r.Context()).SetName(pattern)
		handler.ServeHTTP(w, r)
	})

	// Configure the "http.route" for the HTTP instrumentation.
	taggedHandler := otelhttp.WithRouteTag(pattern, named)
	mux.wrapped.Handle(pattern, taggedHandler)
}

func (mux *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.handler.ServeHTTP(w, r)
}
