package cache

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName identifies this package's spans the way otel expects
// a tracer to self-identify, mirroring how Voskan-arena-cache's
// pkg/metrics.go namespaces its own prometheus series.
const instrumentationName = "github.com/Voskan/hybridcache/pkg/cache"

// defaultTracer resolves against the global TracerProvider, which is a
// no-op until a caller installs a real one (e.g. via otel.SetTracerProvider
// from main), so Fetch tracing costs nothing unless a caller opts in.
func defaultTracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
