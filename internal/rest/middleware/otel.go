package middleware

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pbinitiative/zenpvm/internal/config"
	otelint "github.com/pbinitiative/zenpvm/internal/otel"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// countingBody counts the bytes handlers read from the request body.
type countingBody struct {
	io.ReadCloser
	read int64
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.read += int64(n)
	return n, err
}

// recorder captures the status and size of the response.
type recorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.written += int64(n)
	return n, err
}

// Opentelemetry returns middleware that traces and meters incoming requests.
// The span is named after the chi route pattern once routing finished.
func Opentelemetry(conf config.Config) func(next http.Handler) http.Handler {
	tracer := otel.GetTracerProvider().Tracer("http-request-middleware")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			propagator := otel.GetTextMapPropagator()
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx = withTransferHeaders(ctx, r, conf.Tracing.TransferHeaders)
			ctx, span := tracer.Start(ctx, r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(requestAttributes(r, conf.Tracing.TransferHeaders)...),
			)
			defer span.End()
			propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			body := &countingBody{ReadCloser: http.NoBody}
			if r.Body != nil {
				body.ReadCloser = r.Body
			}
			r.Body = body
			r = r.WithContext(ctx)
			rec := &recorder{ResponseWriter: w}

			start := time.Now()
			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				semconv.HTTPRoute(route),
				semconv.HTTPResponseStatusCode(rec.status),
				otelhttp.ReadBytesKey.Int64(body.read),
				otelhttp.WroteBytesKey.Int64(rec.written),
			)
			if rec.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rec.status))
			}
			recordRequest(r, route, rec, time.Since(start))
		})
	}
}

func requestAttributes(r *http.Request, transferHeaders []string) []attribute.KeyValue {
	attributes := []attribute.KeyValue{
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.URLPath(r.URL.Path),
		semconv.UserAgentOriginal(r.UserAgent()),
	}
	if r.Host != "" {
		attributes = append(attributes, semconv.ServerAddress(r.Host))
	}
	for _, header := range transferHeaders {
		attributes = append(attributes, attribute.String(header, r.Header.Get(header)))
	}
	return attributes
}

func recordRequest(r *http.Request, route string, rec *recorder, latency time.Duration) {
	ctx := r.Context()
	tags := metric.WithAttributes(
		attribute.String("path", route),
		attribute.String("method", r.Method),
		attribute.Int("status", rec.status),
	)
	otelint.RequestTotal.Add(ctx, 1)
	otelint.RequestUriTotal.Add(ctx, 1, tags)
	if r.ContentLength > 0 {
		otelint.RequestBodySize.Add(ctx, float64(r.ContentLength), tags)
	}
	if rec.written > 0 {
		otelint.ResponseBodySize.Add(ctx, float64(rec.written), tags)
	}
	otelint.RequestDuration.Record(ctx, float64(latency.Microseconds())/1000, tags)
}

func withTransferHeaders(ctx context.Context, r *http.Request, transferHeaders []string) context.Context {
	for _, header := range transferHeaders {
		ctx = context.WithValue(ctx, otelint.TransferHeaderKey(header), r.Header.Get(header))
	}
	return ctx
}
