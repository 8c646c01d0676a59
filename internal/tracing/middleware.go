package tracing

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDHeader はレスポンスに付与するトレースIDヘッダー名。
const TraceIDHeader = "X-Trace-Id"

// statusWriter はステータスコードを記録するResponseWriterラッパー。
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware はリクエストごとにサーバースパンを生成するミドルウェア。
// 受信ヘッダーのトレースコンテキストを引き継ぎ、トレースIDをX-Trace-Idヘッダーで返す。
// TracerProviderが未設定の場合はno-opスパンとなり、ヘッダーは付与されない。
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		ctx, span := otel.Tracer(instrumentationName).Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()

		if sc := span.SpanContext(); sc.HasTraceID() {
			w.Header().Set(TraceIDHeader, sc.TraceID().String())
		}

		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
			attribute.Int("http.status_code", sw.statusCode),
		)
		if sw.statusCode >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(sw.statusCode))
		}
	})
}
