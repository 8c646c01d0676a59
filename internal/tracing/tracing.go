// Package tracing はOpenTelemetryによるリクエストトレーシングを提供する。
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// instrumentationName はスパンを生成するトレーサー名。
const instrumentationName = "github.com/hitoshi/locallibrary"

// エクスポーター種別
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// NewExporter は種別に応じたSpanExporterを生成する。
// "none"の場合はnilを返し、スパンはプロセス外に出力されない。
// "stdout"の場合は終了したスパンを1行1件のJSONとしてwに書き込む。
func NewExporter(kind string, w io.Writer) (sdktrace.SpanExporter, error) {
	switch kind {
	case ExporterNone:
		return nil, nil
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithWriter(w))
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %q", kind)
	}
}

// Setup はグローバルなTracerProviderとW3C Trace Contextプロパゲーターを設定する。
// exporterがnilの場合はスパンを生成するがエクスポートしない（トレースIDの払い出しのみ）。
// 戻り値のshutdown関数はサーバー停止時に呼び出す。
func Setup(serviceName string, exporter sdktrace.SpanExporter) (func(context.Context) error, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}
