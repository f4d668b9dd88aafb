package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName    = "github.com/x-research-team/dqb-framework/bus/query"
	instrumentationVersion = "0.1.0"
	metricKeyPrefix        = "messaging."
)

// DispatchFunc — это функция отправки одиночного запроса, вокруг которой
// строится цепочка middleware.
type DispatchFunc func(ctx context.Context, q *QueryMessage) (*QueryResponseMessage, error)

// Middleware определяет интерфейс для middleware пути отправки запросов.
type Middleware interface {
	Wrap(next DispatchFunc) DispatchFunc
}

// MiddlewareFunc является адаптером, позволяющим использовать обычные
// функции как middleware.
type MiddlewareFunc func(next DispatchFunc) DispatchFunc

// Wrap реализует интерфейс Middleware.
func (f MiddlewareFunc) Wrap(next DispatchFunc) DispatchFunc {
	return f(next)
}

// applyMiddlewares применяет цепочку middleware к базовой функции отправки.
func applyMiddlewares(dispatch DispatchFunc, middlewares ...Middleware) DispatchFunc {
	d := dispatch
	for i := len(middlewares) - 1; i >= 0; i-- {
		d = middlewares[i].Wrap(d)
	}
	return d
}

// noopMiddleware представляет собой пустое middleware.
type noopMiddleware struct{}

// Wrap просто возвращает следующую функцию отправки без изменений.
func (m *noopMiddleware) Wrap(next DispatchFunc) DispatchFunc {
	return next
}

// loggingMiddleware реализует Middleware для логирования отправки запросов.
type loggingMiddleware struct {
	logger *slog.Logger
}

// NewLoggingMiddleware создает новое middleware для логирования.
func NewLoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		return &noopMiddleware{}
	}
	return &loggingMiddleware{logger: logger}
}

// Wrap оборачивает функцию отправки для добавления логирования.
func (m *loggingMiddleware) Wrap(next DispatchFunc) DispatchFunc {
	return func(ctx context.Context, q *QueryMessage) (result *QueryResponseMessage, err error) {
		m.logger.Info("отправка запроса",
			slog.String("query_name", q.QueryName()),
			slog.String("query_id", q.Identifier()),
		)

		startTime := time.Now()
		defer func() {
			duration := time.Since(startTime)
			if err != nil {
				m.logger.Error("ошибка отправки запроса",
					slog.String("query_name", q.QueryName()),
					slog.String("query_id", q.Identifier()),
					slog.Any("error", err),
					slog.Duration("duration", duration),
				)
			}
		}()

		return next(ctx, q)
	}
}

// metricsMiddleware реализует Middleware для сбора метрик OpenTelemetry.
type metricsMiddleware struct {
	dispatchCounter     metric.Int64Counter
	processDurationHist metric.Float64Histogram
}

// NewMetricsMiddleware создает новое middleware для сбора метрик.
func NewMetricsMiddleware(provider metric.MeterProvider) Middleware {
	if provider == nil {
		return &noopMiddleware{}
	}

	meter := provider.Meter(instrumentationName)

	dispatchCounter, err := meter.Int64Counter(
		metricKeyPrefix+"dispatch.count",
		metric.WithDescription("Количество отправленных запросов"),
		metric.WithUnit("{queries}"),
	)
	if err != nil {
		panic(fmt.Sprintf("не удалось создать счетчик dispatch.count: %v", err))
	}

	processDurationHist, err := meter.Float64Histogram(
		metricKeyPrefix+"process.duration",
		metric.WithDescription("Длительность обработки запроса"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic(fmt.Sprintf("не удалось создать гистограмму process.duration: %v", err))
	}

	return &metricsMiddleware{
		dispatchCounter:     dispatchCounter,
		processDurationHist: processDurationHist,
	}
}

// Wrap оборачивает функцию отправки для добавления сбора метрик.
func (m *metricsMiddleware) Wrap(next DispatchFunc) DispatchFunc {
	return func(ctx context.Context, q *QueryMessage) (*QueryResponseMessage, error) {
		startTime := time.Now()
		result, err := next(ctx, q)
		duration := float64(time.Since(startTime).Milliseconds())

		status := "success"
		if err != nil || (result != nil && result.IsExceptional()) {
			status = "error"
		}

		m.dispatchCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("query.name", q.QueryName()),
			attribute.String("status", status),
		))

		m.processDurationHist.Record(ctx, duration, metric.WithAttributes(
			attribute.String("query.name", q.QueryName()),
			attribute.String("status", status),
		))

		return result, err
	}
}

// tracingMiddleware реализует Middleware для распределенной трассировки
// OpenTelemetry.
type tracingMiddleware struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewTracingMiddleware создает новое middleware для трассировки.
func NewTracingMiddleware(tp trace.TracerProvider, p propagation.TextMapPropagator) Middleware {
	if tp == nil {
		return &noopMiddleware{}
	}

	if p == nil {
		p = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	}

	return &tracingMiddleware{
		tracer: tp.Tracer(
			instrumentationName,
			trace.WithInstrumentationVersion(instrumentationVersion),
		),
		propagator: p,
	}
}

// Wrap оборачивает функцию отправки: создает спан и инъецирует контекст
// трассировки в метаданные исходящего сообщения.
func (m *tracingMiddleware) Wrap(next DispatchFunc) DispatchFunc {
	return func(ctx context.Context, q *QueryMessage) (result *QueryResponseMessage, err error) {
		spanName := fmt.Sprintf("%s dispatch", q.QueryName())

		ctx, span := m.tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindProducer))
		defer func() {
			if err != nil {
				span.RecordError(err)
			}
			span.End()
		}()

		carrier := propagation.MapCarrier{}
		m.propagator.Inject(ctx, carrier)
		q = q.WithMetadata(Metadata(carrier))

		return next(ctx, q)
	}
}
