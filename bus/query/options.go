package query

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TargetContextResolver сопоставляет исходящему сообщению имя целевого
// контекста. Резолвер вызывается ровно один раз на каждую отправку.
type TargetContextResolver func(q *QueryMessage) string

// config содержит неэкспортируемую конфигурацию шины запросов.
// Это позволяет добавлять новые опции без изменения публичного API.
type config struct {
	logger               *slog.Logger
	tracerProvider       trace.TracerProvider
	meterProvider        metric.MeterProvider
	propagator           propagation.TextMapPropagator
	resolver             TargetContextResolver
	defaultContext       string
	clientID             string
	componentName        string
	dispatchInterceptors []DispatchInterceptor
	handlerInterceptors  []HandlerInterceptor
	middlewares          []Middleware
	updateBufferSize     int
	updateFetchSize      int
	defaultPriority      int64
	defaultTimeout       time.Duration
}

// Option определяет тип для функциональных опций, которые изменяют
// конфигурацию шины.
type Option func(*config)

// WithLogger возвращает опцию, которая устанавливает логгер для шины.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithTracerProvider возвращает опцию, которая устанавливает провайдер
// трассировки.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(c *config) {
		c.tracerProvider = provider
	}
}

// WithMeterProvider возвращает опцию, которая устанавливает провайдер метрик.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(c *config) {
		c.meterProvider = provider
	}
}

// WithPropagator возвращает опцию, которая устанавливает механизм
// распространения контекста трассировки.
func WithPropagator(propagator propagation.TextMapPropagator) Option {
	return func(c *config) {
		c.propagator = propagator
	}
}

// WithTargetContextResolver возвращает опцию, которая устанавливает резолвер
// целевого контекста для исходящих сообщений.
func WithTargetContextResolver(resolver TargetContextResolver) Option {
	return func(c *config) {
		c.resolver = resolver
	}
}

// WithDefaultContext возвращает опцию, которая устанавливает целевой
// контекст по умолчанию.
func WithDefaultContext(context string) Option {
	return func(c *config) {
		c.defaultContext = context
	}
}

// WithClientID возвращает опцию, которая устанавливает идентификатор клиента
// в исходящих запросах.
func WithClientID(clientID string) Option {
	return func(c *config) {
		c.clientID = clientID
	}
}

// WithComponentName возвращает опцию, которая устанавливает имя компонента
// в исходящих запросах.
func WithComponentName(name string) Option {
	return func(c *config) {
		c.componentName = name
	}
}

// WithDispatchInterceptor возвращает опцию, которая добавляет один или
// несколько перехватчиков отправки в цепочку.
func WithDispatchInterceptor(interceptors ...DispatchInterceptor) Option {
	return func(c *config) {
		c.dispatchInterceptors = append(c.dispatchInterceptors, interceptors...)
	}
}

// WithHandlerInterceptor возвращает опцию, которая добавляет один или
// несколько перехватчиков обработки в цепочку локального сегмента.
func WithHandlerInterceptor(interceptors ...HandlerInterceptor) Option {
	return func(c *config) {
		c.handlerInterceptors = append(c.handlerInterceptors, interceptors...)
	}
}

// WithMiddleware возвращает опцию, которая добавляет один или несколько
// middleware в цепочку отправки.
func WithMiddleware(mw ...Middleware) Option {
	return func(c *config) {
		c.middlewares = append(c.middlewares, mw...)
	}
}

// WithUpdateBuffer возвращает опцию, которая настраивает буферизацию потока
// обновлений подписочного запроса.
func WithUpdateBuffer(bufferSize, fetchSize int) Option {
	return func(c *config) {
		c.updateBufferSize = bufferSize
		c.updateFetchSize = fetchSize
	}
}

// WithDefaultPriority возвращает опцию, которая устанавливает приоритет
// обработки исходящих запросов.
func WithDefaultPriority(priority int64) Option {
	return func(c *config) {
		c.defaultPriority = priority
	}
}

// WithDefaultTimeout возвращает опцию, которая устанавливает таймаут
// обработки, кодируемый в исходящие запросы при отсутствии дедлайна
// контекста.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.defaultTimeout = timeout
	}
}
