package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-reflect"
	"github.com/google/uuid"
)

// Bus — это распределенная шина запросов. Она маршрутизирует запросы между
// локальными обработчиками и удаленным каналом, выполняет scatter-gather
// агрегацию и устанавливает подписочные запросы. Новые отправки отсекаются
// после начала остановки; запросы в полете дорабатывают.
type Bus struct {
	manager    ConnectionManager
	cfg        *config
	serializer *Serializer
	local      *LocalSegment
	registry   *handlerRegistry
	shutdown   *shutdownCoordinator
	dispatch   DispatchFunc

	mu                   sync.RWMutex
	dispatchInterceptors []*dispatchInterceptorEntry
}

// dispatchInterceptorEntry — запись цепочки перехватчиков отправки.
type dispatchInterceptorEntry struct {
	id          string
	interceptor DispatchInterceptor
}

// New создает новую шину запросов поверх указанного менеджера соединений.
func New(manager ConnectionManager, opts ...Option) (*Bus, error) {
	if manager == nil {
		return nil, errors.New("менеджер соединений не может быть nil")
	}

	cfg := &config{
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		defaultContext:   "default",
		clientID:         uuid.NewString(),
		componentName:    "dqb",
		updateBufferSize: 32,
		updateFetchSize:  8,
		defaultTimeout:   15 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	local := NewLocalSegment()
	for _, interceptor := range cfg.handlerInterceptors {
		local.RegisterHandlerInterceptor(interceptor)
	}

	serializer := NewSerializer(cfg.clientID, cfg.componentName)

	b := &Bus{
		manager:    manager,
		cfg:        cfg,
		serializer: serializer,
		local:      local,
		shutdown:   newShutdownCoordinator(),
	}
	for _, interceptor := range cfg.dispatchInterceptors {
		b.RegisterDispatchInterceptor(interceptor)
	}
	b.registry = newHandlerRegistry(local, serializer, b.registrationChannel, cfg.logger)

	// Сначала middleware по умолчанию, затем пользовательские: пользователь
	// может дополнить стандартное поведение.
	allMiddlewares := []Middleware{
		NewLoggingMiddleware(cfg.logger),
		NewMetricsMiddleware(cfg.meterProvider),
		NewTracingMiddleware(cfg.tracerProvider, cfg.propagator),
	}
	allMiddlewares = append(allMiddlewares, cfg.middlewares...)
	b.dispatch = applyMiddlewares(b.doQuery, allMiddlewares...)

	return b, nil
}

// LocalSegment возвращает локальный сегмент шины.
func (b *Bus) LocalSegment() *LocalSegment { return b.local }

// Subscribe регистрирует обработчик запроса. Повторная подписка на то же
// определение (имя запроса, тип полезной нагрузки) переиспользует
// разделяемую удаленную регистрацию; отмена любого возвращенного
// дескриптора отменяет ее.
func (b *Bus) Subscribe(queryName string, payloadType reflect.Type, handler Handler) (*Registration, error) {
	return b.registry.subscribe(queryName, payloadType, handler)
}

// RegisterDispatchInterceptor добавляет перехватчик отправки в цепочку.
// Возвращает функцию отмены регистрации; повторные вызовы безопасны и
// снимают только собственную регистрацию.
func (b *Bus) RegisterDispatchInterceptor(interceptor DispatchInterceptor) func() {
	entry := &dispatchInterceptorEntry{
		id:          uuid.NewString(),
		interceptor: interceptor,
	}

	b.mu.Lock()
	b.dispatchInterceptors = append(b.dispatchInterceptors, entry)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		for i, e := range b.dispatchInterceptors {
			if e.id == entry.id {
				b.dispatchInterceptors = append(b.dispatchInterceptors[:i], b.dispatchInterceptors[i+1:]...)
				return
			}
		}
	}
}

// RegisterHandlerInterceptor добавляет перехватчик обработки. Перехватчики
// обработки регистрируются в локальном сегменте: именно он исполняет
// входящие запросы.
func (b *Bus) RegisterHandlerInterceptor(interceptor HandlerInterceptor) func() {
	return b.local.RegisterHandlerInterceptor(interceptor)
}

// Query отправляет запрос и возвращает первый ответ. Вызов отклоняется
// синхронно после начала остановки. Транспортная ошибка возвращается как
// DispatchError; ошибка удаленного выполнения — как успешный результат
// с IsExceptional() == true.
func (b *Bus) Query(ctx context.Context, q *QueryMessage) (*QueryResponseMessage, error) {
	if err := b.shutdown.start(); err != nil {
		return nil, err
	}
	defer b.shutdown.finish()

	return b.dispatch(ctx, q)
}

// doQuery — базовая функция отправки одиночного запроса, оборачиваемая
// цепочкой middleware.
func (b *Bus) doQuery(ctx context.Context, q *QueryMessage) (*QueryResponseMessage, error) {
	q, channel, err := b.prepare(ctx, q)
	if err != nil {
		return nil, err
	}

	request, err := b.serializer.SerializeRequest(q, b.cfg.defaultPriority, b.timeoutMillis(ctx), 1)
	if err != nil {
		return nil, err
	}

	stream := channel.Query(ctx, request)
	defer stream.Close()

	response, err := stream.Next(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if streamErr := stream.Err(); streamErr != nil {
			return nil, newDispatchError(streamErr)
		}
		return nil, &DispatchError{
			Code:    ErrorCodeQueryDispatch,
			Message: "канал завершился без ответа на запрос",
			Cause:   err,
		}
	}

	return b.serializer.DeserializeResponse(response, q.ResponseType()), nil
}

// ScatterGather отправляет запрос всем обработчикам и возвращает ленивую
// последовательность их ответов, ограниченную по времени timeout. Отсчет
// времени начинается в момент вызова, а не при первом чтении. Закрытие
// возвращенного потока закрывает поток канала и освобождает удаленные
// ресурсы, даже если последовательность не была вычитана до конца.
func (b *Bus) ScatterGather(ctx context.Context, q *QueryMessage, timeout time.Duration) (ResultStream[*QueryResponseMessage], error) {
	if err := b.shutdown.start(); err != nil {
		return nil, err
	}

	q, channel, err := b.prepare(ctx, q)
	if err != nil {
		b.shutdown.finish()
		return nil, err
	}

	request, err := b.serializer.SerializeRequest(q, b.cfg.defaultPriority, timeout.Milliseconds(), UnboundedResults)
	if err != nil {
		b.shutdown.finish()
		return nil, err
	}

	inner := channel.Query(ctx, request)
	responseType := q.ResponseType()

	// Ошибка восстановления одного элемента превращается в ошибочный ответ
	// и не завершает последовательность.
	mapped := newMappedStream(inner, func(resp *QueryResponse) (*QueryResponseMessage, error) {
		return b.serializer.DeserializeResponse(resp, responseType), nil
	}, b.shutdown.finish)

	return &deadlineStream[*QueryResponseMessage]{
		ResultStream: mapped,
		deadline:     time.Now().Add(timeout),
	}, nil
}

// SubscriptionQuery устанавливает подписочный запрос: начальный результат
// плюс поток обновлений, отказывающие независимо. Вызов отклоняется
// синхронно после начала остановки.
func (b *Bus) SubscriptionQuery(ctx context.Context, sq *SubscriptionQueryMessage) (*SubscriptionQueryResult, error) {
	if err := b.shutdown.start(); err != nil {
		return nil, err
	}
	defer b.shutdown.finish()

	q, channel, err := b.prepare(ctx, &sq.QueryMessage)
	if err != nil {
		return nil, err
	}

	request, err := b.serializer.SerializeRequest(q, b.cfg.defaultPriority, b.timeoutMillis(ctx), 1)
	if err != nil {
		return nil, err
	}

	handle, err := channel.SubscriptionQuery(ctx, request, b.cfg.updateBufferSize, b.cfg.updateFetchSize)
	if err != nil {
		return nil, newDispatchError(err)
	}

	return newSubscriptionQueryResult(handle, b.serializer, sq.ResponseType(), sq.UpdateType()), nil
}

// ShutdownDispatching синхронно переводит шину в состояние остановки: новые
// отправки отклоняются немедленно. Возвращенный канал закрывается после
// завершения всех отправок, бывших в полете на момент перехода. Повторные
// вызовы возвращают тот же канал.
func (b *Bus) ShutdownDispatching() <-chan struct{} {
	return b.shutdown.initiateShutdown()
}

// Shutdown корректно завершает работу шины, ожидая завершения запросов
// в полете или отмены контекста.
func (b *Bus) Shutdown(ctx context.Context) error {
	return b.shutdown.awaitShutdown(ctx)
}

// prepare применяет перехватчики отправки, разрешает целевой контекст
// (ровно один раз на отправку) и возвращает канал запросов.
func (b *Bus) prepare(ctx context.Context, q *QueryMessage) (*QueryMessage, QueryChannel, error) {
	b.mu.RLock()
	interceptors := make([]DispatchInterceptor, 0, len(b.dispatchInterceptors))
	for _, e := range b.dispatchInterceptors {
		interceptors = append(interceptors, e.interceptor)
	}
	b.mu.RUnlock()

	queryName := q.QueryName()
	q, err := applyDispatchInterceptors(ctx, interceptors, q)
	if err != nil {
		return nil, nil, fmt.Errorf("перехватчик отправки отклонил запрос '%s': %w", queryName, err)
	}

	targetContext := b.resolveContext(q)
	channel, err := b.channelFor(targetContext)
	if err != nil {
		return nil, nil, err
	}
	return q, channel, nil
}

// resolveContext возвращает целевой контекст сообщения.
func (b *Bus) resolveContext(q *QueryMessage) string {
	if b.cfg.resolver != nil {
		return b.cfg.resolver(q)
	}
	return b.cfg.defaultContext
}

// channelFor возвращает канал запросов для указанного контекста.
func (b *Bus) channelFor(targetContext string) (QueryChannel, error) {
	connection, err := b.manager.Connection(targetContext)
	if err != nil {
		return nil, newDispatchError(fmt.Errorf("не удалось получить соединение для контекста '%s': %w", targetContext, err))
	}
	return connection.QueryChannel(), nil
}

// registrationChannel возвращает канал запросов контекста по умолчанию,
// используемый для регистрации обработчиков.
func (b *Bus) registrationChannel() (QueryChannel, error) {
	return b.channelFor(b.cfg.defaultContext)
}

// timeoutMillis возвращает таймаут обработки для исходящего запроса:
// остаток дедлайна контекста либо таймаут по умолчанию.
func (b *Bus) timeoutMillis(ctx context.Context) int64 {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline).Milliseconds()
	}
	return b.cfg.defaultTimeout.Milliseconds()
}

// deadlineStream ограничивает блокирующее чтение потока дедлайном,
// зафиксированным в момент отправки.
type deadlineStream[T any] struct {
	ResultStream[T]
	deadline time.Time
}

// Next блокируется не дольше, чем до дедлайна scatter-gather.
func (s *deadlineStream[T]) Next(ctx context.Context) (T, error) {
	dctx, cancel := context.WithDeadline(ctx, s.deadline)
	defer cancel()
	return s.ResultStream.Next(dctx)
}
