package query

import (
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// activeSubscription — одна активная подписка на обновления: фильтр и буфер
// доставки.
type activeSubscription struct {
	id        string
	queryName string
	message   *SubscriptionQueryMessage
	buffer    *StreamBuffer[*QueryUpdate]
}

// emitTask — атомарная задача доставки: обновление и подписка-адресат.
type emitTask struct {
	sub    *activeSubscription
	update *QueryUpdate
}

// UpdateEmitter — это компонент обрабатывающей стороны, доставляющий
// обновления активным подписочным запросам. Доставка выполняется пулом
// воркеров; обновления одной подписки сохраняют порядок постановки.
type UpdateEmitter struct {
	serializer *Serializer
	logger     *slog.Logger
	pool       *workerPool
	bufferSize int

	mu            sync.RWMutex
	subscriptions map[string][]*activeSubscription
}

// emitterConfig содержит неэкспортируемую конфигурацию эмиттера.
type emitterConfig struct {
	logger     *slog.Logger
	workers    int
	queueSize  int
	bufferSize int
}

// EmitterOption определяет тип для функциональных опций эмиттера.
type EmitterOption func(*emitterConfig)

// WithEmitterLogger возвращает опцию, которая устанавливает логгер эмиттера.
func WithEmitterLogger(logger *slog.Logger) EmitterOption {
	return func(c *emitterConfig) {
		c.logger = logger
	}
}

// WithEmitterWorkers возвращает опцию, которая настраивает пул воркеров
// доставки: число воркеров и размер очереди задач.
func WithEmitterWorkers(workers, queueSize int) EmitterOption {
	return func(c *emitterConfig) {
		c.workers = workers
		c.queueSize = queueSize
	}
}

// WithEmitterBuffer возвращает опцию, которая устанавливает емкость буфера
// обновлений каждой подписки.
func WithEmitterBuffer(size int) EmitterOption {
	return func(c *emitterConfig) {
		c.bufferSize = size
	}
}

// NewUpdateEmitter создает новый эмиттер обновлений и запускает пул
// воркеров доставки.
func NewUpdateEmitter(opts ...EmitterOption) *UpdateEmitter {
	cfg := &emitterConfig{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		workers:    4,
		queueSize:  128,
		bufferSize: 32,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	e := &UpdateEmitter{
		serializer:    NewSerializer("", ""),
		logger:        cfg.logger,
		pool:          newWorkerPool(cfg.workers, cfg.queueSize),
		bufferSize:    cfg.bufferSize,
		subscriptions: make(map[string][]*activeSubscription),
	}
	e.pool.run()
	return e
}

// SubscribeUpdates регистрирует активную подписку для указанного
// подписочного запроса. Возвращает поток обновлений и функцию отписки.
// Используется транспортными адаптерами при установке подписочного запроса.
func (e *UpdateEmitter) SubscribeUpdates(sq *SubscriptionQueryMessage) (ResultStream[*QueryUpdate], func()) {
	sub := &activeSubscription{
		id:        uuid.NewString(),
		queryName: sq.QueryName(),
		message:   sq,
		buffer:    NewStreamBuffer[*QueryUpdate](e.bufferSize),
	}

	e.mu.Lock()
	e.subscriptions[sub.queryName] = append(e.subscriptions[sub.queryName], sub)
	e.mu.Unlock()

	return sub.buffer, func() {
		e.remove(sub)
		sub.buffer.Close()
	}
}

// Emit доставляет обновление всем активным подпискам указанного запроса,
// удовлетворяющим фильтру. Нулевой фильтр означает все подписки.
func (e *UpdateEmitter) Emit(queryName string, filter func(*SubscriptionQueryMessage) bool, payload any) error {
	update, err := e.serializer.SerializeUpdate(NewSubscriptionQueryUpdateMessage(payload))
	if err != nil {
		return err
	}

	for _, sub := range e.matching(queryName, filter) {
		if ok := e.pool.submit(&emitTask{sub: sub, update: update}); !ok {
			e.logger.Warn("не удалось поставить обновление в очередь доставки",
				slog.String("query_name", queryName),
				slog.String("subscription_id", sub.id),
			)
		}
	}
	return nil
}

// Complete завершает подписки указанного запроса, удовлетворяющие фильтру:
// их потоки обновлений закрываются.
func (e *UpdateEmitter) Complete(queryName string, filter func(*SubscriptionQueryMessage) bool) {
	for _, sub := range e.matching(queryName, filter) {
		e.remove(sub)
		sub.buffer.Close()
	}
}

// CompleteWithError завершает подписки терминальной ошибкой.
func (e *UpdateEmitter) CompleteWithError(queryName string, filter func(*SubscriptionQueryMessage) bool, err error) {
	for _, sub := range e.matching(queryName, filter) {
		e.remove(sub)
		sub.buffer.CloseWithError(err)
	}
}

// ActiveSubscriptions возвращает число активных подписок запроса.
func (e *UpdateEmitter) ActiveSubscriptions(queryName string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscriptions[queryName])
}

// Shutdown останавливает пул воркеров доставки и завершает все активные
// подписки.
func (e *UpdateEmitter) Shutdown() {
	e.pool.stop()

	e.mu.Lock()
	subscriptions := e.subscriptions
	e.subscriptions = make(map[string][]*activeSubscription)
	e.mu.Unlock()

	for _, subs := range subscriptions {
		for _, sub := range subs {
			sub.buffer.Close()
		}
	}
}

// matching возвращает активные подписки запроса, удовлетворяющие фильтру.
func (e *UpdateEmitter) matching(queryName string, filter func(*SubscriptionQueryMessage) bool) []*activeSubscription {
	e.mu.RLock()
	defer e.mu.RUnlock()

	matched := make([]*activeSubscription, 0, len(e.subscriptions[queryName]))
	for _, sub := range e.subscriptions[queryName] {
		if filter == nil || filter(sub.message) {
			matched = append(matched, sub)
		}
	}
	return matched
}

// remove удаляет подписку из реестра.
func (e *UpdateEmitter) remove(target *activeSubscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscriptions[target.queryName]
	for i, sub := range subs {
		if sub.id == target.id {
			e.subscriptions[target.queryName] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}
