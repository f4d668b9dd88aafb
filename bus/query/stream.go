package query

import (
	"context"
	"sync"
)

// ResultStream представляет собой ленивую, закрываемую последовательность
// результатов с семантикой "не более одного буферизованного просмотра".
// Используется как для fan-in scatter-gather, так и для потока обновлений
// подписочного запроса.
type ResultStream[T any] interface {
	// Peek возвращает следующий элемент, не потребляя его. Второе значение
	// false означает, что элемент сейчас недоступен.
	Peek() (T, bool)

	// NextIfAvailable потребляет следующий элемент, если он доступен,
	// не блокируясь.
	NextIfAvailable() (T, bool)

	// Next блокируется до появления следующего элемента, закрытия потока
	// или отмены контекста. После закрытия потока возвращает терминальную
	// ошибку потока либо ErrStreamClosed.
	Next(ctx context.Context) (T, error)

	// OnAvailable регистрирует обратный вызов, выполняемый при появлении
	// элемента или закрытии потока.
	OnAvailable(fn func())

	// Close закрывает поток. Операция идемпотентна и безопасна для вызова
	// из любой горутины.
	Close()

	// IsClosed сообщает, закрыт ли поток. После закрытия значение
	// остается истинным навсегда.
	IsClosed() bool

	// Err возвращает терминальную ошибку потока, если она была.
	Err() error
}

// StreamBuffer — это реализация ResultStream на основе буферизованного
// канала. Производитель наполняет буфер через Put и завершает его Close
// или CloseWithError.
type StreamBuffer[T any] struct {
	items  chan T
	closed chan struct{}

	mu        sync.Mutex
	peeked    *T
	err       error
	onAvail   func()
	closeOnce sync.Once
}

// NewStreamBuffer создает новый буфер потока с указанной емкостью.
func NewStreamBuffer[T any](capacity int) *StreamBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &StreamBuffer[T]{
		items:  make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

// Put добавляет элемент в поток. Блокируется, пока в буфере нет места.
// Возвращает ErrStreamClosed, если поток уже закрыт.
func (s *StreamBuffer[T]) Put(item T) error {
	select {
	case <-s.closed:
		return ErrStreamClosed
	default:
	}
	select {
	case s.items <- item:
		s.notifyAvailable()
		return nil
	case <-s.closed:
		return ErrStreamClosed
	}
}

// Close закрывает поток. Уже буферизованные элементы остаются доступными
// для чтения. Повторные вызовы безопасны.
func (s *StreamBuffer[T]) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.notifyAvailable()
	})
}

// CloseWithError закрывает поток с терминальной ошибкой.
func (s *StreamBuffer[T]) CloseWithError(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.Close()
}

// Peek возвращает следующий элемент, не потребляя его.
func (s *StreamBuffer[T]) Peek() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.peeked != nil {
		return *s.peeked, true
	}
	select {
	case item := <-s.items:
		s.peeked = &item
		return item, true
	default:
		var zero T
		return zero, false
	}
}

// NextIfAvailable потребляет следующий элемент без блокировки.
func (s *StreamBuffer[T]) NextIfAvailable() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.peeked != nil {
		item := *s.peeked
		s.peeked = nil
		return item, true
	}
	select {
	case item := <-s.items:
		return item, true
	default:
		var zero T
		return zero, false
	}
}

// Next блокируется до появления элемента, закрытия потока или отмены
// контекста.
func (s *StreamBuffer[T]) Next(ctx context.Context) (T, error) {
	var zero T

	s.mu.Lock()
	if s.peeked != nil {
		item := *s.peeked
		s.peeked = nil
		s.mu.Unlock()
		return item, nil
	}
	s.mu.Unlock()

	select {
	case item := <-s.items:
		return item, nil
	default:
	}

	select {
	case item := <-s.items:
		return item, nil
	case <-s.closed:
		// Производитель мог успеть добавить элементы до закрытия.
		select {
		case item := <-s.items:
			return item, nil
		default:
			return zero, s.terminalError()
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// OnAvailable регистрирует обратный вызов о доступности элемента.
// Если элемент уже доступен или поток закрыт, вызов выполняется немедленно.
func (s *StreamBuffer[T]) OnAvailable(fn func()) {
	s.mu.Lock()
	s.onAvail = fn
	s.mu.Unlock()

	if fn == nil {
		return
	}
	if s.IsClosed() || len(s.items) > 0 {
		fn()
	}
}

// IsClosed сообщает, закрыт ли поток.
func (s *StreamBuffer[T]) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Err возвращает терминальную ошибку потока.
func (s *StreamBuffer[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// terminalError возвращает ошибку, с которой завершился поток.
func (s *StreamBuffer[T]) terminalError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return ErrStreamClosed
}

// notifyAvailable вызывает зарегистрированный обратный вызов.
func (s *StreamBuffer[T]) notifyAvailable() {
	s.mu.Lock()
	fn := s.onAvail
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// mappedStream — это ленивое преобразование потока: каждый элемент
// конвертируется при потреблении. Ошибка конвертации одного элемента
// обрабатывается функцией convert и не разрушает сам поток.
type mappedStream[S, T any] struct {
	inner   ResultStream[S]
	convert func(S) (T, error)

	mu     sync.Mutex
	peeked *T
	err    error
	onDone func()
	once   sync.Once
}

// newMappedStream создает преобразованный поток поверх исходного.
// onDone вызывается один раз при закрытии.
func newMappedStream[S, T any](inner ResultStream[S], convert func(S) (T, error), onDone func()) *mappedStream[S, T] {
	return &mappedStream[S, T]{inner: inner, convert: convert, onDone: onDone}
}

// Peek возвращает следующий сконвертированный элемент, не потребляя его.
func (s *mappedStream[S, T]) Peek() (T, bool) {
	var zero T

	s.mu.Lock()
	if s.peeked != nil {
		item := *s.peeked
		s.mu.Unlock()
		return item, true
	}
	s.mu.Unlock()

	raw, ok := s.inner.NextIfAvailable()
	if !ok {
		return zero, false
	}
	item, err := s.convert(raw)
	if err != nil {
		s.fail(err)
		return zero, false
	}

	s.mu.Lock()
	s.peeked = &item
	s.mu.Unlock()
	return item, true
}

// NextIfAvailable потребляет следующий элемент без блокировки.
func (s *mappedStream[S, T]) NextIfAvailable() (T, bool) {
	var zero T

	s.mu.Lock()
	if s.peeked != nil {
		item := *s.peeked
		s.peeked = nil
		s.mu.Unlock()
		return item, true
	}
	s.mu.Unlock()

	raw, ok := s.inner.NextIfAvailable()
	if !ok {
		return zero, false
	}
	item, err := s.convert(raw)
	if err != nil {
		s.fail(err)
		return zero, false
	}
	return item, true
}

// Next блокируется до появления элемента, закрытия потока или отмены
// контекста. Ошибка конвертации завершает поток этой ошибкой.
func (s *mappedStream[S, T]) Next(ctx context.Context) (T, error) {
	var zero T

	s.mu.Lock()
	if s.peeked != nil {
		item := *s.peeked
		s.peeked = nil
		s.mu.Unlock()
		return item, nil
	}
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return zero, err
	}
	s.mu.Unlock()

	raw, err := s.inner.Next(ctx)
	if err != nil {
		return zero, err
	}
	item, err := s.convert(raw)
	if err != nil {
		s.fail(err)
		return zero, err
	}
	return item, nil
}

// OnAvailable делегирует регистрацию исходному потоку.
func (s *mappedStream[S, T]) OnAvailable(fn func()) {
	s.inner.OnAvailable(fn)
}

// Close закрывает преобразованный и исходный потоки. Идемпотентна.
func (s *mappedStream[S, T]) Close() {
	s.once.Do(func() {
		s.inner.Close()
		if s.onDone != nil {
			s.onDone()
		}
	})
}

// IsClosed сообщает, закрыт ли поток.
func (s *mappedStream[S, T]) IsClosed() bool {
	s.mu.Lock()
	failed := s.err != nil
	s.mu.Unlock()
	return failed || s.inner.IsClosed()
}

// Err возвращает терминальную ошибку: ошибку конвертации либо ошибку
// исходного потока.
func (s *mappedStream[S, T]) Err() error {
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return s.inner.Err()
}

// fail фиксирует терминальную ошибку конвертации и закрывает поток.
func (s *mappedStream[S, T]) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.Close()
}
