package query

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-reflect"
	"github.com/google/uuid"
)

// localHandler — запись локальной таблицы обработчиков.
type localHandler struct {
	id          string
	definition  QueryDefinition
	payloadType reflect.Type
	handler     Handler
}

// interceptorEntry — запись цепочки перехватчиков обработки.
type interceptorEntry struct {
	id          string
	interceptor HandlerInterceptor
}

// LocalSegment — это внутрипроцессный сегмент шины запросов: таблица
// обработчиков, позволяющая выполнять запросы без сетевого обращения.
// Входящие удаленные запросы также исполняются через этот сегмент.
type LocalSegment struct {
	mu           sync.RWMutex
	handlers     map[string][]*localHandler
	interceptors []*interceptorEntry
}

// NewLocalSegment создает новый локальный сегмент.
func NewLocalSegment() *LocalSegment {
	return &LocalSegment{
		handlers: make(map[string][]*localHandler),
	}
}

// Subscribe регистрирует обработчик для указанного имени запроса и типа
// полезной нагрузки. Возвращает функцию отписки.
func (s *LocalSegment) Subscribe(queryName string, payloadType reflect.Type, handler Handler) func() {
	entry := &localHandler{
		id:          uuid.NewString(),
		definition:  QueryDefinition{QueryName: queryName, PayloadType: typeName(payloadType)},
		payloadType: payloadType,
		handler:     handler,
	}

	s.mu.Lock()
	s.handlers[queryName] = append(s.handlers[queryName], entry)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		entries := s.handlers[queryName]
		for i, e := range entries {
			if e.id == entry.id {
				s.handlers[queryName] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
	}
}

// RegisterHandlerInterceptor добавляет перехватчик обработки в цепочку.
// Возвращает функцию отмены регистрации; повторные вызовы безопасны и
// снимают только собственную регистрацию.
func (s *LocalSegment) RegisterHandlerInterceptor(interceptor HandlerInterceptor) func() {
	entry := &interceptorEntry{
		id:          uuid.NewString(),
		interceptor: interceptor,
	}

	s.mu.Lock()
	s.interceptors = append(s.interceptors, entry)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		for i, e := range s.interceptors {
			if e.id == entry.id {
				s.interceptors = append(s.interceptors[:i], s.interceptors[i+1:]...)
				return
			}
		}
	}
}

// HandlerInterceptors возвращает текущую цепочку перехватчиков обработки.
func (s *LocalSegment) HandlerInterceptors() []HandlerInterceptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return interceptorChain(s.interceptors)
}

// interceptorChain возвращает перехватчики записей в порядке регистрации.
func interceptorChain(entries []*interceptorEntry) []HandlerInterceptor {
	interceptors := make([]HandlerInterceptor, 0, len(entries))
	for _, e := range entries {
		interceptors = append(interceptors, e.interceptor)
	}
	return interceptors
}

// Query выполняет запрос первым подходящим обработчиком, применяя цепочку
// перехватчиков обработки. Возвращает ошибку, если обработчик не найден.
func (s *LocalSegment) Query(ctx context.Context, q *QueryMessage) (any, error) {
	s.mu.RLock()
	entries := s.handlers[q.QueryName()]
	interceptors := interceptorChain(s.interceptors)
	s.mu.RUnlock()

	for _, entry := range entries {
		if !s.accepts(entry, q) {
			continue
		}
		h := applyHandlerInterceptors(entry.handler, interceptors)
		return h(ctx, q)
	}
	return nil, fmt.Errorf("обработчик для запроса '%s' не найден", q.QueryName())
}

// QueryAll выполняет запрос всеми подходящими обработчиками и возвращает
// ответы каждого. Ошибка одного обработчика превращается в ошибочный ответ,
// не прерывая остальных.
func (s *LocalSegment) QueryAll(ctx context.Context, q *QueryMessage) []*QueryResponseMessage {
	s.mu.RLock()
	entries := s.handlers[q.QueryName()]
	interceptors := interceptorChain(s.interceptors)
	s.mu.RUnlock()

	responses := make([]*QueryResponseMessage, 0, len(entries))
	for _, entry := range entries {
		if !s.accepts(entry, q) {
			continue
		}
		h := applyHandlerInterceptors(entry.handler, interceptors)
		payload, err := h(ctx, q)
		if err != nil {
			responses = append(responses, NewExceptionalResponseMessage(err))
			continue
		}
		responses = append(responses, NewQueryResponseMessage(payload))
	}
	return responses
}

// PayloadTypeOf возвращает зарегистрированный тип полезной нагрузки для
// определения запроса или nil, если определение не зарегистрировано.
func (s *LocalSegment) PayloadTypeOf(definition QueryDefinition) reflect.Type {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.handlers[definition.QueryName] {
		if entry.definition == definition {
			return entry.payloadType
		}
	}
	return nil
}

// accepts сообщает, подходит ли обработчик для сообщения: тип полезной
// нагрузки сообщения должен совпадать с зарегистрированным.
func (s *LocalSegment) accepts(entry *localHandler, q *QueryMessage) bool {
	if entry.payloadType == nil || q.PayloadType() == "" {
		return true
	}
	return entry.definition.PayloadType == q.PayloadType()
}

// typeName возвращает имя типа или пустую строку для nil.
func typeName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	return t.String()
}
