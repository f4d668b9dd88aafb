package query

import (
	"context"
	"sync"
)

// Handler — это функция-обработчик запроса. Результатом является полезная
// нагрузка ответа либо ошибка выполнения.
type Handler func(ctx context.Context, q *QueryMessage) (any, error)

// DispatchInterceptor перехватывает исходящее сообщение перед отправкой.
// Перехватчики применяются упорядоченной цепочкой; ошибка прерывает
// отправку.
type DispatchInterceptor func(ctx context.Context, q *QueryMessage) (*QueryMessage, error)

// HandlerInterceptor — это декоратор обработчика, применяемый перед
// обработкой входящего запроса. Перехватчики применяются в порядке
// регистрации.
type HandlerInterceptor func(next Handler) Handler

// applyDispatchInterceptors прогоняет сообщение через цепочку перехватчиков
// отправки.
func applyDispatchInterceptors(ctx context.Context, interceptors []DispatchInterceptor, q *QueryMessage) (*QueryMessage, error) {
	for _, interceptor := range interceptors {
		transformed, err := interceptor(ctx, q)
		if err != nil {
			return nil, err
		}
		q = transformed
	}
	return q, nil
}

// applyHandlerInterceptors оборачивает обработчик цепочкой перехватчиков.
// Перехватчики применяются в обратном порядке, чтобы обеспечить выполнение
// FIFO.
func applyHandlerInterceptors(handler Handler, interceptors []HandlerInterceptor) Handler {
	h := handler
	for i := len(interceptors) - 1; i >= 0; i-- {
		h = interceptors[i](h)
	}
	return h
}

// Registration — это одноразовый дескриптор регистрации обработчика.
// Отмена освобождает представляемый ресурс ровно один раз; повторные
// вызовы безопасны.
type Registration struct {
	once   sync.Once
	cancel func() error
	err    error
}

// newRegistration создает дескриптор с указанной функцией отмены.
func newRegistration(cancel func() error) *Registration {
	return &Registration{cancel: cancel}
}

// Cancel отменяет регистрацию. Операция идемпотентна и безопасна для
// вызова из любой горутины.
func (r *Registration) Cancel() error {
	r.once.Do(func() {
		if r.cancel != nil {
			r.err = r.cancel()
		}
	})
	return r.err
}
