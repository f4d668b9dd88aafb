package query

import (
	"context"
	"sync"
)

// SubscriptionQueryResult — это координатор двух независимо отказывающих
// каналов подписочного запроса: начального результата и потока обновлений.
// Ошибка восстановления начального результата не затрагивает обновления;
// ошибка восстановления одного обновления завершает поток обновлений, не
// затрагивая начальный результат.
type SubscriptionQueryResult struct {
	handle       SubscriptionHandle
	serializer   *Serializer
	responseType ResponseType
	updates      ResultStream[*SubscriptionQueryUpdateMessage]

	closeOnce sync.Once
}

// newSubscriptionQueryResult создает координатор поверх удаленного
// дескриптора подписки.
func newSubscriptionQueryResult(handle SubscriptionHandle, serializer *Serializer, responseType, updateType ResponseType) *SubscriptionQueryResult {
	// Ошибка восстановления одного обновления завершает последовательность
	// этой ошибкой: консервативное поведение, согласованное с семантикой
	// канала.
	updates := newMappedStream(handle.Updates(), func(update *QueryUpdate) (*SubscriptionQueryUpdateMessage, error) {
		return serializer.DeserializeUpdate(update, updateType)
	}, nil)

	return &SubscriptionQueryResult{
		handle:       handle,
		serializer:   serializer,
		responseType: responseType,
		updates:      updates,
	}
}

// InitialResult возвращает начальный результат подписочного запроса.
// Восстановление начального результата не зависит от восстановления
// обновлений: его ошибка затрагивает только это значение.
func (r *SubscriptionQueryResult) InitialResult(ctx context.Context) (*QueryResponseMessage, error) {
	response, err := r.handle.InitialResult(ctx)
	if err != nil {
		return nil, newDispatchError(err)
	}

	decoded := r.serializer.DeserializeResponse(response, r.responseType)
	if decoded.IsExceptional() {
		return nil, decoded.ExceptionResult()
	}
	return decoded, nil
}

// Updates возвращает поток обновлений подписки. Обновления доставляются
// в порядке, в котором их выдал удаленный канал.
func (r *SubscriptionQueryResult) Updates() ResultStream[*SubscriptionQueryUpdateMessage] {
	return r.updates
}

// Close закрывает поток обновлений и освобождает удаленную подписку.
// Операция идемпотентна и безопасна для повторных вызовов из любой
// горутины.
func (r *SubscriptionQueryResult) Close() {
	r.closeOnce.Do(func() {
		r.updates.Close()
		_ = r.handle.Close()
	})
}
