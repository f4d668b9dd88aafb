package query

import "context"

// QueryDefinition — это ключ регистрации обработчика: имя запроса плюс имя
// типа полезной нагрузки. Два определения равны тогда и только тогда, когда
// совпадают оба поля.
type QueryDefinition struct {
	QueryName   string
	PayloadType string
}

// ConnectionManager предоставляет соединения с удаленной стороной по имени
// целевого контекста. Политика установления и восстановления соединений
// находится за пределами ядра шины.
type ConnectionManager interface {
	// Connection возвращает соединение для указанного целевого контекста.
	Connection(targetContext string) (Connection, error)
}

// Connection представляет собой соединение с удаленной стороной.
type Connection interface {
	// QueryChannel возвращает канал запросов данного соединения.
	QueryChannel() QueryChannel
}

// QueryChannel — это порт удаленного канала запросов. Ядро шины использует
// его для регистрации обработчиков и отправки запросов; конкретный транспорт
// реализуется за этой границей.
type QueryChannel interface {
	// RegisterQueryHandler регистрирует обработчик входящих запросов для
	// указанного определения. Возвращенная регистрация освобождает
	// удаленный ресурс при отмене.
	RegisterQueryHandler(handler RemoteQueryHandler, definition QueryDefinition) RemoteRegistration

	// Query отправляет запрос и возвращает поток ответов. Транспортная
	// ошибка завершает поток терминальной ошибкой.
	Query(ctx context.Context, request *QueryRequest) ResultStream[*QueryResponse]

	// SubscriptionQuery устанавливает подписочный запрос. bufferSize и
	// fetchSize управляют буферизацией потока обновлений.
	SubscriptionQuery(ctx context.Context, request *QueryRequest, bufferSize, fetchSize int) (SubscriptionHandle, error)
}

// RemoteRegistration — это дескриптор удаленной регистрации обработчика.
type RemoteRegistration interface {
	// Cancel отменяет регистрацию. Операция должна быть идемпотентной.
	Cancel() error
}

// RemoteQueryHandler обрабатывает входящие запросы, полученные от удаленного
// канала. Результаты передаются через responder; синхронное завершение не
// предполагается.
type RemoteQueryHandler interface {
	// Handle обрабатывает входящий запрос и передает ответы в responder.
	Handle(ctx context.Context, request *QueryRequest, responder ResponseSender)
}

// ResponseSender принимает ответы обработчика входящего запроса.
type ResponseSender interface {
	// Send отправляет один ответ.
	Send(response *QueryResponse)

	// Complete сигнализирует, что ответов больше не будет.
	Complete()

	// CompleteWithError завершает обработку транспортной ошибкой.
	CompleteWithError(err error)
}

// SubscriptionHandle — это дескриптор удаленного подписочного запроса:
// начальный результат и поток обновлений, отказывающие независимо друг
// от друга.
type SubscriptionHandle interface {
	// InitialResult возвращает начальный результат подписочного запроса.
	InitialResult(ctx context.Context) (*QueryResponse, error)

	// Updates возвращает поток обновлений подписки.
	Updates() ResultStream[*QueryUpdate]

	// Close освобождает удаленную подписку. Операция идемпотентна.
	Close() error
}
