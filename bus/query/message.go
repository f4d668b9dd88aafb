// Package query реализует распределенную шину запросов: маршрутизацию
// read-model запросов между локальными обработчиками и удаленным каналом,
// scatter-gather агрегацию ответов и подписочные запросы с потоком обновлений.
package query

import (
	"maps"

	"github.com/goccy/go-reflect"
	"github.com/google/uuid"
)

// Metadata представляет собой набор метаданных сообщения вида ключ-значение.
// Метаданные переносятся по сети без изменений и используются, в частности,
// для распространения контекста трассировки.
type Metadata map[string]string

// clone возвращает независимую копию метаданных.
func (m Metadata) clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	return maps.Clone(m)
}

// QueryMessage представляет собой неизменяемое сообщение-запрос.
// Каждое сообщение имеет уникальный идентификатор, имя запроса, полезную
// нагрузку и описание ожидаемой формы ответа.
type QueryMessage struct {
	id           string
	queryName    string
	payload      any
	payloadType  string
	responseType ResponseType
	metadata     Metadata
}

// NewQueryMessage создает новое сообщение-запрос с уникальным идентификатором.
// Имя запроса определяет обработчик, responseType — ожидаемую форму ответа.
func NewQueryMessage(queryName string, payload any, responseType ResponseType) *QueryMessage {
	return &QueryMessage{
		id:           uuid.NewString(),
		queryName:    queryName,
		payload:      payload,
		payloadType:  typeNameOf(payload),
		responseType: responseType,
		metadata:     Metadata{},
	}
}

// Identifier возвращает уникальный идентификатор сообщения.
func (m *QueryMessage) Identifier() string { return m.id }

// QueryName возвращает имя запроса.
func (m *QueryMessage) QueryName() string { return m.queryName }

// Payload возвращает полезную нагрузку запроса.
func (m *QueryMessage) Payload() any { return m.payload }

// PayloadType возвращает имя типа полезной нагрузки.
func (m *QueryMessage) PayloadType() string { return m.payloadType }

// ResponseType возвращает описание ожидаемой формы ответа.
func (m *QueryMessage) ResponseType() ResponseType { return m.responseType }

// Metadata возвращает метаданные сообщения.
func (m *QueryMessage) Metadata() map[string]string { return m.metadata }

// WithMetadata возвращает копию сообщения с добавленными метаданными.
// Исходное сообщение не изменяется.
func (m *QueryMessage) WithMetadata(md Metadata) *QueryMessage {
	copied := *m
	copied.metadata = m.metadata.clone()
	maps.Copy(copied.metadata, md)
	return &copied
}

// QueryResponseMessage представляет собой ответ на запрос. Ответ содержит
// либо полезную нагрузку, либо ошибку выполнения — никогда обе одновременно.
type QueryResponseMessage struct {
	id       string
	metadata Metadata
	payload  any
	err      error
}

// NewQueryResponseMessage создает успешный ответ с полезной нагрузкой.
func NewQueryResponseMessage(payload any) *QueryResponseMessage {
	return &QueryResponseMessage{
		id:       uuid.NewString(),
		metadata: Metadata{},
		payload:  payload,
	}
}

// NewExceptionalResponseMessage создает ответ, несущий ошибку выполнения.
func NewExceptionalResponseMessage(err error) *QueryResponseMessage {
	return &QueryResponseMessage{
		id:       uuid.NewString(),
		metadata: Metadata{},
		err:      err,
	}
}

// Identifier возвращает уникальный идентификатор ответа.
func (m *QueryResponseMessage) Identifier() string { return m.id }

// Metadata возвращает метаданные ответа.
func (m *QueryResponseMessage) Metadata() map[string]string { return m.metadata }

// Payload возвращает полезную нагрузку. Для ошибочного ответа — nil.
func (m *QueryResponseMessage) Payload() any { return m.payload }

// IsExceptional сообщает, несет ли ответ ошибку выполнения.
func (m *QueryResponseMessage) IsExceptional() bool { return m.err != nil }

// ExceptionResult возвращает ошибку выполнения или nil для успешного ответа.
func (m *QueryResponseMessage) ExceptionResult() error { return m.err }

// WithMetadata возвращает копию ответа с добавленными метаданными.
func (m *QueryResponseMessage) WithMetadata(md Metadata) *QueryResponseMessage {
	copied := *m
	copied.metadata = m.metadata.clone()
	maps.Copy(copied.metadata, md)
	return &copied
}

// SubscriptionQueryMessage представляет собой подписочный запрос: помимо
// начального результата он описывает форму последующих обновлений.
type SubscriptionQueryMessage struct {
	QueryMessage
	updateType ResponseType
}

// NewSubscriptionQueryMessage создает новый подписочный запрос.
func NewSubscriptionQueryMessage(queryName string, payload any, responseType, updateType ResponseType) *SubscriptionQueryMessage {
	return &SubscriptionQueryMessage{
		QueryMessage: *NewQueryMessage(queryName, payload, responseType),
		updateType:   updateType,
	}
}

// UpdateType возвращает описание формы обновлений подписки.
func (m *SubscriptionQueryMessage) UpdateType() ResponseType { return m.updateType }

// SubscriptionQueryUpdateMessage представляет собой одно обновление
// подписочного запроса.
type SubscriptionQueryUpdateMessage struct {
	id       string
	metadata Metadata
	payload  any
}

// NewSubscriptionQueryUpdateMessage создает новое сообщение-обновление.
func NewSubscriptionQueryUpdateMessage(payload any) *SubscriptionQueryUpdateMessage {
	return &SubscriptionQueryUpdateMessage{
		id:       uuid.NewString(),
		metadata: Metadata{},
		payload:  payload,
	}
}

// Identifier возвращает уникальный идентификатор обновления.
func (m *SubscriptionQueryUpdateMessage) Identifier() string { return m.id }

// Metadata возвращает метаданные обновления.
func (m *SubscriptionQueryUpdateMessage) Metadata() map[string]string { return m.metadata }

// Payload возвращает полезную нагрузку обновления.
func (m *SubscriptionQueryUpdateMessage) Payload() any { return m.payload }

// typeNameOf возвращает имя динамического типа значения.
func typeNameOf(v any) string {
	if v == nil {
		return ""
	}
	return reflect.TypeOf(v).String()
}
