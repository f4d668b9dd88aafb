package query

import (
	"errors"
	"fmt"
)

// Стабильные коды ошибок, переносимые по сети.
const (
	// ErrorCodeQueryExecution — ошибка выполнения запроса удаленным обработчиком.
	ErrorCodeQueryExecution = "QUERY_EXECUTION_ERROR"
	// ErrorCodeQueryDispatch — ошибка доставки запроса до обработчика.
	ErrorCodeQueryDispatch = "QUERY_DISPATCH_ERROR"
	// ErrorCodeDeserialization — ошибка восстановления значения из сетевого
	// представления.
	ErrorCodeDeserialization = "QUERY_DESERIALIZATION_ERROR"
)

// ErrShutdownInProgress возвращается при попытке отправить запрос после
// начала остановки шины. Отклонение происходит синхронно, без обращения
// к сети.
var ErrShutdownInProgress = errors.New("шина запросов останавливается: новые запросы не принимаются")

// ErrStreamClosed возвращается при чтении из закрытого потока результатов.
var ErrStreamClosed = errors.New("поток результатов закрыт")

// DispatchError представляет собой транспортную ошибку: запрос не был
// доставлен или канал завершился до получения ответа. Отличается по типу
// от ошибки удаленного выполнения.
type DispatchError struct {
	Code    string
	Message string
	Cause   error
}

// Error возвращает текст ошибки. Текст совпадает с текстом исходной
// транспортной ошибки, чтобы вызывающая сторона могла его сопоставить.
func (e *DispatchError) Error() string { return e.Message }

// Unwrap возвращает исходную транспортную ошибку.
func (e *DispatchError) Unwrap() error { return e.Cause }

// newDispatchError оборачивает транспортную ошибку, сохраняя ее текст.
func newDispatchError(cause error) *DispatchError {
	return &DispatchError{
		Code:    ErrorCodeQueryDispatch,
		Message: cause.Error(),
		Cause:   cause,
	}
}

// RemoteHandlingError представляет собой ошибку, произошедшую на удаленной
// стороне. Сохраняет исходный код ошибки, текст и место возникновения.
type RemoteHandlingError struct {
	Code     string
	Message  string
	Location string
}

// Error возвращает текст удаленной ошибки.
func (e *RemoteHandlingError) Error() string {
	return fmt.Sprintf("удаленная ошибка %s: %s", e.Code, e.Message)
}

// ErrorCode возвращает стабильный код удаленной ошибки.
func (e *RemoteHandlingError) ErrorCode() string { return e.Code }

// ExecutionError представляет собой ошибку выполнения запроса обработчиком.
// Может нести структурированные детали, восстановленные из сетевого
// представления. Оборачивает RemoteHandlingError с исходным кодом ошибки.
type ExecutionError struct {
	Message string
	Details any
	Cause   error
}

// Error возвращает текст ошибки выполнения.
func (e *ExecutionError) Error() string { return e.Message }

// Unwrap возвращает причину ошибки выполнения.
func (e *ExecutionError) Unwrap() error { return e.Cause }

// HasDetails сообщает, несет ли ошибка структурированные детали.
func (e *ExecutionError) HasDetails() bool { return e.Details != nil }

// NewExecutionError создает ошибку выполнения с деталями. Используется
// обработчиками, которым нужно передать вызывающей стороне структурированный
// контекст ошибки.
func NewExecutionError(message string, details any) *ExecutionError {
	return &ExecutionError{Message: message, Details: details}
}
