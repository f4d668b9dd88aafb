package query_test

import (
	"errors"
	"testing"

	"github.com/goccy/go-reflect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-research-team/dqb-framework/bus/query"
)

// Полезная нагрузка для проверки сериализации.
type findUserQuery struct {
	UserID string `json:"user_id"`
}

// Тест сериализации запроса: полезная нагрузка, инструкции обработки
// и идентификация клиента.
func TestSerializer_SerializeRequest(t *testing.T) {
	t.Parallel()

	serializer := query.NewSerializer("client-1", "поисковый компонент")
	q := query.NewQueryMessage("users.find", findUserQuery{UserID: "42"}, query.InstanceOf[string]())

	request, err := serializer.SerializeRequest(q, 5, 1500, 1)
	require.NoError(t, err, "Сериализация запроса не должна вызывать ошибку")

	assert.Equal(t, q.Identifier(), request.MessageIdentifier, "Идентификатор сообщения должен сохраняться")
	assert.Equal(t, "users.find", request.QueryName, "Имя запроса должно сохраняться")
	assert.Equal(t, "client-1", request.ClientID, "Идентификатор клиента должен попадать в запрос")
	assert.Equal(t, "поисковый компонент", request.ComponentName, "Имя компонента должно попадать в запрос")
	require.NotNil(t, request.Payload, "Запрос должен нести полезную нагрузку")
	assert.Equal(t, "query_test.findUserQuery", request.Payload.Type, "Метка типа полезной нагрузки должна сохраняться")

	assert.Equal(t, int64(5), query.Priority(request.ProcessingInstructions), "Приоритет должен кодироваться инструкцией обработки")
	assert.Equal(t, int64(1500), query.TimeoutMillis(request.ProcessingInstructions), "Таймаут должен кодироваться инструкцией обработки")
	assert.Equal(t, int64(1), query.NumberOfResults(request.ProcessingInstructions), "Ожидаемое число ответов должно кодироваться инструкцией обработки")
}

// Тест восстановления запроса с приведением полезной нагрузки к известному
// типу на принимающей стороне.
func TestSerializer_DeserializeRequestAs(t *testing.T) {
	t.Parallel()

	serializer := query.NewSerializer("client-1", "component")
	q := query.NewQueryMessage("users.find", findUserQuery{UserID: "42"}, query.InstanceOf[string]())

	request, err := serializer.SerializeRequest(q, 0, 0, 1)
	require.NoError(t, err)

	restored, err := serializer.DeserializeRequestAs(request, reflect.TypeOf(findUserQuery{}))
	require.NoError(t, err, "Восстановление запроса не должно вызывать ошибку")

	assert.Equal(t, q.Identifier(), restored.Identifier(), "Идентификатор должен переживать сетевой переход")
	assert.Equal(t, "users.find", restored.QueryName())
	payload, ok := restored.Payload().(findUserQuery)
	require.True(t, ok, "Полезная нагрузка должна быть приведена к зарегистрированному типу")
	assert.Equal(t, "42", payload.UserID, "Полезная нагрузка должна переживать сетевой переход")
}

// Тест сетевого перехода формы ответа: кардинальность и имя типа элемента
// восстанавливаются, конкретный тип на удаленной стороне недоступен.
func TestSerializer_ResponseTypeRoundTrip(t *testing.T) {
	t.Parallel()

	serializer := query.NewSerializer("client-1", "component")
	q := query.NewQueryMessage("users.find", findUserQuery{UserID: "1"}, query.MultipleInstancesOf[string]())

	request, err := serializer.SerializeRequest(q, 0, 0, query.UnboundedResults)
	require.NoError(t, err)

	restored, err := serializer.DeserializeRequest(request)
	require.NoError(t, err, "Восстановление запроса не должно вызывать ошибку")

	responseType := restored.ResponseType()
	assert.Equal(t, query.ExpectMultiple, responseType.Expectation(), "Кардинальность должна переживать сетевой переход")
	assert.Equal(t, "string", responseType.ElementTypeName(), "Имя типа элемента должно переживать сетевой переход")
	assert.Nil(t, responseType.ElementType(), "Конкретный тип на удаленной стороне недоступен")
	assert.True(t, responseType.Matches(reflect.TypeOf("")), "Сопоставление должно выполняться по имени типа")
}

// Тест сетевой формы опционального ответа: опциональный экземпляр кодируется
// как обычный и остается совместимым с исходной формой.
func TestSerializer_OptionalResponseTypeSerializedAsInstance(t *testing.T) {
	t.Parallel()

	serializer := query.NewSerializer("client-1", "component")
	optional := query.OptionalInstanceOf[findUserQuery]()
	q := query.NewQueryMessage("users.find", findUserQuery{UserID: "1"}, optional)

	request, err := serializer.SerializeRequest(q, 0, 0, 1)
	require.NoError(t, err)

	restored, err := serializer.DeserializeRequest(request)
	require.NoError(t, err)

	responseType := restored.ResponseType()
	assert.Equal(t, query.ExpectInstance, responseType.Expectation(), "Опциональный экземпляр должен кодироваться как обычный")
	assert.True(t, query.CompatibleResponseTypes(optional, responseType), "Восстановленная форма должна быть совместима с исходной")
}

// Тест сетевого перехода успешного ответа.
func TestSerializer_ResponseRoundTrip(t *testing.T) {
	t.Parallel()

	serializer := query.NewSerializer("client-1", "component")
	original := query.NewQueryResponseMessage("Hello world")

	wireResponse, err := serializer.SerializeResponse(original, "request-1")
	require.NoError(t, err, "Сериализация ответа не должна вызывать ошибку")
	assert.Equal(t, "request-1", wireResponse.RequestIdentifier, "Идентификатор запроса должен сохраняться")

	restored := serializer.DeserializeResponse(wireResponse, query.InstanceOf[string]())
	require.False(t, restored.IsExceptional(), "Успешный ответ не должен становиться ошибочным")
	assert.Equal(t, "Hello world", restored.Payload(), "Полезная нагрузка должна переживать сетевой переход")
	assert.Equal(t, original.Identifier(), restored.Identifier(), "Идентификатор ответа должен сохраняться")
}

// Тест сетевого перехода ошибочного ответа: код, текст и место возникновения
// сохраняются, а ответ остается корректным ответом, не транспортной ошибкой.
func TestSerializer_ExceptionalResponseRoundTrip(t *testing.T) {
	t.Parallel()

	serializer := query.NewSerializer("remote-client", "component")
	original := query.NewExceptionalResponseMessage(errors.New("Faking exception result"))

	wireResponse, err := serializer.SerializeResponse(original, "request-1")
	require.NoError(t, err, "Сериализация ошибочного ответа не должна вызывать ошибку")
	assert.Equal(t, query.ErrorCodeQueryExecution, wireResponse.ErrorCode, "Ошибка без кода должна получать общий код выполнения")
	require.NotNil(t, wireResponse.ErrorMessage)
	assert.Equal(t, "Faking exception result", wireResponse.ErrorMessage.Message, "Текст ошибки должен сохраняться")
	assert.Equal(t, "remote-client", wireResponse.ErrorMessage.Location, "Место возникновения должно указывать на клиента")

	restored := serializer.DeserializeResponse(wireResponse, query.InstanceOf[string]())
	require.True(t, restored.IsExceptional(), "Восстановленный ответ должен нести ошибку выполнения")

	cause := restored.ExceptionResult()
	assert.Equal(t, "Faking exception result", cause.Error(), "Текст ошибки должен переживать сетевой переход")

	var remote *query.RemoteHandlingError
	require.True(t, errors.As(cause, &remote), "Причина должна нести удаленную ошибку с кодом")
	assert.Equal(t, query.ErrorCodeQueryExecution, remote.ErrorCode(), "Код ошибки должен переживать сетевой переход")
}

// Тест сетевого перехода структурированных деталей ошибки выполнения.
func TestSerializer_ExecutionErrorDetailsRoundTrip(t *testing.T) {
	t.Parallel()

	serializer := query.NewSerializer("client-1", "component")
	details := map[string]any{"field": "user_id", "reason": "пустое значение"}
	original := query.NewExceptionalResponseMessage(query.NewExecutionError("ошибка валидации", details))

	wireResponse, err := serializer.SerializeResponse(original, "request-1")
	require.NoError(t, err)
	require.NotNil(t, wireResponse.Details, "Детали ошибки должны кодироваться в сетевое представление")

	restored := serializer.DeserializeResponse(wireResponse, query.InstanceOf[string]())
	require.True(t, restored.IsExceptional())

	var execErr *query.ExecutionError
	require.True(t, errors.As(restored.ExceptionResult(), &execErr), "Ошибка выполнения должна восстанавливаться со структурированными деталями")
	require.True(t, execErr.HasDetails(), "Детали должны переживать сетевой переход")
	assert.Equal(t, "ошибка валидации", execErr.Message)

	restoredDetails, ok := execErr.Details.(map[string]any)
	require.True(t, ok, "Детали должны восстанавливаться динамическим кодеком")
	assert.Equal(t, "user_id", restoredDetails["field"])
}

// Тест изоляции ошибки восстановления: неразборчивая полезная нагрузка
// превращается в ошибочный ответ для этого элемента, а не в отказ канала.
func TestSerializer_DeserializeResponse_BrokenPayload(t *testing.T) {
	t.Parallel()

	serializer := query.NewSerializer("client-1", "component")
	wireResponse := &query.QueryResponse{
		RequestIdentifier: "request-1",
		MessageIdentifier: "message-1",
		Payload:           &query.SerializedObject{Type: "string", Data: []byte("{неразборчиво")},
	}

	restored := serializer.DeserializeResponse(wireResponse, query.InstanceOf[string]())
	require.True(t, restored.IsExceptional(), "Неразборчивая полезная нагрузка должна давать ошибочный ответ")

	var remote *query.RemoteHandlingError
	require.True(t, errors.As(restored.ExceptionResult(), &remote))
	assert.Equal(t, query.ErrorCodeDeserialization, remote.ErrorCode(), "Код должен указывать на ошибку восстановления")
}

// Тест сетевого перехода обновления подписочного запроса.
func TestSerializer_UpdateRoundTrip(t *testing.T) {
	t.Parallel()

	serializer := query.NewSerializer("client-1", "component")
	original := query.NewSubscriptionQueryUpdateMessage("Hello world")

	wireUpdate, err := serializer.SerializeUpdate(original)
	require.NoError(t, err, "Сериализация обновления не должна вызывать ошибку")

	restored, err := serializer.DeserializeUpdate(wireUpdate, query.InstanceOf[string]())
	require.NoError(t, err, "Восстановление обновления не должно вызывать ошибку")
	assert.Equal(t, "Hello world", restored.Payload(), "Полезная нагрузка обновления должна переживать сетевой переход")
	assert.Equal(t, original.Identifier(), restored.Identifier())
}

// Тест ошибки восстановления обновления с неразборчивой полезной нагрузкой.
func TestSerializer_DeserializeUpdate_BrokenPayload(t *testing.T) {
	t.Parallel()

	serializer := query.NewSerializer("client-1", "component")
	wireUpdate := &query.QueryUpdate{
		MessageIdentifier: "update-1",
		Payload:           &query.SerializedObject{Type: "string", Data: []byte("{неразборчиво")},
	}

	_, err := serializer.DeserializeUpdate(wireUpdate, query.InstanceOf[string]())
	require.Error(t, err, "Неразборчивое обновление должно возвращать ошибку восстановления")
	assert.Contains(t, err.Error(), "не удалось восстановить обновление подписки")
}
