package query

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/goccy/go-reflect"
)

// responseTypeTag — метка типа сетевого дескриптора формы ответа.
const responseTypeTag = "query.ResponseType"

// responseTypeDescriptor — сетевое представление формы ответа, кодируемое
// выделенным кодеком: кардинальность плюс имя типа элемента.
type responseTypeDescriptor struct {
	Kind        string `json:"kind"`
	ElementType string `json:"element_type"`
}

// Имена кардинальностей в сетевом дескрипторе.
const (
	kindInstance = "instance"
	kindOptional = "optional"
	kindMultiple = "multiple"
)

// Serializer — это сетевой кодек шины запросов: переводит доменные
// сообщения в сетевые представления и обратно, сохраняя ошибки выполнения
// при прохождении через сеть.
type Serializer struct {
	clientID      string
	componentName string
}

// NewSerializer создает новый кодек. clientID и componentName попадают
// в исходящие запросы и в поле location сетевых ошибок.
func NewSerializer(clientID, componentName string) *Serializer {
	return &Serializer{clientID: clientID, componentName: componentName}
}

// SerializeRequest кодирует сообщение-запрос в сетевое представление.
// expectedResults равное UnboundedResults означает scatter-gather без
// ограничения числа ответов.
func (s *Serializer) SerializeRequest(m *QueryMessage, priority int64, timeoutMillis int64, expectedResults int64) (*QueryRequest, error) {
	payload, err := serializeObject(m.Payload())
	if err != nil {
		return nil, fmt.Errorf("не удалось сериализовать полезную нагрузку запроса '%s': %w", m.QueryName(), err)
	}

	responseType, err := serializeResponseType(m.ResponseType())
	if err != nil {
		return nil, fmt.Errorf("не удалось сериализовать форму ответа запроса '%s': %w", m.QueryName(), err)
	}

	return &QueryRequest{
		RequestIdentifier: m.Identifier(),
		MessageIdentifier: m.Identifier(),
		QueryName:         m.QueryName(),
		Payload:           payload,
		ResponseType:      responseType,
		Metadata:          m.Metadata(),
		ProcessingInstructions: []ProcessingInstruction{
			{Key: InstructionPriority, Value: priority},
			{Key: InstructionTimeout, Value: timeoutMillis},
			{Key: InstructionNumberOfResults, Value: expectedResults},
		},
		ClientID:      s.clientID,
		ComponentName: s.componentName,
	}, nil
}

// DeserializeRequest восстанавливает сообщение-запрос из сетевого
// представления. Идентификатор, имя запроса и метаданные сохраняются;
// полезная нагрузка восстанавливается обобщенным кодеком.
func (s *Serializer) DeserializeRequest(req *QueryRequest) (*QueryMessage, error) {
	if req.Payload == nil {
		return nil, fmt.Errorf("запрос '%s' не содержит полезной нагрузки", req.QueryName)
	}

	payload, err := deserializeObjectDynamic(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("не удалось восстановить полезную нагрузку запроса '%s': %w", req.QueryName, err)
	}

	responseType, err := deserializeResponseType(req.ResponseType)
	if err != nil {
		return nil, fmt.Errorf("не удалось восстановить форму ответа запроса '%s': %w", req.QueryName, err)
	}

	metadata := Metadata(req.Metadata).clone()
	return &QueryMessage{
		id:           req.MessageIdentifier,
		queryName:    req.QueryName,
		payload:      payload,
		payloadType:  req.Payload.Type,
		responseType: responseType,
		metadata:     metadata,
	}, nil
}

// DeserializeRequestAs восстанавливает сообщение-запрос, приводя полезную
// нагрузку к указанному типу. Используется на принимающей стороне, где тип
// полезной нагрузки известен из регистрации обработчика.
func (s *Serializer) DeserializeRequestAs(req *QueryRequest, payloadType reflect.Type) (*QueryMessage, error) {
	m, err := s.DeserializeRequest(req)
	if err != nil {
		return nil, err
	}
	if payloadType == nil || req.Payload == nil {
		return m, nil
	}

	target := reflect.New(payloadType)
	if err := json.Unmarshal(req.Payload.Data, target.Interface()); err != nil {
		return nil, fmt.Errorf("не удалось привести полезную нагрузку запроса '%s' к типу %s: %w", req.QueryName, payloadType, err)
	}
	m.payload = target.Elem().Interface()
	return m, nil
}

// SerializeResponse кодирует ответ в сетевое представление. Ошибочный ответ
// кодируется кодом ошибки, текстом и, при наличии, структурированными
// деталями; успешный — полезной нагрузкой через обобщенный кодек.
func (s *Serializer) SerializeResponse(m *QueryResponseMessage, requestIdentifier string) (*QueryResponse, error) {
	response := &QueryResponse{
		RequestIdentifier: requestIdentifier,
		MessageIdentifier: m.Identifier(),
		Metadata:          m.Metadata(),
	}

	if !m.IsExceptional() {
		payload, err := serializeObject(m.Payload())
		if err != nil {
			return nil, fmt.Errorf("не удалось сериализовать полезную нагрузку ответа: %w", err)
		}
		response.Payload = payload
		return response, nil
	}

	cause := m.ExceptionResult()
	response.ErrorCode = errorCodeOf(cause)
	response.ErrorMessage = &ErrorMessage{
		Message:  cause.Error(),
		Location: s.clientID,
	}

	var execErr *ExecutionError
	if errors.As(cause, &execErr) && execErr.HasDetails() {
		details, err := serializeObject(execErr.Details)
		if err != nil {
			return nil, fmt.Errorf("не удалось сериализовать детали ошибки: %w", err)
		}
		response.Details = details
	}

	return response, nil
}

// DeserializeResponse восстанавливает ответ из сетевого представления.
// Ответ с кодом ошибки становится ошибочным ответом, сохраняющим исходный
// код, текст и детали. Ошибка восстановления полезной нагрузки превращается
// в ошибочный ответ для этого единственного элемента и не разрушает канал.
func (s *Serializer) DeserializeResponse(resp *QueryResponse, expected ResponseType) *QueryResponseMessage {
	metadata := Metadata(resp.Metadata).clone()

	if resp.ErrorCode != "" {
		remote := &RemoteHandlingError{
			Code: resp.ErrorCode,
		}
		if resp.ErrorMessage != nil {
			remote.Message = resp.ErrorMessage.Message
			remote.Location = resp.ErrorMessage.Location
		}

		execErr := &ExecutionError{Message: remote.Message, Cause: remote}
		if resp.Details != nil {
			if details, err := deserializeObjectDynamic(resp.Details); err == nil {
				execErr.Details = details
			}
		}

		return &QueryResponseMessage{
			id:       resp.MessageIdentifier,
			metadata: metadata,
			err:      execErr,
		}
	}

	payload, err := deserializeObject(resp.Payload, expected)
	if err != nil {
		return &QueryResponseMessage{
			id:       resp.MessageIdentifier,
			metadata: metadata,
			err: &ExecutionError{
				Message: fmt.Sprintf("не удалось восстановить полезную нагрузку ответа: %v", err),
				Cause: &RemoteHandlingError{
					Code:     ErrorCodeDeserialization,
					Message:  err.Error(),
					Location: s.clientID,
				},
			},
		}
	}

	return &QueryResponseMessage{
		id:       resp.MessageIdentifier,
		metadata: metadata,
		payload:  payload,
	}
}

// SerializeUpdate кодирует обновление подписочного запроса.
func (s *Serializer) SerializeUpdate(m *SubscriptionQueryUpdateMessage) (*QueryUpdate, error) {
	payload, err := serializeObject(m.Payload())
	if err != nil {
		return nil, fmt.Errorf("не удалось сериализовать обновление подписки: %w", err)
	}
	return &QueryUpdate{
		MessageIdentifier: m.Identifier(),
		Payload:           payload,
		Metadata:          m.Metadata(),
	}, nil
}

// DeserializeUpdate восстанавливает обновление подписочного запроса.
// Ошибка восстановления возвращается вызывающей стороне и затрагивает
// только этот элемент последовательности.
func (s *Serializer) DeserializeUpdate(update *QueryUpdate, expected ResponseType) (*SubscriptionQueryUpdateMessage, error) {
	payload, err := deserializeObject(update.Payload, expected)
	if err != nil {
		return nil, fmt.Errorf("не удалось восстановить обновление подписки: %w", err)
	}
	return &SubscriptionQueryUpdateMessage{
		id:       update.MessageIdentifier,
		metadata: Metadata(update.Metadata).clone(),
		payload:  payload,
	}, nil
}

// serializeObject кодирует значение обобщенным кодеком: метка типа плюс
// JSON-представление.
func serializeObject(v any) (*SerializedObject, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &SerializedObject{Type: typeNameOf(v), Data: data}, nil
}

// deserializeObject восстанавливает значение в тип элемента ожидаемой формы
// ответа. Для дескриптора без конкретного типа восстановление динамическое.
func deserializeObject(obj *SerializedObject, expected ResponseType) (any, error) {
	if obj == nil {
		return nil, fmt.Errorf("сетевое представление не содержит полезной нагрузки")
	}
	elem := expected.ElementType()
	if elem == nil {
		return deserializeObjectDynamic(obj)
	}

	target := reflect.New(elem)
	if err := json.Unmarshal(obj.Data, target.Interface()); err != nil {
		return nil, err
	}
	return target.Elem().Interface(), nil
}

// deserializeObjectDynamic восстанавливает значение без знания конкретного
// типа, полагаясь на динамическое представление JSON.
func deserializeObjectDynamic(obj *SerializedObject) (any, error) {
	var v any
	if err := json.Unmarshal(obj.Data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// serializeResponseType кодирует форму ответа выделенным кодеком.
// Опциональный экземпляр кодируется как обычный: удаленной стороне
// достаточно восстановить один экземпляр.
func serializeResponseType(rt ResponseType) (*SerializedObject, error) {
	kind := kindInstance
	switch rt.Expectation() {
	case ExpectMultiple:
		kind = kindMultiple
	case ExpectOptional, ExpectInstance:
		kind = kindInstance
	}

	data, err := json.Marshal(responseTypeDescriptor{
		Kind:        kind,
		ElementType: rt.ElementTypeName(),
	})
	if err != nil {
		return nil, err
	}
	return &SerializedObject{Type: responseTypeTag, Data: data}, nil
}

// deserializeResponseType восстанавливает форму ответа из сетевого
// дескриптора.
func deserializeResponseType(obj *SerializedObject) (ResponseType, error) {
	if obj == nil {
		return nil, fmt.Errorf("сетевое представление не содержит дескриптора формы ответа")
	}
	var desc responseTypeDescriptor
	if err := json.Unmarshal(obj.Data, &desc); err != nil {
		return nil, err
	}

	expectation := ExpectInstance
	switch desc.Kind {
	case kindMultiple:
		expectation = ExpectMultiple
	case kindOptional:
		expectation = ExpectOptional
	}
	return wireResponseType{elemName: desc.ElementType, expectation: expectation}, nil
}

// errorCodeOf возвращает стабильный код ошибки: код удаленной ошибки, если
// он известен, иначе общий код ошибки выполнения.
func errorCodeOf(err error) string {
	var remote *RemoteHandlingError
	if errors.As(err, &remote) {
		return remote.Code
	}
	return ErrorCodeQueryExecution
}
