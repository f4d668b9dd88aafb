package query

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/goccy/go-reflect"
)

// handlerRegistry дедуплицирует регистрации обработчиков: для каждого
// определения (имя запроса, тип полезной нагрузки) существует единственная
// разделяемая обертка и единственная удаленная регистрация, сколько бы раз
// ни вызывалась подписка.
type handlerRegistry struct {
	local           *LocalSegment
	serializer      *Serializer
	channelProvider func() (QueryChannel, error)
	logger          *slog.Logger

	mu       sync.Mutex
	wrappers map[QueryDefinition]*handlerWrapper
}

// newHandlerRegistry создает новый реестр обработчиков.
func newHandlerRegistry(local *LocalSegment, serializer *Serializer, channelProvider func() (QueryChannel, error), logger *slog.Logger) *handlerRegistry {
	return &handlerRegistry{
		local:           local,
		serializer:      serializer,
		channelProvider: channelProvider,
		logger:          logger,
		wrappers:        make(map[QueryDefinition]*handlerWrapper),
	}
}

// subscribe регистрирует обработчик. Локальная таблица пополняется при каждом
// вызове; удаленная регистрация выполняется только при первом появлении
// определения. Отмена любого возвращенного дескриптора отменяет разделяемую
// удаленную регистрацию: удаленная модель не изолирует регистрации по
// вызовам.
func (r *handlerRegistry) subscribe(queryName string, payloadType reflect.Type, handler Handler) (*Registration, error) {
	definition := QueryDefinition{QueryName: queryName, PayloadType: typeName(payloadType)}
	unsubscribeLocal := r.local.Subscribe(queryName, payloadType, handler)

	r.mu.Lock()
	wrapper, exists := r.wrappers[definition]
	if !exists {
		channel, err := r.channelProvider()
		if err != nil {
			r.mu.Unlock()
			unsubscribeLocal()
			return nil, fmt.Errorf("не удалось получить канал запросов для регистрации '%s': %w", queryName, err)
		}

		wrapper = newHandlerWrapper(definition, r.local, r.serializer, r.logger)
		wrapper.remote = channel.RegisterQueryHandler(wrapper, definition)
		r.wrappers[definition] = wrapper
		r.logger.Info("зарегистрирован удаленный обработчик запроса",
			slog.String("query_name", queryName),
			slog.String("payload_type", definition.PayloadType),
		)
	}
	r.mu.Unlock()

	return newRegistration(func() error {
		unsubscribeLocal()
		return r.cancelShared(definition)
	}), nil
}

// cancelShared отменяет разделяемую удаленную регистрацию определения.
func (r *handlerRegistry) cancelShared(definition QueryDefinition) error {
	r.mu.Lock()
	wrapper, exists := r.wrappers[definition]
	if exists {
		delete(r.wrappers, definition)
	}
	r.mu.Unlock()

	if !exists {
		return nil
	}
	return wrapper.cancelRemote()
}

// handlerWrapper — стабильная разделяемая обертка обработчика одного
// определения. Именно она регистрируется на удаленном канале и отвечает на
// входящие запросы через локальный сегмент.
type handlerWrapper struct {
	definition QueryDefinition
	local      *LocalSegment
	serializer *Serializer
	logger     *slog.Logger

	cancelOnce sync.Once
	cancelErr  error
	remote     RemoteRegistration
}

// newHandlerWrapper создает обертку для определения запроса.
func newHandlerWrapper(definition QueryDefinition, local *LocalSegment, serializer *Serializer, logger *slog.Logger) *handlerWrapper {
	return &handlerWrapper{
		definition: definition,
		local:      local,
		serializer: serializer,
		logger:     logger,
	}
}

// Handle обрабатывает входящий удаленный запрос. Обработка выполняется
// асинхронно: результат обработчика передается через responder по мере
// готовности. Ошибка выполнения кодируется корректным ошибочным ответом,
// а не транспортной ошибкой.
func (w *handlerWrapper) Handle(ctx context.Context, request *QueryRequest, responder ResponseSender) {
	go func() {
		payloadType := w.local.PayloadTypeOf(w.definition)
		m, err := w.serializer.DeserializeRequestAs(request, payloadType)
		if err != nil {
			w.logger.Error("не удалось восстановить входящий запрос",
				slog.String("query_name", request.QueryName),
				slog.Any("error", err),
			)
			responder.CompleteWithError(err)
			return
		}

		if NumberOfResults(request.ProcessingInstructions) == UnboundedResults {
			for _, response := range w.local.QueryAll(ctx, m) {
				w.send(response, request.RequestIdentifier, responder)
			}
			responder.Complete()
			return
		}

		payload, err := w.local.Query(ctx, m)
		var response *QueryResponseMessage
		if err != nil {
			response = NewExceptionalResponseMessage(err)
		} else {
			response = NewQueryResponseMessage(payload)
		}
		w.send(response, request.RequestIdentifier, responder)
		responder.Complete()
	}()
}

// send сериализует и отправляет один ответ.
func (w *handlerWrapper) send(response *QueryResponseMessage, requestIdentifier string, responder ResponseSender) {
	wireResponse, err := w.serializer.SerializeResponse(response, requestIdentifier)
	if err != nil {
		w.logger.Error("не удалось сериализовать ответ на входящий запрос",
			slog.String("request_identifier", requestIdentifier),
			slog.Any("error", err),
		)
		responder.CompleteWithError(err)
		return
	}
	responder.Send(wireResponse)
}

// cancelRemote отменяет удаленную регистрацию ровно один раз.
func (w *handlerWrapper) cancelRemote() error {
	w.cancelOnce.Do(func() {
		if w.remote != nil {
			w.cancelErr = w.remote.Cancel()
		}
	})
	return w.cancelErr
}
