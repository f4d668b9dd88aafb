package query_test

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-reflect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-research-team/dqb-framework/bus/query"
)

// Тест выполнения запроса локальным сегментом.
func TestLocalSegment_Query_Success(t *testing.T) {
	t.Parallel()

	segment := query.NewLocalSegment()
	segment.Subscribe("greeting", reflect.TypeOf(testQuery{}), func(ctx context.Context, q *query.QueryMessage) (any, error) {
		return "processed: " + q.Payload().(testQuery).Value, nil
	})

	q := query.NewQueryMessage("greeting", testQuery{Value: "test"}, query.InstanceOf[string]())
	result, err := segment.Query(context.Background(), q)

	require.NoError(t, err, "Выполнение запроса не должно вызывать ошибку")
	assert.Equal(t, "processed: test", result, "Результат обработчика должен возвращаться вызывающей стороне")
}

// Тест ошибки при отсутствии обработчика.
func TestLocalSegment_Query_NoHandler(t *testing.T) {
	t.Parallel()

	segment := query.NewLocalSegment()

	q := query.NewQueryMessage("greeting", testQuery{Value: "test"}, query.InstanceOf[string]())
	_, err := segment.Query(context.Background(), q)

	require.Error(t, err, "Выполнение запроса без обработчика должно вызывать ошибку")
	assert.Contains(t, err.Error(), "обработчик для запроса", "Текст ошибки должен содержать информацию об отсутствующем обработчике")
	assert.Contains(t, err.Error(), "не найден")
}

// Тест сопоставления по типу полезной нагрузки: обработчик другого типа
// не подходит.
func TestLocalSegment_Query_PayloadTypeMismatch(t *testing.T) {
	t.Parallel()

	segment := query.NewLocalSegment()
	segment.Subscribe("greeting", reflect.TypeOf(anotherTestQuery{}), func(ctx context.Context, q *query.QueryMessage) (any, error) {
		return "не должен вызываться", nil
	})

	q := query.NewQueryMessage("greeting", testQuery{Value: "test"}, query.InstanceOf[string]())
	_, err := segment.Query(context.Background(), q)

	require.Error(t, err, "Обработчик с другим типом полезной нагрузки не должен подходить")
}

// Тест QueryAll: все подходящие обработчики отвечают, ошибка одного
// превращается в ошибочный ответ.
func TestLocalSegment_QueryAll(t *testing.T) {
	t.Parallel()

	segment := query.NewLocalSegment()
	segment.Subscribe("census", reflect.TypeOf(testQuery{}), func(ctx context.Context, q *query.QueryMessage) (any, error) {
		return "первый", nil
	})
	segment.Subscribe("census", reflect.TypeOf(testQuery{}), func(ctx context.Context, q *query.QueryMessage) (any, error) {
		return nil, errors.New("Faking exception result")
	})

	q := query.NewQueryMessage("census", testQuery{Value: "all"}, query.InstanceOf[string]())
	responses := segment.QueryAll(context.Background(), q)

	require.Len(t, responses, 2, "Каждый подходящий обработчик должен дать ответ")
	assert.Equal(t, "первый", responses[0].Payload())
	require.True(t, responses[1].IsExceptional(), "Ошибка обработчика должна кодироваться ошибочным ответом")
	assert.Equal(t, "Faking exception result", responses[1].ExceptionResult().Error())
}

// Тест отписки: после отписки обработчик не участвует в выполнении.
func TestLocalSegment_Unsubscribe(t *testing.T) {
	t.Parallel()

	segment := query.NewLocalSegment()
	unsubscribe := segment.Subscribe("greeting", reflect.TypeOf(testQuery{}), func(ctx context.Context, q *query.QueryMessage) (any, error) {
		return "ok", nil
	})

	unsubscribe()

	q := query.NewQueryMessage("greeting", testQuery{Value: "test"}, query.InstanceOf[string]())
	_, err := segment.Query(context.Background(), q)
	require.Error(t, err, "После отписки обработчик не должен находиться")
}

// Тест порядка перехватчиков обработки: цепочка применяется в порядке
// регистрации.
func TestLocalSegment_HandlerInterceptors_FIFO(t *testing.T) {
	t.Parallel()

	segment := query.NewLocalSegment()
	var order []string

	segment.RegisterHandlerInterceptor(func(next query.Handler) query.Handler {
		return func(ctx context.Context, q *query.QueryMessage) (any, error) {
			order = append(order, "первый")
			return next(ctx, q)
		}
	})
	segment.RegisterHandlerInterceptor(func(next query.Handler) query.Handler {
		return func(ctx context.Context, q *query.QueryMessage) (any, error) {
			order = append(order, "второй")
			return next(ctx, q)
		}
	})
	segment.Subscribe("greeting", reflect.TypeOf(testQuery{}), func(ctx context.Context, q *query.QueryMessage) (any, error) {
		order = append(order, "обработчик")
		return "ok", nil
	})

	q := query.NewQueryMessage("greeting", testQuery{Value: "test"}, query.InstanceOf[string]())
	_, err := segment.Query(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, []string{"первый", "второй", "обработчик"}, order, "Перехватчики должны применяться в порядке регистрации")
}

// Тест отмены регистрации перехватчика.
func TestLocalSegment_RemoveHandlerInterceptor(t *testing.T) {
	t.Parallel()

	segment := query.NewLocalSegment()
	remove := segment.RegisterHandlerInterceptor(func(next query.Handler) query.Handler {
		return func(ctx context.Context, q *query.QueryMessage) (any, error) {
			return nil, errors.New("перехватчик должен быть снят")
		}
	})

	remove()
	assert.Empty(t, segment.HandlerInterceptors(), "После отмены регистрации цепочка должна быть пустой")

	segment.Subscribe("greeting", reflect.TypeOf(testQuery{}), func(ctx context.Context, q *query.QueryMessage) (any, error) {
		return "ok", nil
	})

	q := query.NewQueryMessage("greeting", testQuery{Value: "test"}, query.InstanceOf[string]())
	result, err := segment.Query(context.Background(), q)
	require.NoError(t, err, "Снятый перехватчик не должен участвовать в обработке")
	assert.Equal(t, "ok", result)
}

// Тест отмены регистраций перехватчиков в произвольном порядке: каждая
// отмена снимает только собственную регистрацию.
func TestLocalSegment_RemoveHandlerInterceptor_OutOfOrder(t *testing.T) {
	t.Parallel()

	segment := query.NewLocalSegment()
	var order []string

	tag := func(name string) query.HandlerInterceptor {
		return func(next query.Handler) query.Handler {
			return func(ctx context.Context, q *query.QueryMessage) (any, error) {
				order = append(order, name)
				return next(ctx, q)
			}
		}
	}

	removeA := segment.RegisterHandlerInterceptor(tag("A"))
	removeB := segment.RegisterHandlerInterceptor(tag("B"))

	segment.Subscribe("greeting", reflect.TypeOf(testQuery{}), func(ctx context.Context, q *query.QueryMessage) (any, error) {
		return "ok", nil
	})

	// Снятие первой регистрации не должно затрагивать вторую.
	removeA()
	require.Len(t, segment.HandlerInterceptors(), 1, "Снятие первой регистрации не должно затрагивать вторую")

	q := query.NewQueryMessage("greeting", testQuery{Value: "test"}, query.InstanceOf[string]())
	_, err := segment.Query(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, order, "В цепочке должен остаться только второй перехватчик")

	// Повторное снятие идемпотентно и не снимает чужую регистрацию.
	removeA()
	require.Len(t, segment.HandlerInterceptors(), 1, "Повторное снятие не должно затрагивать другие регистрации")

	removeB()
	assert.Empty(t, segment.HandlerInterceptors(), "После снятия всех регистраций цепочка должна быть пустой")
}

// Тест PayloadTypeOf: тип полезной нагрузки возвращается по определению.
func TestLocalSegment_PayloadTypeOf(t *testing.T) {
	t.Parallel()

	segment := query.NewLocalSegment()
	payloadType := reflect.TypeOf(testQuery{})
	segment.Subscribe("greeting", payloadType, func(ctx context.Context, q *query.QueryMessage) (any, error) {
		return "ok", nil
	})

	definition := query.QueryDefinition{QueryName: "greeting", PayloadType: payloadType.String()}
	assert.Equal(t, payloadType, segment.PayloadTypeOf(definition), "Тип полезной нагрузки должен возвращаться по определению")

	missing := query.QueryDefinition{QueryName: "missing", PayloadType: payloadType.String()}
	assert.Nil(t, segment.PayloadTypeOf(missing), "Для незарегистрированного определения тип недоступен")
}
