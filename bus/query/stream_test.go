package query_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-research-team/dqb-framework/bus/query"
)

// Тест порядка доставки элементов через буфер потока.
func TestStreamBuffer_PutAndNext(t *testing.T) {
	t.Parallel()

	stream := query.NewStreamBuffer[string](4)
	require.NoError(t, stream.Put("первый"), "Добавление в открытый поток не должно вызывать ошибку")
	require.NoError(t, stream.Put("второй"), "Добавление в открытый поток не должно вызывать ошибку")

	item, err := stream.Next(context.Background())
	require.NoError(t, err, "Чтение доступного элемента не должно вызывать ошибку")
	assert.Equal(t, "первый", item, "Элементы должны выдаваться в порядке добавления")

	item, err = stream.Next(context.Background())
	require.NoError(t, err, "Чтение доступного элемента не должно вызывать ошибку")
	assert.Equal(t, "второй", item, "Элементы должны выдаваться в порядке добавления")
}

// Тест семантики просмотра: Peek не потребляет элемент.
func TestStreamBuffer_PeekDoesNotConsume(t *testing.T) {
	t.Parallel()

	stream := query.NewStreamBuffer[string](4)
	require.NoError(t, stream.Put("значение"))

	peeked, ok := stream.Peek()
	require.True(t, ok, "Peek должен видеть доступный элемент")
	assert.Equal(t, "значение", peeked, "Peek должен возвращать следующий элемент")

	// Повторный просмотр возвращает тот же элемент.
	peeked, ok = stream.Peek()
	require.True(t, ok, "Повторный Peek должен видеть тот же элемент")
	assert.Equal(t, "значение", peeked)

	// Потребление возвращает просмотренный элемент ровно один раз.
	item, ok := stream.NextIfAvailable()
	require.True(t, ok, "NextIfAvailable должен потребить просмотренный элемент")
	assert.Equal(t, "значение", item)

	_, ok = stream.NextIfAvailable()
	assert.False(t, ok, "После потребления элементов не должно остаться")
}

// Тест неблокирующего чтения из пустого потока.
func TestStreamBuffer_NextIfAvailable_Empty(t *testing.T) {
	t.Parallel()

	stream := query.NewStreamBuffer[int](1)

	_, ok := stream.NextIfAvailable()
	assert.False(t, ok, "Неблокирующее чтение из пустого потока должно вернуть false")

	_, ok = stream.Peek()
	assert.False(t, ok, "Просмотр пустого потока должен вернуть false")
}

// Тест закрытия потока: буферизованные элементы остаются доступными.
func TestStreamBuffer_Close_KeepsBufferedItems(t *testing.T) {
	t.Parallel()

	stream := query.NewStreamBuffer[string](4)
	require.NoError(t, stream.Put("остаток"))
	stream.Close()
	stream.Close() // Повторное закрытие безопасно.

	assert.True(t, stream.IsClosed(), "После закрытия поток должен сообщать о закрытии")
	assert.ErrorIs(t, stream.Put("поздно"), query.ErrStreamClosed, "Добавление в закрытый поток должно отклоняться")

	item, err := stream.Next(context.Background())
	require.NoError(t, err, "Буферизованный элемент должен читаться после закрытия")
	assert.Equal(t, "остаток", item)

	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, query.ErrStreamClosed, "После исчерпания закрытый поток должен возвращать ErrStreamClosed")
}

// Тест закрытия потока с терминальной ошибкой.
func TestStreamBuffer_CloseWithError(t *testing.T) {
	t.Parallel()

	terminal := errors.New("Faking problems")
	stream := query.NewStreamBuffer[string](1)
	stream.CloseWithError(terminal)

	_, err := stream.Next(context.Background())
	assert.ErrorIs(t, err, terminal, "Чтение из потока должно возвращать терминальную ошибку")
	assert.ErrorIs(t, stream.Err(), terminal, "Err должен возвращать терминальную ошибку")
}

// Тест блокирующего чтения: Next дожидается появления элемента.
func TestStreamBuffer_Next_BlocksUntilPut(t *testing.T) {
	t.Parallel()

	stream := query.NewStreamBuffer[string](1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = stream.Put("позднее значение")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	item, err := stream.Next(ctx)
	require.NoError(t, err, "Next должен дождаться появления элемента")
	assert.Equal(t, "позднее значение", item)
}

// Тест отмены контекста при блокирующем чтении.
func TestStreamBuffer_Next_ContextCanceled(t *testing.T) {
	t.Parallel()

	stream := query.NewStreamBuffer[string](1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := stream.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled, "Отмена контекста должна прерывать блокирующее чтение")
}

// Тест обратного вызова о доступности элемента.
func TestStreamBuffer_OnAvailable(t *testing.T) {
	t.Parallel()

	stream := query.NewStreamBuffer[string](4)
	notified := make(chan struct{}, 4)
	stream.OnAvailable(func() {
		notified <- struct{}{}
	})

	require.NoError(t, stream.Put("значение"))

	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("Обратный вызов должен быть выполнен при появлении элемента")
	}

	// Для уже закрытого потока регистрация вызывает обратный вызов немедленно.
	closed := query.NewStreamBuffer[string](1)
	closed.Close()

	immediate := make(chan struct{}, 1)
	closed.OnAvailable(func() {
		immediate <- struct{}{}
	})

	select {
	case <-immediate:
	case <-time.After(time.Second):
		t.Fatal("Обратный вызов должен быть выполнен немедленно для закрытого потока")
	}
}
