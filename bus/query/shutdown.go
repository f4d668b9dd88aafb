package query

import (
	"context"
	"sync"
)

// dispatchState — состояние координатора остановки.
type dispatchState int

const (
	// stateActive — шина принимает новые запросы.
	stateActive dispatchState = iota
	// stateShuttingDown — остановка начата, новые запросы отклоняются,
	// запросы в полете дорабатывают.
	stateShuttingDown
	// stateShutDown — терминальное состояние: запросов в полете не осталось.
	stateShutDown
)

// shutdownCoordinator — это небольшой конечный автомат, отсекающий новые
// отправки и отслеживающий завершение запросов в полете. Единственные
// разделяемые данные — состояние и счетчик; оба защищены мьютексом.
type shutdownCoordinator struct {
	mu       sync.Mutex
	state    dispatchState
	inFlight int
	done     chan struct{}
}

// newShutdownCoordinator создает координатор в состоянии ACTIVE.
func newShutdownCoordinator() *shutdownCoordinator {
	return &shutdownCoordinator{done: make(chan struct{})}
}

// start регистрирует начало отправки. Возвращает ErrShutdownInProgress,
// если остановка уже начата: отклонение синхронное, без блокировки.
func (c *shutdownCoordinator) start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateActive {
		return ErrShutdownInProgress
	}
	c.inFlight++
	return nil
}

// finish регистрирует завершение отправки, успешное или нет. Когда остановка
// начата и запросов в полете не осталось, координатор переходит в
// терминальное состояние.
func (c *shutdownCoordinator) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inFlight--
	if c.state == stateShuttingDown && c.inFlight == 0 {
		c.state = stateShutDown
		close(c.done)
	}
}

// initiateShutdown синхронно переводит координатор в SHUTTING_DOWN и
// возвращает канал, закрываемый после завершения всех запросов, бывших
// в полете на момент перехода. Повторные вызовы возвращают тот же канал;
// для уже остановленного координатора канал закрыт.
func (c *shutdownCoordinator) initiateShutdown() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateActive:
		if c.inFlight == 0 {
			c.state = stateShutDown
			close(c.done)
		} else {
			c.state = stateShuttingDown
		}
	case stateShuttingDown, stateShutDown:
		// Остановка уже начата: возвращаем тот же канал.
	}
	return c.done
}

// awaitShutdown блокируется до завершения остановки или отмены контекста.
func (c *shutdownCoordinator) awaitShutdown(ctx context.Context) error {
	select {
	case <-c.initiateShutdown():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// currentState возвращает текущее состояние координатора.
func (c *shutdownCoordinator) currentState() dispatchState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
