package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/goccy/go-reflect"
)

// Saga представляет собой отслеживаемый экземпляр саги: состояние,
// ассоциации и флаг активности. Изменения фиксируются в хранилище явным
// вызовом Repository.Commit — никакого неявного глобального контекста.
type Saga[T any] struct {
	id           string
	state        T
	active       bool
	stored       bool
	associations []AssociationValue
}

// ID возвращает идентификатор саги.
func (s *Saga[T]) ID() string { return s.id }

// State возвращает состояние саги.
func (s *Saga[T]) State() T { return s.state }

// IsActive сообщает, активна ли сага. Завершенная сага при фиксации
// удаляется из хранилища.
func (s *Saga[T]) IsActive() bool { return s.active }

// Execute выполняет действие над состоянием саги.
func (s *Saga[T]) Execute(fn func(state T)) {
	fn(s.state)
}

// AssociateWith связывает сагу с бизнес-ассоциацией.
func (s *Saga[T]) AssociateWith(key, value string) {
	association := AssociationValue{Key: key, Value: value}
	for _, existing := range s.associations {
		if existing == association {
			return
		}
	}
	s.associations = append(s.associations, association)
}

// RemoveAssociation удаляет бизнес-ассоциацию саги.
func (s *Saga[T]) RemoveAssociation(key, value string) {
	association := AssociationValue{Key: key, Value: value}
	for i, existing := range s.associations {
		if existing == association {
			s.associations = append(s.associations[:i], s.associations[i+1:]...)
			return
		}
	}
}

// Associations возвращает текущие ассоциации саги.
func (s *Saga[T]) Associations() []AssociationValue {
	return append([]AssociationValue(nil), s.associations...)
}

// End завершает сагу. Завершенная сага при фиксации удаляется из
// хранилища; сага, завершенная до первой фиксации, не сохраняется вовсе.
func (s *Saga[T]) End() {
	s.active = false
}

// Repository управляет жизненным циклом саг типа T поверх порта Store:
// создание, загрузка, поиск по ассоциации и фиксация.
type Repository[T any] struct {
	store    Store
	sagaType string
	logger   *slog.Logger
}

// RepositoryOption определяет тип для функциональных опций репозитория.
type RepositoryOption[T any] func(*Repository[T])

// WithRepositoryLogger возвращает опцию, которая устанавливает логгер
// репозитория.
func WithRepositoryLogger[T any](logger *slog.Logger) RepositoryOption[T] {
	return func(r *Repository[T]) {
		r.logger = logger
	}
}

// NewRepository создает репозиторий саг типа T поверх указанного хранилища.
func NewRepository[T any](store Store, opts ...RepositoryOption[T]) (*Repository[T], error) {
	if store == nil {
		return nil, errors.New("хранилище саг не может быть nil")
	}

	r := &Repository[T]{
		store:    store,
		sagaType: reflect.TypeOf((*T)(nil)).Elem().String(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// CreateInstance создает новый отслеживаемый экземпляр саги. Экземпляр не
// сохраняется до первой фиксации: сага, завершенная внутри области своего
// создания, никогда не попадает в хранилище.
func (r *Repository[T]) CreateInstance(id string, factory func() T) *Saga[T] {
	return &Saga[T]{
		id:     id,
		state:  factory(),
		active: true,
	}
}

// Load загружает сагу по идентификатору. Для отсутствующей саги
// возвращает (nil, nil).
func (r *Repository[T]) Load(ctx context.Context, id string) (*Saga[T], error) {
	entry, err := r.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("не удалось загрузить сагу '%s': %w", id, err)
	}

	var state T
	if err := json.Unmarshal(entry.Payload, &state); err != nil {
		return nil, fmt.Errorf("не удалось восстановить состояние саги '%s': %w", id, err)
	}

	return &Saga[T]{
		id:           entry.ID,
		state:        state,
		active:       true,
		stored:       true,
		associations: append([]AssociationValue(nil), entry.Associations...),
	}, nil
}

// Find возвращает идентификаторы саг данного типа, связанных с указанной
// ассоциацией.
func (r *Repository[T]) Find(ctx context.Context, association AssociationValue) ([]string, error) {
	ids, err := r.store.FindByAssociation(ctx, r.sagaType, association)
	if err != nil {
		return nil, fmt.Errorf("не удалось найти саги по ассоциации '%s=%s': %w", association.Key, association.Value, err)
	}
	return ids, nil
}

// Commit фиксирует изменения саги в хранилище. Активная сага сохраняется
// или обновляется; завершенная — удаляется вместе с ассоциациями, а
// завершенная до первого сохранения не сохраняется вовсе.
func (r *Repository[T]) Commit(ctx context.Context, s *Saga[T]) error {
	if !s.active {
		if !s.stored {
			r.logger.Debug("завершенная сага не сохранялась и не будет сохранена",
				slog.String("saga_id", s.id),
			)
			return nil
		}
		if err := r.store.Delete(ctx, s.id); err != nil {
			return fmt.Errorf("не удалось удалить завершенную сагу '%s': %w", s.id, err)
		}
		s.stored = false
		return nil
	}

	payload, err := json.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("не удалось сериализовать состояние саги '%s': %w", s.id, err)
	}

	entry := &Entry{
		ID:           s.id,
		SagaType:     r.sagaType,
		Payload:      payload,
		Associations: s.Associations(),
	}

	if s.stored {
		if err := r.store.Update(ctx, entry); err != nil {
			return fmt.Errorf("не удалось обновить сагу '%s': %w", s.id, err)
		}
		return nil
	}

	if err := r.store.Insert(ctx, entry); err != nil {
		return fmt.Errorf("не удалось сохранить сагу '%s': %w", s.id, err)
	}
	s.stored = true
	return nil
}
