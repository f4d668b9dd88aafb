// Package saga предоставляет порт хранения саг: долгоживущих процессов,
// находимых по идентификатору или по бизнес-ассоциации. Конкретный движок
// хранения (реляционный, документный, в памяти) реализуется за интерфейсом
// Store; ядро не зависит от деталей его отображения.
package saga

import (
	"context"
	"errors"
)

// AssociationValue — это пара ключ-значение, по которой сага находится
// по бизнес-корреляции, а не по идентификатору.
type AssociationValue struct {
	Key   string
	Value string
}

// Entry представляет сагу, сохраненную в хранилище: сериализованное
// состояние плюс ассоциации.
type Entry struct {
	ID           string
	SagaType     string
	Payload      []byte
	Associations []AssociationValue
}

// ErrNotFound возвращается хранилищем, когда сага с указанным
// идентификатором отсутствует.
var ErrNotFound = errors.New("сага не найдена")

// Store определяет контракт для персистентного хранения саг.
// Все операции должны быть потокобезопасными. Реализация обязана выполнять
// операцию в рамках транзакции, переданной через контекст, если таковая
// имеется.
type Store interface {
	// Insert сохраняет новую сагу вместе с ее ассоциациями.
	Insert(ctx context.Context, entry *Entry) error

	// Load загружает сагу по идентификатору. Возвращает ErrNotFound,
	// если сага отсутствует.
	Load(ctx context.Context, id string) (*Entry, error)

	// Update обновляет состояние и ассоциации существующей саги.
	Update(ctx context.Context, entry *Entry) error

	// Delete удаляет сагу и все ее ассоциации.
	Delete(ctx context.Context, id string) error

	// FindByAssociation возвращает идентификаторы саг указанного типа,
	// связанных с данной ассоциацией.
	FindByAssociation(ctx context.Context, sagaType string, association AssociationValue) ([]string, error)
}
