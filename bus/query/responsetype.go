package query

import (
	"github.com/goccy/go-reflect"
)

// Expectation описывает кардинальность ожидаемого ответа на запрос.
type Expectation int

const (
	// ExpectInstance — ожидается ровно один экземпляр.
	ExpectInstance Expectation = iota
	// ExpectOptional — ожидается ноль или один экземпляр.
	ExpectOptional
	// ExpectMultiple — ожидается список экземпляров.
	ExpectMultiple
)

// ResponseType описывает ожидаемую форму ответа на запрос: тип элемента
// и кардинальность. Описание сериализуется отдельным кодеком, чтобы удаленная
// сторона могла восстановить эквивалентную форму ответа.
type ResponseType interface {
	// Matches сообщает, удовлетворяет ли указанный тип ожидаемой форме ответа.
	Matches(t reflect.Type) bool

	// ElementType возвращает тип элемента ответа. Для дескриптора,
	// восстановленного из сетевого представления, возвращает nil.
	ElementType() reflect.Type

	// ElementTypeName возвращает имя типа элемента ответа.
	ElementTypeName() string

	// Expectation возвращает кардинальность ожидаемого ответа.
	Expectation() Expectation
}

// CompatibleResponseTypes сообщает, описывают ли два дескриптора совместимую
// форму ответа. Опциональный экземпляр на проводе представляется как обычный,
// поэтому кардинальности instance и optional считаются взаимозаменяемыми.
func CompatibleResponseTypes(a, b ResponseType) bool {
	if a.ElementTypeName() != b.ElementTypeName() {
		return false
	}
	if a.Expectation() == ExpectMultiple || b.Expectation() == ExpectMultiple {
		return a.Expectation() == b.Expectation()
	}
	return true
}

// typedResponseType — локально сконструированное описание формы ответа,
// несущее настоящий reflect.Type элемента.
type typedResponseType struct {
	elem        reflect.Type
	expectation Expectation
}

// InstanceOf создает описание ответа, ожидающего ровно один экземпляр типа T.
func InstanceOf[T any]() ResponseType {
	return typedResponseType{
		elem:        reflect.TypeOf((*T)(nil)).Elem(),
		expectation: ExpectInstance,
	}
}

// OptionalInstanceOf создает описание ответа, ожидающего ноль или один
// экземпляр типа T.
func OptionalInstanceOf[T any]() ResponseType {
	return typedResponseType{
		elem:        reflect.TypeOf((*T)(nil)).Elem(),
		expectation: ExpectOptional,
	}
}

// MultipleInstancesOf создает описание ответа, ожидающего список экземпляров
// типа T.
func MultipleInstancesOf[T any]() ResponseType {
	return typedResponseType{
		elem:        reflect.TypeOf((*T)(nil)).Elem(),
		expectation: ExpectMultiple,
	}
}

// Matches сравнивает тип с типом элемента.
func (r typedResponseType) Matches(t reflect.Type) bool {
	if t == nil {
		return false
	}
	return t == r.elem || t.String() == r.elem.String()
}

// ElementType возвращает тип элемента ответа.
func (r typedResponseType) ElementType() reflect.Type { return r.elem }

// ElementTypeName возвращает имя типа элемента ответа.
func (r typedResponseType) ElementTypeName() string { return r.elem.String() }

// Expectation возвращает кардинальность ожидаемого ответа.
func (r typedResponseType) Expectation() Expectation { return r.expectation }

// wireResponseType — описание формы ответа, восстановленное из сетевого
// дескриптора. Несет только имя типа элемента: сопоставление выполняется
// по именам типов.
type wireResponseType struct {
	elemName    string
	expectation Expectation
}

// Matches сравнивает имя типа с именем типа элемента.
func (r wireResponseType) Matches(t reflect.Type) bool {
	return t != nil && t.String() == r.elemName
}

// ElementType для сетевого дескриптора недоступен.
func (r wireResponseType) ElementType() reflect.Type { return nil }

// ElementTypeName возвращает имя типа элемента ответа.
func (r wireResponseType) ElementTypeName() string { return r.elemName }

// Expectation возвращает кардинальность ожидаемого ответа.
func (r wireResponseType) Expectation() Expectation { return r.expectation }
