// Package naming отображает тип read-модели на имя коллекции хранилища.
//
// Имя коллекции должно быть стабильным все время жизни данных: смена отображения
// "осиротит" уже сохраненные коллекции.
package naming

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/akriventsev/readmodel/framework/core"
)

// ErrNameCollision код ошибки коллизии имен коллекций
const ErrNameCollision = "NAME_COLLISION"

// CollectionNamer отображает тип на имя коллекции. Реализации должны быть чистыми и детерминированными.
type CollectionNamer interface {
	NameFor(t reflect.Type) (string, error)
}

// NamerFunc адаптер функции к CollectionNamer
type NamerFunc func(t reflect.Type) (string, error)

// NameFor реализует CollectionNamer
func (f NamerFunc) NameFor(t reflect.Type) (string, error) {
	return f(t)
}

// Named возможность типа самому задавать имя своей коллекции
type Named interface {
	CollectionName() string
}

var namedType = reflect.TypeOf((*Named)(nil)).Elem()

// For возвращает имя коллекции для типа T
func For[T any](namer CollectionNamer) (string, error) {
	return namer.NameFor(reflect.TypeFor[T]())
}

// QualifiedNamer стратегия по умолчанию: полное имя типа "путь.пакета.Тип".
// Типы, реализующие Named, называют себя сами.
type QualifiedNamer struct {
	rewrites []rewrite
}

type rewrite struct {
	oldPrefix string
	newPrefix string
}

// QualifiedOption настройка QualifiedNamer
type QualifiedOption func(*QualifiedNamer)

// WithPrefixRewrite заменяет префикс полного имени. Нужен, чтобы имена коллекций
// не поменялись после переноса типов в другой пакет.
func WithPrefixRewrite(oldPrefix, newPrefix string) QualifiedOption {
	return func(n *QualifiedNamer) {
		n.rewrites = append(n.rewrites, rewrite{oldPrefix: oldPrefix, newPrefix: newPrefix})
	}
}

// NewQualifiedNamer создает QualifiedNamer
func NewQualifiedNamer(opts ...QualifiedOption) *QualifiedNamer {
	n := &QualifiedNamer{}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NameFor реализует CollectionNamer
func (n *QualifiedNamer) NameFor(t reflect.Type) (string, error) {
	if name, ok := selfNamed(t); ok {
		return name, validate(name)
	}

	base := baseType(t)
	if base.Name() == "" {
		return "", core.NewError(core.ErrInvalidArgument, fmt.Sprintf("cannot name anonymous type %s", t))
	}

	name := QualifiedName(base)
	for _, rw := range n.rewrites {
		if strings.HasPrefix(name, rw.oldPrefix) {
			name = rw.newPrefix + strings.TrimPrefix(name, rw.oldPrefix)
			break
		}
	}
	return name, validate(name)
}

// QualifiedName возвращает полное имя типа с точками вместо слешей в пути пакета
func QualifiedName(t reflect.Type) string {
	t = baseType(t)
	pkg := strings.ReplaceAll(t.PkgPath(), "/", ".")
	if pkg == "" {
		return t.Name()
	}
	return pkg + "." + t.Name()
}

// ShortNamer использует только имя типа с необязательным префиксом.
// Подходит для тестов, где коллекции нужно изолировать префиксом.
type ShortNamer struct {
	Prefix string
}

// NameFor реализует CollectionNamer
func (n ShortNamer) NameFor(t reflect.Type) (string, error) {
	if name, ok := selfNamed(t); ok {
		return n.Prefix + name, validate(n.Prefix + name)
	}

	base := baseType(t)
	if base.Name() == "" {
		return "", core.NewError(core.ErrInvalidArgument, fmt.Sprintf("cannot name anonymous type %s", t))
	}
	name := n.Prefix + base.Name()
	return name, validate(name)
}

// Registry явное отображение тип -> имя коллекции
type Registry struct {
	mu       sync.RWMutex
	names    map[reflect.Type]string
	owners   map[string]reflect.Type
	fallback CollectionNamer
}

// NewRegistry создает реестр. fallback используется для незарегистрированных типов (может быть nil).
func NewRegistry(fallback CollectionNamer) *Registry {
	return &Registry{
		names:    make(map[reflect.Type]string),
		owners:   make(map[string]reflect.Type),
		fallback: fallback,
	}
}

// Register регистрирует имя коллекции для типа
func (r *Registry) Register(t reflect.Type, name string) error {
	if err := validate(name); err != nil {
		return err
	}
	t = baseType(t)

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, exists := r.owners[name]; exists && owner != t {
		return core.NewError(ErrNameCollision,
			fmt.Sprintf("collection %q already registered for %s", name, owner))
	}
	if existing, exists := r.names[t]; exists && existing != name {
		return core.NewError(core.ErrAlreadyExists,
			fmt.Sprintf("type %s already registered as %q", t, existing))
	}

	r.names[t] = name
	r.owners[name] = t
	return nil
}

// Register регистрирует имя коллекции для типа T
func Register[T any](r *Registry, name string) error {
	return r.Register(reflect.TypeFor[T](), name)
}

// NameFor реализует CollectionNamer
func (r *Registry) NameFor(t reflect.Type) (string, error) {
	r.mu.RLock()
	name, ok := r.names[baseType(t)]
	r.mu.RUnlock()
	if ok {
		return name, nil
	}
	if r.fallback == nil {
		return "", core.NewError(core.ErrNotFound, fmt.Sprintf("no collection registered for %s", t))
	}
	return r.fallback.NameFor(t)
}

// GuardedNamer запоминает разрешенные имена и не допускает двух типов на одной коллекции
type GuardedNamer struct {
	inner  CollectionNamer
	mu     sync.RWMutex
	names  map[reflect.Type]string
	owners map[string]reflect.Type
}

// Guard оборачивает namer проверкой коллизий
func Guard(inner CollectionNamer) *GuardedNamer {
	if g, ok := inner.(*GuardedNamer); ok {
		return g
	}
	return &GuardedNamer{
		inner:  inner,
		names:  make(map[reflect.Type]string),
		owners: make(map[string]reflect.Type),
	}
}

// NameFor реализует CollectionNamer
func (g *GuardedNamer) NameFor(t reflect.Type) (string, error) {
	t = baseType(t)

	g.mu.RLock()
	name, ok := g.names[t]
	g.mu.RUnlock()
	if ok {
		return name, nil
	}

	name, err := g.inner.NameFor(t)
	if err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if owner, exists := g.owners[name]; exists && owner != t {
		return "", core.NewError(ErrNameCollision,
			fmt.Sprintf("types %s and %s both map to collection %q", owner, t, name))
	}
	g.names[t] = name
	g.owners[name] = t
	return name, nil
}

// Default возвращает стратегию по умолчанию с защитой от коллизий
func Default() CollectionNamer {
	return Guard(NewQualifiedNamer())
}

func baseType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func selfNamed(t reflect.Type) (string, bool) {
	base := baseType(t)
	for _, candidate := range []reflect.Type{base, reflect.PointerTo(base)} {
		if candidate.Implements(namedType) {
			var v reflect.Value
			if candidate.Kind() == reflect.Pointer {
				v = reflect.New(candidate.Elem())
			} else {
				v = reflect.Zero(candidate)
			}
			return v.Interface().(Named).CollectionName(), true
		}
	}
	return "", false
}

// validate проверяет ограничения MongoDB на имя коллекции
func validate(name string) error {
	switch {
	case name == "":
		return core.NewError(core.ErrInvalidArgument, "collection name cannot be empty")
	case strings.ContainsAny(name, "$\x00"):
		return core.NewError(core.ErrInvalidArgument, fmt.Sprintf("collection name %q contains forbidden characters", name))
	case strings.HasPrefix(name, "system."):
		return core.NewError(core.ErrInvalidArgument, fmt.Sprintf("collection name %q uses reserved prefix", name))
	}
	return nil
}
