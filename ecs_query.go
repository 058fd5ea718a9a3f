package meadow

import (
	"reflect"
)

type Query1[A any] struct{ ecs *Ecs }
type Query2[A, B any] struct{ ecs *Ecs }
type Query3[A, B, C any] struct{ ecs *Ecs }

func MakeQuery1[A any](cmd *Commands) Query1[A]             { return Query1[A]{ecs: cmd.app.ecs} }
func MakeQuery2[A, B any](cmd *Commands) Query2[A, B]       { return Query2[A, B]{ecs: cmd.app.ecs} }
func MakeQuery3[A, B, C any](cmd *Commands) Query3[A, B, C] { return Query3[A, B, C]{ecs: cmd.app.ecs} }

// column is one component slice of an archetype. An optional component the
// archetype lacks has present == false and yields nil pointers.
type column[T any] struct {
	data    []T
	present bool
}

func (c column[T]) at(r row) *T {
	if !c.present {
		return nil
	}
	return &c.data[r]
}

// lookupColumn reports whether arch can serve a component with id, either
// because it stores it or because the caller marked it optional.
func lookupColumn[T any](arch *archetype, id componentId, optional set[componentId]) (column[T], bool) {
	if data, ok := arch.componentData[id]; ok {
		return column[T]{data: data.([]T), present: true}, true
	}
	if _, ok := optional[id]; ok {
		return column[T]{}, true
	}
	return column[T]{}, false
}

// Map calls m for every entity holding A, until m returns false. Components
// listed in optionals may be absent; m then receives nil for them.
func (q Query1[A]) Map(m func(EntityId, *A) bool, optionals ...any) {
	id1 := componentIdOf[A](q.ecs)
	opt := identifyOptionals(q.ecs, optionals...)

	for _, arch := range q.ecs.archetypes {
		a, ok := lookupColumn[A](arch, id1, opt)
		if !ok {
			continue
		}
		for eid, r := range arch.entities {
			if !m(eid, a.at(r)) {
				return
			}
		}
	}
}

func (q Query2[A, B]) Map(m func(EntityId, *A, *B) bool, optionals ...any) {
	id1, id2 := componentIdOf[A](q.ecs), componentIdOf[B](q.ecs)
	opt := identifyOptionals(q.ecs, optionals...)

	for _, arch := range q.ecs.archetypes {
		a, ok := lookupColumn[A](arch, id1, opt)
		if !ok {
			continue
		}
		b, ok := lookupColumn[B](arch, id2, opt)
		if !ok {
			continue
		}
		for eid, r := range arch.entities {
			if !m(eid, a.at(r), b.at(r)) {
				return
			}
		}
	}
}

func (q Query3[A, B, C]) Map(m func(EntityId, *A, *B, *C) bool, optionals ...any) {
	id1, id2, id3 := componentIdOf[A](q.ecs), componentIdOf[B](q.ecs), componentIdOf[C](q.ecs)
	opt := identifyOptionals(q.ecs, optionals...)

	for _, arch := range q.ecs.archetypes {
		a, ok := lookupColumn[A](arch, id1, opt)
		if !ok {
			continue
		}
		b, ok := lookupColumn[B](arch, id2, opt)
		if !ok {
			continue
		}
		c, ok := lookupColumn[C](arch, id3, opt)
		if !ok {
			continue
		}
		for eid, r := range arch.entities {
			if !m(eid, a.at(r), b.at(r), c.at(r)) {
				return
			}
		}
	}
}

func componentIdOf[T any](ecs *Ecs) componentId {
	return ecs.getComponentId(reflect.TypeOf((*T)(nil)).Elem())
}

func identifyOptionals(ecs *Ecs, optionals ...any) set[componentId] {
	res := make(set[componentId], len(optionals))
	for _, o := range optionals {
		res[ecs.getComponentId(componentType(o))] = struct{}{}
	}
	return res
}
