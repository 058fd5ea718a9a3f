package meadow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuery2_Map(t *testing.T) {
	type Comp1 struct{ a int }
	type Comp2 struct{ b float32 }
	type Comp3 struct{}

	ecs := MakeEcs()
	ecs.addEntity(Comp1{a: 1})
	id2 := ecs.addEntity(Comp1{a: 2}, Comp2{b: 1.37})
	id3 := ecs.addEntity(Comp1{a: 3}, Comp2{b: 4.20}, Comp3{})
	ecs.addEntity(Comp1{a: 4}, Comp3{})
	ecs.addEntity(Comp2{b: 3.14})

	got := map[EntityId]int{}
	Query2[Comp1, Comp2]{ecs: &ecs}.Map(func(eid EntityId, c1 *Comp1, c2 *Comp2) bool {
		got[eid] = c1.a
		return true
	})

	assert.Equal(t, map[EntityId]int{id2: 2, id3: 3}, got)
}

func TestQuery1_MapWritesThrough(t *testing.T) {
	type Counter struct{ n int }

	ecs := MakeEcs()
	id := ecs.addEntity(Counter{n: 1})
	q := Query1[Counter]{ecs: &ecs}
	q.Map(func(_ EntityId, c *Counter) bool {
		c.n++
		return true
	})

	arch := ecs.archetypes[ecs.entityIndex[id]]
	assert.Equal(t, 2, arch.componentData[componentIdOf[Counter](&ecs)].([]Counter)[arch.entities[id]].n)
}

func TestQuery_MapOptionals(t *testing.T) {
	type Required struct{ a int }
	type Maybe struct{ b int }

	ecs := MakeEcs()
	ecs.addEntity(Required{a: 1})
	ecs.addEntity(Required{a: 2}, Maybe{b: 7})

	seen := map[int]*Maybe{}
	Query2[Required, Maybe]{ecs: &ecs}.Map(func(_ EntityId, r *Required, m *Maybe) bool {
		seen[r.a] = m
		return true
	}, Maybe{})

	assert.Len(t, seen, 2)
	assert.Nil(t, seen[1])
	if assert.NotNil(t, seen[2]) {
		assert.Equal(t, 7, seen[2].b)
	}
}

func TestQuery3_MapStopsEarly(t *testing.T) {
	type A struct{}
	type B struct{}
	type C struct{}

	ecs := MakeEcs()
	for i := 0; i < 5; i++ {
		ecs.addEntity(A{}, B{}, C{})
	}

	calls := 0
	Query3[A, B, C]{ecs: &ecs}.Map(func(EntityId, *A, *B, *C) bool {
		calls++
		return calls < 2
	})
	assert.Equal(t, 2, calls)
}
