package meadow

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEcs_AddEntity(t *testing.T) {
	type Label struct{ x string }

	ecs := MakeEcs()
	empty := ecs.addEntity()
	labelled := ecs.addEntity(Label{x: "test"})

	require.True(t, ecs.hasEntity(empty))
	require.True(t, ecs.hasEntity(labelled))
	assert.NotEqual(t, ecs.entityIndex[empty], ecs.entityIndex[labelled], "different components share an archetype")
	assert.Equal(t, 2, ecs.count())
}

func TestEcs_AddComponents(t *testing.T) {
	type C0 struct{ a int }
	type C1 struct{ x string }
	type C2 struct{ y string }

	ecs := MakeEcs()
	id := ecs.addEntity(C0{a: 1337})
	ecs.addComponents(id, C1{x: "test"}, &C2{y: "hello"})

	arch := ecs.archetypes[ecs.entityIndex[id]]
	require.Len(t, arch.componentData, 3)
	r := arch.entities[id]
	assert.Equal(t, C0{a: 1337}, arch.componentData[componentIdOf[C0](&ecs)].([]C0)[r])
	assert.Equal(t, C2{y: "hello"}, arch.componentData[componentIdOf[C2](&ecs)].([]C2)[r])
}

func TestEcs_AddExistingComponentOverwrites(t *testing.T) {
	type Position struct{ X float32 }

	ecs := MakeEcs()
	id := ecs.addEntity(Position{X: 1})
	before := ecs.entityIndex[id]
	ecs.addComponents(id, Position{X: 2})

	require.Equal(t, before, ecs.entityIndex[id])
	arch := ecs.archetypes[before]
	assert.Equal(t, float32(2), arch.componentData[componentIdOf[Position](&ecs)].([]Position)[arch.entities[id]].X)
}

func TestEcs_RemoveComponents(t *testing.T) {
	type Position struct{ X, Y float64 }
	type Velocity struct{ X, Y float64 }

	ecs := MakeEcs()
	id := ecs.addEntity(Position{1, 2}, Velocity{3, 4})
	ecs.removeComponents(id, Velocity{})

	arch := ecs.archetypes[ecs.entityIndex[id]]
	require.Len(t, arch.key, 1)
	assert.Equal(t, Position{1, 2}, arch.componentData[componentIdOf[Position](&ecs)].([]Position)[arch.entities[id]])
}

func TestEcs_AddInvalidComponentShouldPanic(t *testing.T) {
	ecs := MakeEcs()
	assert.Panics(t, func() { ecs.addEntity(123) })
}

func TestEcs_ComponentRegistration(t *testing.T) {
	type Position struct{ x, y float64 }

	ecs := MakeEcs()
	id1 := ecs.getComponentId(reflect.TypeOf(Position{}))
	id2 := ecs.getComponentId(reflect.TypeOf(Position{}))

	assert.Equal(t, id1, id2)
	assert.Equal(t, reflect.TypeOf(Position{}), ecs.componentIdTypeMap[id1])
}

func TestEcs_ArchetypeKeyIsSortedAndUnique(t *testing.T) {
	assert.Equal(t, archetypeKey{1, 2, 3}, dedupAndSortArchetypeKey(archetypeKey{3, 1, 2, 1, 3}))
	assert.Equal(t, getArchetypeId(archetypeKey{1, 2}), getArchetypeId(archetypeKey{1, 2}))
	assert.NotEqual(t, getArchetypeId(archetypeKey{1, 2}), getArchetypeId(archetypeKey{2}))
}

func TestEcs_RemoveEntityRecyclesRow(t *testing.T) {
	type Position struct{ X, Y float64 }

	ecs := MakeEcs()
	first := ecs.addEntity(Position{1, 2})
	arch := ecs.archetypes[ecs.entityIndex[first]]
	r := arch.entities[first]

	ecs.removeEntity(first)
	require.False(t, ecs.hasEntity(first))
	assert.Equal(t, Position{}, arch.componentData[componentIdOf[Position](&ecs)].([]Position)[r])

	second := ecs.addEntity(Position{5, 6})
	assert.Equal(t, r, arch.entities[second])
	assert.Equal(t, 1, reflect.ValueOf(arch.componentData[componentIdOf[Position](&ecs)]).Len())
}
