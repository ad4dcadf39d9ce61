package styx

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/arbitrary"
	"github.com/leanovate/gopter/gen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffToMidpoint(t *testing.T) {
	t.Parallel()
	properties := gopter.NewProperties(defaultGopterParameters)
	arbitraries := arbitrary.DefaultArbitraries()
	arbitraries.RegisterGen(gen.UIntRange(0, 200))

	properties.Property("diff midpoint to endpoint",
		arbitraries.ForAll(
			func(midpointOps []TestOperation, endpointOps []TestOperation) bool {
				old, expectedOld := apply(t, NewInMemory(), nil, midpointOps)
				updated, expectedNew := apply(t, old, expectedOld, endpointOps)
				return checkDiff(t, updated, old, expectedNew, expectedOld)
			}))
	properties.TestingRun(t)
}

func checkDiff(t *testing.T, newMap, oldMap SortedMap, expectedNew, expectedOld map[uint]uint) bool {
	replayed := make(map[uint]uint, len(expectedOld))
	for k, v := range expectedOld {
		replayed[k] = v
	}
	err := Diff(newMap, oldMap, func(added, removed bool, key, addedValue, removedValue Value) (bool, error) {
		k := uint(key.(Number))
		if removed {
			assert.Equal(t, Number(replayed[k]), removedValue)
			delete(replayed, k)
		}
		if added {
			replayed[k] = uint(addedValue.(Number))
		}
		return true, nil
	})
	require.NoError(t, err)
	return assert.Equal(t, expectedNew, replayed)
}

func TestDiffStops(t *testing.T) {
	calls := 0
	err := Diff(numbers(t, 1, 2, 3), nil, func(added, removed bool, key, addedValue, removedValue Value) (bool, error) {
		calls++
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDiffUnchanged(t *testing.T) {
	m := numbers(t, 1, 2, 3)
	err := Diff(m, put(t, m, Number(2), Text("2")), func(added, removed bool, key, addedValue, removedValue Value) (bool, error) {
		t.Errorf("unexpected difference at %v", key)
		return true, nil
	})
	require.NoError(t, err)
}
