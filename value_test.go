package styx

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/arbitrary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapOf(t testing.TB, kv ...Value) Map {
	m, err := MapOf(kv...)
	require.NoError(t, err)
	return m
}

func TestTotalOrder(t *testing.T) {
	ascending := []Value{
		Bool(false),
		Bool(true),
		Number(math.NaN()),
		Number(math.Inf(-1)),
		Number(-1),
		Number(0),
		Number(0.5),
		Number(1e300),
		Text(""),
		Text("a"),
		Text("ab"),
		Text("b"),
		Binary(nil),
		Binary{0},
		Binary{0, 1},
		Binary{1},
		List{},
		List{nil},
		List{Number(1)},
		List{Number(1), Number(2)},
		List{Number(2)},
		Map{},
		mapOf(t, Number(1), Text("x")),
		mapOf(t, Number(1), Text("y")),
		mapOf(t, Number(1), Text("y"), Number(2), Text("a")),
		mapOf(t, Number(2), Text("a")),
	}
	for i, a := range ascending {
		for j, b := range ascending {
			var want int
			switch {
			case i < j:
				want = -1
			case i > j:
				want = 1
			}
			assert.Equal(t, want, a.Compare(b), "%v vs %v", a, b)
		}
	}
}

func TestEmptyMapsAreEqual(t *testing.T) {
	assert.True(t, Equal(Map{}, Map{NewInMemory()}))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, Bool(false)))
}

func TestMapOfOdd(t *testing.T) {
	_, err := MapOf(Number(1))
	assert.Error(t, err)
}

func TestCompareAntisymmetric(t *testing.T) {
	t.Parallel()
	properties := gopter.NewProperties(defaultGopterParameters)
	arbitraries := arbitrary.DefaultArbitraries()

	properties.Property("numbers", arbitraries.ForAll(
		func(a, b float64) bool {
			return Number(a).Compare(Number(b)) == -Number(b).Compare(Number(a))
		}))
	properties.Property("texts", arbitraries.ForAll(
		func(a, b string) bool {
			return Text(a).Compare(Text(b)) == -Text(b).Compare(Text(a))
		}))
	properties.Property("lists of numbers", arbitraries.ForAll(
		func(a, b []int32) bool {
			la, lb := make(List, len(a)), make(List, len(b))
			for i := range a {
				la[i] = Number(a[i])
			}
			for i := range b {
				lb[i] = Number(b[i])
			}
			return la.Compare(lb) == -lb.Compare(la)
		}))
	properties.TestingRun(t)
}
