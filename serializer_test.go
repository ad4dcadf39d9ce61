package styx

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/arbitrary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var serializers = map[string]Serializer{
	"text":  TextSerializer{},
	"proto": ProtoSerializer{},
}

// randomValue builds a value of bounded depth from r.
func randomValue(r *rand.Rand, depth int) Value {
	kinds := 4
	if depth > 0 {
		kinds = 6
	}
	switch r.Intn(kinds) {
	case 0:
		return Bool(r.Intn(2) == 1)
	case 1:
		if r.Intn(2) == 0 {
			return Number(r.Int31() - r.Int31())
		}
		return Number(r.NormFloat64() * 1e6)
	case 2:
		b := make([]byte, r.Intn(12))
		for i := range b {
			b[i] = byte('a' + r.Intn(26))
		}
		return Text(b)
	case 3:
		b := make([]byte, r.Intn(12))
		r.Read(b)
		return Binary(b)
	case 4:
		l := make(List, r.Intn(4))
		for i := range l {
			l[i] = randomValue(r, depth-1)
		}
		return l
	default:
		var m SortedMap = NewInMemory()
		for i := r.Intn(4); i > 0; i-- {
			var err error
			m, err = m.Put(randomValue(r, depth-1), randomValue(r, depth-1))
			if err != nil {
				panic(err)
			}
		}
		return Map{m}
	}
}

func TestTextCanonical(t *testing.T) {
	for _, tc := range []struct {
		v    Value
		want string
	}{
		{List{Number(1), Number(2), Number(3), Number(4)}, "[1,2,3,4]"},
		{Bool(true), "true"},
		{nil, "null"},
		{Text("<a&b>"), `"<a&b>"`},
		{Number(0.25), "0.25"},
		{Binary("hi"), `{"$binary":"aGk="}`},
		{mapOf(t, Text("b"), Number(2), Text("a"), Number(1)), `{"a":1,"b":2}`},
		{mapOf(t, Number(1), Text("x")), `{"$map":[[1,"x"]]}`},
		{mapOf(t, Text("$binary"), Text("x")), `{"$map":[["$binary","x"]]}`},
	} {
		b, err := TextSerializer{}.Serialize(tc.v)
		require.NoError(t, err)
		assert.Equal(t, tc.want, string(b))
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	for name, ser := range serializers {
		ser := ser
		t.Run(name, func(t *testing.T) {
			properties := gopter.NewProperties(defaultGopterParameters)
			arbitraries := arbitrary.DefaultArbitraries()
			properties.Property("deserialize inverts serialize", arbitraries.ForAll(
				func(seed int64) bool {
					v := randomValue(rand.New(rand.NewSource(seed)), 3)
					b, err := ser.Serialize(v)
					if !assert.NoError(t, err) {
						return false
					}
					got, err := ser.Deserialize(b)
					if !assert.NoError(t, err) {
						return false
					}
					return assert.True(t, Equal(v, got), "%v != %v", v, got)
				}))
			properties.TestingRun(t)
		})
	}
}

func TestUnsupported(t *testing.T) {
	badKeys, err := MapOf(Text("\xff"), Number(1), Text("\xfe"), Number(2))
	require.NoError(t, err)
	for name, ser := range serializers {
		for _, v := range []Value{
			Number(math.NaN()),
			Number(math.Inf(1)),
			List{Number(math.Inf(-1))},
			Text("\xff"),
			Text("\xff\xff\xff\xff\xff\xff\xff\xff"),
			List{Text("ok"), Text("bad \xc3")},
			badKeys,
		} {
			_, err := ser.Serialize(v)
			assert.True(t, errors.Is(err, ErrUnsupportedValue), "%s: %v", name, v)
		}
	}
}

func TestTextMalformed(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"[1,2",
		"{",
		`{"$binary": 5}`,
		`{"$binary": "not base64!"}`,
		`{"$map": 3}`,
		`{"$map": [[1]]}`,
		`{"$map": [[null, 1]]}`,
	} {
		_, err := TextSerializer{}.Deserialize([]byte(in))
		assert.True(t, errors.Is(err, ErrMalformed), "%q: %v", in, err)
	}
}

func TestProtoMalformed(t *testing.T) {
	for _, in := range [][]byte{
		nil,
		{0xff, 0xff, 0xff},
	} {
		_, err := ProtoSerializer{}.Deserialize(in)
		assert.True(t, errors.Is(err, ErrMalformed), "%x: %v", in, err)
	}
}

func TestTextNullsInObjectsAreDropped(t *testing.T) {
	v, err := TextSerializer{}.Deserialize([]byte(`{"a":null,"b":[null]}`))
	require.NoError(t, err)
	m := v.(Map)
	n, err := Len(m)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	b, err := m.Get(Text("b"))
	require.NoError(t, err)
	assert.Equal(t, List{nil}, b)
}
