package value

import (
	"encoding/json"
	"testing"

	"github.com/cuemby/datahost/pkg/path"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareFollowsDtypeOrdering(t *testing.T) {
	cmp, err := Compare(Int64(-3), Int64(7))
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)

	cmp, err = Compare(Uint64(9), Uint64(9))
	require.NoError(t, err)
	assert.Equal(t, 0, cmp)

	cmp, err = Compare(String("b"), String("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, cmp)

	cmp, err = Compare(Bytes([]byte{1, 2}), Bytes([]byte{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)
}

func TestCompareRejectsMixedKinds(t *testing.T) {
	_, err := Compare(Int64(1), String("1"))
	assert.Error(t, err)
}

func TestCompareRejectsUnorderableKinds(t *testing.T) {
	_, err := Compare(Tuple(Int64(1)), Tuple(Int64(1)))
	assert.Error(t, err)
}

func TestEqualDescendsIntoTuplesAndMaps(t *testing.T) {
	a := Tuple(Int64(1), String("x"))
	assert.True(t, Equal(a, Tuple(Int64(1), String("x"))))
	assert.False(t, Equal(a, Tuple(Int64(1), String("y"))))

	m := Map(MapEntry{Key: "k", Value: Int64(1)})
	assert.True(t, Equal(m, Map(MapEntry{Key: "k", Value: Int64(1)})))
	assert.False(t, Equal(m, Map(MapEntry{Key: "k", Value: Int64(2)})))
}

func TestHashIsStableForEqualValues(t *testing.T) {
	a := Tuple(Int64(1), String("x"), Bytes([]byte{0xff}))
	b := Tuple(Int64(1), String("x"), Bytes([]byte{0xff}))
	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), Tuple(Int64(2)).Hash())
}

func TestHashIgnoresMapEntryOrder(t *testing.T) {
	a := Map(MapEntry{Key: "x", Value: Int64(1)}, MapEntry{Key: "y", Value: Int64(2)})
	b := Map(MapEntry{Key: "y", Value: Int64(2)}, MapEntry{Key: "x", Value: Int64(1)})
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestJSONRoundTripPreservesKindAndValue(t *testing.T) {
	cases := []Value{
		None(),
		Int8(-5),
		Int64(1 << 40),
		Uint64(1 << 63),
		Float64(2.5),
		Complex128(complex(1, -2)),
		Bool(true),
		Bytes([]byte{0, 1, 2}),
		String("hello"),
		ID("ident"),
		NewLink(path.NewLink(path.Path{"a", "b"})),
		Tuple(Int64(1), String("x")),
	}
	for _, in := range cases {
		data, err := json.Marshal(in)
		require.NoError(t, err, "marshalling %s", in)

		var out Value
		require.NoError(t, json.Unmarshal(data, &out), "unmarshalling %s", data)
		assert.True(t, Equal(in, out), "round trip of %s gave %s", in, out)
	}
}

func TestUnmarshalRejectsUnknownKind(t *testing.T) {
	var v Value
	err := json.Unmarshal([]byte(`{"kind":"quaternion","value":1}`), &v)
	assert.Error(t, err)
}

func TestZeroMatchesDtype(t *testing.T) {
	assert.True(t, Equal(Zero(KindUint64), Uint64(0)))
	assert.True(t, Equal(Zero(KindFloat32), Float32(0)))
	assert.True(t, Zero(KindString).IsNone())
}

func TestParseAsRecoversTypedKeySegments(t *testing.T) {
	v, err := ParseAs(KindInt64, "-42")
	require.NoError(t, err)
	assert.True(t, Equal(v, Int64(-42)))

	v, err = ParseAs(KindBool, "true")
	require.NoError(t, err)
	assert.True(t, Equal(v, Bool(true)))

	_, err = ParseAs(KindUint8, "300")
	assert.Error(t, err)
}
