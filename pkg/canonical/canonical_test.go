package canonical

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeys(t *testing.T) {
	b, err := Marshal(map[string]any{"b": 1, "a": 2, "c": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1,"c":3}`, string(b))
}

func TestMarshalNested(t *testing.T) {
	v := map[string]any{
		"z": map[string]any{"y": "x", "a": []any{3, 2, 1}},
		"a": nil,
	}
	b, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":null,"z":{"a":[3,2,1],"y":"x"}}`, string(b))
}

func TestMarshalPreservesArrayOrder(t *testing.T) {
	b, err := Marshal([]any{"c", "b", "a"})
	require.NoError(t, err)
	assert.Equal(t, `["c","b","a"]`, string(b))
}

func TestMarshalNoHTMLEscaping(t *testing.T) {
	b, err := Marshal(map[string]string{"k": "<a>&</a>"})
	require.NoError(t, err)
	assert.Equal(t, `{"k":"<a>&</a>"}`, string(b))
}

func TestMarshalRespectsStructTags(t *testing.T) {
	type rec struct {
		B string `json:"beta"`
		A string `json:"alpha"`
	}
	b, err := Marshal(rec{B: "2", A: "1"})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"1","beta":"2"}`, string(b))
}

func TestHashStableAcrossKeyOrder(t *testing.T) {
	h1, err := Hash(json.RawMessage(`{"a":1,"b":2}`))
	require.NoError(t, err)
	h2, err := Hash(json.RawMessage(`{"b":2,"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHashBytes(t *testing.T) {
	// SHA-256 of the empty string is a fixed, well-known value.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashBytes(nil))
}

// Property: canonical form is stable under deep copy through a JSON
// round-trip, for arbitrarily shaped string maps.
func TestCanonicalizationStability(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("canonical(v) == canonical(deepcopy(v))", prop.ForAll(
		func(keys []string, values []string) bool {
			obj := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				obj[keys[i]] = values[i]
			}

			b1, err := Marshal(obj)
			if err != nil {
				return false
			}

			// Deep copy via JSON round-trip: key order information is lost.
			raw, err := json.Marshal(obj)
			if err != nil {
				return false
			}
			var copied map[string]any
			if err := json.Unmarshal(raw, &copied); err != nil {
				return false
			}

			b2, err := Marshal(copied)
			if err != nil {
				return false
			}
			return string(b1) == string(b2)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
