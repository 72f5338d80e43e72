package completion

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain array", `[{"a":1}]`, `[{"a":1}]`},
		{"fenced json", "```json\n[{\"a\":1}]\n```", `[{"a":1}]`},
		{"fenced bare", "```\n[1,2]\n```", `[1,2]`},
		{"prose around", "Here you go:\n[{\"a\":1}]\nHope it helps", `[{"a":1}]`},
		{"object", "```json\n{\"description\":\"x\",\"items\":[1]}\n```", `{"description":"x","items":[1]}`},
		{"array of objects", `  [{"a":{"b":2}}]  `, `[{"a":{"b":2}}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanJSON(tt.raw))
		})
	}
}

func TestDecodeArray(t *testing.T) {
	items, err := DecodeArray("```json\n[{\"date\":\"2024-07-26\"},{\"date\":\"2024-07-27\"}]\n```")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "2024-07-26", items[0]["date"])

	items, err = DecodeArray(`{"transactions":[{"date":"2024-07-26"}]}`)
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, err = DecodeArray("I could not find any transactions.")
	assert.ErrorIs(t, err, ErrMalformedResponse)

	_, err = DecodeArray(`[1, 2]`)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestDecodeObject(t *testing.T) {
	obj, err := DecodeObject("```json\n{\"description\":\"Westpac layout\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "Westpac layout", obj["description"])

	_, err = DecodeObject(`[]`)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestGetString(t *testing.T) {
	m := map[string]interface{}{"name": "  Netflix ", "empty": " ", "num": 3.0, "nil": nil}

	v, err := GetString(m, "name", true)
	require.NoError(t, err)
	assert.Equal(t, "Netflix", v)

	_, err = GetString(m, "empty", true)
	assert.Error(t, err)

	_, err = GetString(m, "missing", true)
	assert.Error(t, err)

	v, err = GetString(m, "nil", false)
	require.NoError(t, err)
	assert.Empty(t, v)

	_, err = GetString(m, "num", false)
	assert.Error(t, err)
}

func TestGetOptionalFloat64(t *testing.T) {
	m := map[string]interface{}{"lat": -33.86, "lng": "151.2", "none": nil, "bad": true}

	lat, err := GetOptionalFloat64(m, "lat")
	require.NoError(t, err)
	require.NotNil(t, lat)
	assert.InDelta(t, -33.86, *lat, 0.0001)

	lng, err := GetOptionalFloat64(m, "lng")
	require.NoError(t, err)
	require.NotNil(t, lng)
	assert.InDelta(t, 151.2, *lng, 0.0001)

	none, err := GetOptionalFloat64(m, "none")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = GetOptionalFloat64(m, "bad")
	assert.Error(t, err)
}

func TestGetDecimal(t *testing.T) {
	m := map[string]interface{}{"a": -50.0, "b": "$1,200.50", "c": "n/a", "d": false}

	a, err := GetDecimal(m, "a")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(-50).Equal(a))

	b, err := GetDecimal(m, "b")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1200.50").Equal(b))

	_, err = GetDecimal(m, "c")
	assert.Error(t, err)
	_, err = GetDecimal(m, "d")
	assert.Error(t, err)
	_, err = GetDecimal(m, "missing")
	assert.Error(t, err)
}
