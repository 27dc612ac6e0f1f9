package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"12.34", "12.34", false},
		{"12,34", "12.34", false},
		{" 7 ", "7", false},
		{"-3.5", "-3.5", false},
		{"", "", true},
		{"abc", "", true},
		{"1.2.3", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestAmount_ExactArithmetic(t *testing.T) {
	sum := MustAmount("0.1").Add(MustAmount("0.2"))
	assert.True(t, sum.Equal(MustAmount("0.3")))
	assert.True(t, MustAmount("0.3").Sub(sum).IsZero())
	assert.True(t, AmountFromCents(1050).Equal(MustAmount("10.5")))
}

func TestAmount_JSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Total Amount `json:"total"`
	}{MustAmount("100.50")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total": 100.5}`, string(b))

	var v struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
		C Amount `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 12.5, "b": "40.00", "c": null}`), &v))
	assert.True(t, v.A.Equal(MustAmount("12.5")))
	assert.True(t, v.B.Equal(MustAmount("40")))
	assert.True(t, v.C.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`{"a": "twelve"}`), &v))
}

func TestAmount_Display(t *testing.T) {
	assert.Equal(t, "€100.00", MustAmount("100").Display("EUR"))
	assert.Equal(t, "$0.35", MustAmount("0.345").Display("USD"))
	assert.Equal(t, "1.50 XXZ", MustAmount("1.5").Display("XXZ"))
	assert.True(t, KnownCurrency("EUR"))
	assert.False(t, KnownCurrency("XXZ"))
}
