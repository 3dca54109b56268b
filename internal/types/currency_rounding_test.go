package types

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCurrencyRounding(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		expected string
	}{
		{"USD rounds half up", "10.275", "usd", "10.28"},
		{"USD already rounded", "49.99", "USD", "49.99"},
		{"EUR truncates down", "10.274", "eur", "10.27"},
		{"INR", "99.995", "inr", "100"},
		{"JPY whole units", "1000.5", "jpy", "1001"},
		{"KRW", "1234.4", "KRW", "1234"},
		{"KWD three decimals", "12.3455", "kwd", "12.346"},
		{"unknown uses cents", "5.555", "xyz", "5.56"},
		{"negative", "-0.005", "usd", "-0.01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rounded := RoundToCurrencyPrecision(decimal.RequireFromString(tt.amount), tt.currency)
			assert.True(t, decimal.RequireFromString(tt.expected).Equal(rounded),
				"expected %s, got %s", tt.expected, rounded.String())
		})
	}
}

func TestCurrencyRounding_PrecisionConfig(t *testing.T) {
	for _, currency := range []string{"usd", "eur", "gbp", "inr", "sgd", "aud", "cad"} {
		assert.Equal(t, int32(2), GetCurrencyPrecision(currency), currency)
	}
	for _, currency := range []string{"jpy", "krw", "vnd", "clp", "JPY"} {
		assert.Equal(t, int32(0), GetCurrencyPrecision(currency), currency)
	}
	assert.Equal(t, int32(3), GetCurrencyPrecision("BHD"))
	assert.Equal(t, DefaultCurrencyPrecision, GetCurrencyPrecision(""))
}

func TestCurrencyRounding_Idempotent(t *testing.T) {
	once := RoundToCurrencyPrecision(decimal.RequireFromString("10.12345"), "usd")
	twice := RoundToCurrencyPrecision(once, "usd")
	assert.True(t, once.Equal(twice))
	assert.Equal(t, "10.12", once.String())
}
