package types

import (
	"strings"

	"github.com/shopspring/decimal"
)

const DefaultCurrencyPrecision int32 = 2

// currencyPrecision lists currencies whose minor unit is not cents.
// Keys are lowercase ISO 4217 codes.
var currencyPrecision = map[string]int32{
	"jpy": 0,
	"krw": 0,
	"vnd": 0,
	"clp": 0,
	"kwd": 3,
	"bhd": 3,
	"omr": 3,
}

// GetCurrencyPrecision returns the number of decimals a currency is charged in
func GetCurrencyPrecision(currency string) int32 {
	if p, ok := currencyPrecision[strings.ToLower(currency)]; ok {
		return p
	}
	return DefaultCurrencyPrecision
}

// RoundToCurrencyPrecision rounds half up to the currency's precision
func RoundToCurrencyPrecision(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(GetCurrencyPrecision(currency))
}
