package earnings

import (
	"strings"
)

// approxUSDRates are rough per-USD rates for display only. They are not used
// for any stored amount.
var approxUSDRates = map[string]float64{
	"usd": 1.0,
	"eur": 0.92,
	"gbp": 0.79,
	"cad": 1.36,
	"aud": 1.52,
	"chf": 0.88,
}

// DisplayAmount is an approximate conversion of a minor-unit amount.
type DisplayAmount struct {
	Currency    string `json:"currency"`
	AmountCents int64  `json:"amountCents"`
	Approximate bool   `json:"approximate"`
}

// ConvertApprox converts cents between currencies with static rates.
// Unknown currencies are returned unchanged and ok is false.
func ConvertApprox(cents int64, from, to string) (DisplayAmount, bool) {
	from, to = strings.ToLower(from), strings.ToLower(to)
	if from == to {
		return DisplayAmount{Currency: to, AmountCents: cents}, true
	}
	fromRate, ok1 := approxUSDRates[from]
	toRate, ok2 := approxUSDRates[to]
	if !ok1 || !ok2 {
		return DisplayAmount{Currency: from, AmountCents: cents}, false
	}
	usd := float64(cents) / fromRate
	return DisplayAmount{Currency: to, AmountCents: int64(usd*toRate + 0.5), Approximate: true}, true
}
