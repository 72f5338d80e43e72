package domain

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// RawTransaction is one transaction as extracted from a statement, before
// enrichment. Amount is signed: debits are negative, credits positive,
// whatever the source layout was.
type RawTransaction struct {
	Date        civil.Date      `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Merchant    string          `json:"merchant"`
}

// MerchantKey is the cache key used for enrichment lookups.
// Falls back to the description when no merchant was extracted.
func (t RawTransaction) MerchantKey() string {
	if t.Merchant != "" {
		return t.Merchant
	}
	return t.Description
}

// EnrichedTransaction is a RawTransaction plus merchant metadata.
// Enriched is false when the enrichment step passed the row through untouched.
type EnrichedTransaction struct {
	RawTransaction

	BusinessName        string   `json:"businessName,omitempty"`
	MerchantType        string   `json:"merchantType,omitempty"`
	Location            string   `json:"location,omitempty"`
	MerchantDescription string   `json:"merchantDescription,omitempty"`
	Category            string   `json:"category,omitempty"`
	Latitude            *float64 `json:"latitude,omitempty"`
	Longitude           *float64 `json:"longitude,omitempty"`
	Enriched            bool     `json:"enriched"`
}

// PassThrough wraps raw transactions without any enrichment.
func PassThrough(txs []RawTransaction) []EnrichedTransaction {
	out := make([]EnrichedTransaction, len(txs))
	for i, tx := range txs {
		out[i] = EnrichedTransaction{RawTransaction: tx}
	}
	return out
}
