package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMerchantName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Woolworths", "Woolworths"},
		{"EFTPOS WOOLWORTHS 1234 SYDNEY", "WOOLWORTHS"},
		{"VISA PURCHASE NETFLIX.COM 4455 AUS", "NETFLIX.COM"},
		{"Direct Debit Origin Energy", "Origin Energy"},
		{"SQ *BLUE BOTTLE CAFE", "BLUE BOTTLE CAFE"},
		{"12345", "12345"},
		{"   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, MerchantName(tt.in))
		})
	}
}

func TestMerchantKey(t *testing.T) {
	assert.Equal(t, "Netflix", RawTransaction{Description: "NETFLIX.COM", Merchant: "Netflix"}.MerchantKey())
	assert.Equal(t, "NETFLIX.COM", RawTransaction{Description: "NETFLIX.COM"}.MerchantKey())
}
