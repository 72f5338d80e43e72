package bigquery

import (
	"testing"

	"github.com/dvloznov/statement-pipeline/internal/formats"
	"github.com/stretchr/testify/assert"
)

func TestLostInsert(t *testing.T) {
	tests := []struct {
		name   string
		winner *formats.LearnedFormat
		want   bool
	}{
		{"own row is earliest", &formats.LearnedFormat{ID: "f-mine", Fingerprint: "fp"}, false},
		{"concurrent row is earliest", &formats.LearnedFormat{ID: "f-other", Fingerprint: "fp"}, true},
		{"row not visible yet", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lostInsert("f-mine", tt.winner))
		})
	}
}
