package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatMAD(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0,00\u00a0MAD"},
		{"100", "100,00\u00a0MAD"},
		{"1234.5", "1\u202f234,50\u00a0MAD"},
		{"1234567.891", "1\u202f234\u202f567,89\u00a0MAD"},
		{"-12.345", "-12,35\u00a0MAD"},
		{"-0.001", "0,00\u00a0MAD"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatMAD(decimal.RequireFromString(tt.in)))
		})
	}
}
