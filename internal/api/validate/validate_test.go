package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhone(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantMsg string
	}{
		{
			name: "valid phone",
			raw:  "254708374149",
			want: "254708374149",
		},
		{
			name: "valid with formatting characters",
			raw:  "+254 708-374-149",
			want: "254708374149",
		},
		{
			name: "valid 2541 prefix",
			raw:  "254110374149",
			want: "254110374149",
		},
		{
			name:    "empty",
			raw:     "",
			wantMsg: "phone number is required",
		},
		{
			name:    "wrong country prefix",
			raw:     "123708374149",
			wantMsg: "phone number must start with 254",
		},
		{
			name:    "too short",
			raw:     "25470837414",
			wantMsg: "phone number must be 12 digits (254XXXXXXXXX)",
		},
		{
			name:    "too long",
			raw:     "2547083741499",
			wantMsg: "phone number must be 12 digits (254XXXXXXXXX)",
		},
		{
			name:    "wrong carrier prefix",
			raw:     "254208374149",
			wantMsg: "phone number must be a valid Safaricom number",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Phone(tt.raw)
			if tt.wantMsg != "" {
				require.Error(t, err)
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, tt.wantMsg, ve.Msg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAmount(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		want    float64
		wantMsg string
	}{
		{name: "valid number", raw: float64(100), want: 100},
		{name: "valid numeric string", raw: "100", want: 100},
		{name: "lower bound inclusive", raw: float64(1), want: 1},
		{name: "upper bound inclusive", raw: float64(70000), want: 70000},
		{name: "below minimum", raw: float64(0), wantMsg: "amount must be at least 1 KES"},
		{name: "negative", raw: float64(-10), wantMsg: "amount must be at least 1 KES"},
		{name: "above maximum", raw: float64(70001), wantMsg: "amount cannot exceed 70000 KES"},
		{name: "non-numeric string", raw: "invalid", wantMsg: "invalid amount format"},
		{name: "wrong type", raw: []string{"100"}, wantMsg: "invalid amount format"},
		{name: "missing", raw: nil, wantMsg: "amount is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Amount(tt.raw, 1, 70000)
			if tt.wantMsg != "" {
				require.Error(t, err)
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, tt.wantMsg, ve.Msg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
