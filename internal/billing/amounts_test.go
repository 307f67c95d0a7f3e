package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeUsesConfiguredTotal(t *testing.T) {
	p := Pricing{
		BaseCents:        10000,
		IVAPercent:       21,
		RetentionPercent: 7,
		TotalCents:       11400,
	}
	a := p.Compute()

	assert.Equal(t, int64(10000), a.Base)
	assert.Equal(t, int64(2100), a.IVA)
	assert.Equal(t, int64(700), a.Ret)
	// Total comes from configuration, never from re-adding the lines.
	assert.Equal(t, int64(11400), a.Total)
}

func TestComputeZeroRetention(t *testing.T) {
	p := Pricing{BaseCents: 5000, IVAPercent: 21, RetentionPercent: 0, TotalCents: 6050}
	a := p.Compute()

	assert.Equal(t, int64(1050), a.IVA)
	assert.Zero(t, a.Ret)
	assert.Equal(t, int64(6050), a.Total)
}

func TestComputeRoundsHalfUp(t *testing.T) {
	// 21% of 33 cents is 6.93, rounds to 7.
	p := Pricing{BaseCents: 33, IVAPercent: 21}
	assert.Equal(t, int64(7), p.Compute().IVA)
}

func TestFormatEuros(t *testing.T) {
	tests := []struct {
		name  string
		cents int64
		want  string
	}{
		{"typical", 14820, "148.20"},
		{"whole euros", 10000, "100.00"},
		{"single cent", 1, "0.01"},
		{"zero", 0, "0.00"},
		{"negative", -250, "-2.50"},
		{"sub-euro", 99, "0.99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatEuros(tt.cents))
		})
	}
}
