package loan

import (
	"testing"
	"time"
)

func TestFeePolicy_LateFee(t *testing.T) {
	checkout := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	p := FeePolicy{RatePerDay: 3}

	tests := []struct {
		name     string
		at       time.Time
		loanDays int
		want     int
	}{
		{"同日", checkout.Add(time.Hour), 5, 0},
		{"期限内", checkout.Add(3 * 24 * time.Hour), 5, 0},
		{"期限ちょうど", checkout.Add(5 * 24 * time.Hour), 5, 0},
		{"2日延滞", checkout.Add(7 * 24 * time.Hour), 5, 6},
		{"24時間未満は切り捨て", checkout.Add(6*24*time.Hour + 23*time.Hour + 59*time.Minute), 5, 3},
		{"時計が巻き戻った場合", checkout.Add(-time.Hour), 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.LateFee(checkout, tt.at, tt.loanDays); got != tt.want {
				t.Errorf("LateFee = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFeePolicy_CustomRate(t *testing.T) {
	checkout := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	p := FeePolicy{RatePerDay: 10}

	if got := p.LateFee(checkout, checkout.Add(4*24*time.Hour), 1); got != 30 {
		t.Errorf("LateFee = %d, want 30", got)
	}
}

func TestDefaultFeePolicy(t *testing.T) {
	if got := DefaultFeePolicy().RatePerDay; got != 3 {
		t.Errorf("RatePerDay = %d, want 3", got)
	}
}

func TestElapsedDays(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := ElapsedDays(start, start.Add(47*time.Hour)); got != 1 {
		t.Errorf("ElapsedDays = %d, want 1", got)
	}
	if got := ElapsedDays(start, start.Add(-47*time.Hour)); got != 0 {
		t.Errorf("ElapsedDays = %d, want 0", got)
	}
}
