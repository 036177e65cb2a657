package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-strangler/internal/errors"
	"nifty-strangler/pkg/utils"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, utils.IndiaLocation)
}

func TestTargetExpiry(t *testing.T) {
	today := time.Date(2026, 1, 6, 11, 0, 0, 0, utils.IndiaLocation)

	tests := []struct {
		name     string
		expiries []time.Time
		want     time.Time
	}{
		{"nearest within target", []time.Time{day(2026, 1, 20), day(2026, 1, 13)}, day(2026, 1, 13)},
		{"nearest exactly at target", []time.Time{day(2026, 1, 20), day(2026, 1, 27)}, day(2026, 1, 20)},
		{"nearest beyond target rolls to next", []time.Time{day(2026, 1, 27), day(2026, 2, 3)}, day(2026, 2, 3)},
		{"single expiry beyond target", []time.Time{day(2026, 1, 27)}, day(2026, 1, 27)},
		{"expired series ignored", []time.Time{day(2026, 1, 5), day(2026, 1, 13)}, day(2026, 1, 13)},
		{"expiry day counts", []time.Time{day(2026, 1, 6), day(2026, 1, 13)}, day(2026, 1, 6)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TargetExpiry(tt.expiries, today, 14)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}

	_, err := TargetExpiry([]time.Time{day(2026, 1, 1)}, today, 14)
	assert.True(t, errors.Is(err, errors.ErrNoExpiry))
}

func TestIsMonthlyExpiry(t *testing.T) {
	assert.True(t, IsMonthlyExpiry(day(2026, 1, 27)))
	assert.True(t, IsMonthlyExpiry(day(2026, 1, 26)), "holiday-shifted Monday")
	assert.False(t, IsMonthlyExpiry(day(2026, 1, 20)))
	assert.True(t, IsMonthlyExpiry(day(2026, 3, 31)))
	assert.False(t, IsMonthlyExpiry(day(2026, 3, 24)))
}
