package capital

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-strangler/internal/errors"
	"nifty-strangler/pkg/utils"
)

func testClock() *utils.FixedClock {
	return &utils.FixedClock{T: time.Date(2026, 1, 6, 10, 0, 0, 0, utils.IndiaLocation)}
}

func TestAllocate_LowestFreeSlotAndNoCapital(t *testing.T) {
	a := New(600000, 3, 10, testClock(), zerolog.Nop())

	for i := 1; i <= 3; i++ {
		slot, err := a.Allocate(fmt.Sprintf("p%d", i))
		require.NoError(t, err)
		assert.Equal(t, i, slot)
	}

	_, err := a.Allocate("p4")
	assert.True(t, errors.Is(err, errors.ErrNoCapital))

	slot, ok := a.Release("p2")
	require.True(t, ok)
	assert.Equal(t, 2, slot)

	slot, err = a.Allocate("p4")
	require.NoError(t, err)
	assert.Equal(t, 2, slot, "freed slot is reused")
}

func TestAllocate_DayQuotaAndLazyReset(t *testing.T) {
	clock := testClock()
	a := New(600000, 6, 2, clock, zerolog.Nop())

	_, err := a.Allocate("a")
	require.NoError(t, err)
	_, err = a.Allocate("b")
	require.NoError(t, err)
	assert.False(t, a.CanEnter())

	_, err = a.Allocate("c")
	assert.True(t, errors.Is(err, errors.ErrQuotaExceeded))
	assert.Equal(t, 4, a.Status().Free, "failed allocation changes nothing")

	// Releases do not give back the day quota.
	a.Release("a")
	_, err = a.Allocate("c")
	assert.True(t, errors.Is(err, errors.ErrQuotaExceeded))

	clock.Advance(24 * time.Hour)
	assert.True(t, a.CanEnter())
	assert.Equal(t, 0, a.Status().EntriesToday)
	_, err = a.Allocate("c")
	assert.NoError(t, err)
}

func TestAllocate_RejectsDuplicateID(t *testing.T) {
	a := New(100000, 6, 2, testClock(), zerolog.Nop())
	_, err := a.Allocate("a")
	require.NoError(t, err)
	_, err = a.Allocate("a")
	assert.True(t, errors.Is(err, errors.ErrAlreadyAllocated))
	assert.Equal(t, 1, a.Status().EntriesToday)
}

func TestRelease_UnknownIsNoop(t *testing.T) {
	a := New(100000, 6, 2, testClock(), zerolog.Nop())
	slot, ok := a.Release("ghost")
	assert.False(t, ok)
	assert.Zero(t, slot)
	assert.Equal(t, 6, a.Status().Free)
}

func TestRollback_ReturnsQuota(t *testing.T) {
	a := New(100000, 6, 2, testClock(), zerolog.Nop())
	_, err := a.Allocate("a")
	require.NoError(t, err)
	_, err = a.Allocate("b")
	require.NoError(t, err)
	assert.False(t, a.CanEnter())

	assert.True(t, a.Rollback("b"))
	assert.True(t, a.CanEnter())
	assert.Equal(t, 1, a.Status().EntriesToday)
	assert.Equal(t, 0, a.SlotOf("b"))

	assert.False(t, a.Rollback("b"))
	assert.Equal(t, 1, a.Status().EntriesToday)
}

func TestStatusAndPerPart(t *testing.T) {
	a := New(600000, 6, 2, testClock(), zerolog.Nop())
	assert.Equal(t, 100000.0, a.PerPart())

	_, _ = a.Allocate("x")
	st := a.Status()
	assert.Equal(t, 6, st.Parts)
	assert.Equal(t, 5, st.Free)
	assert.Equal(t, "x", st.Slots[0])
	assert.True(t, st.CanEnter)
	assert.Equal(t, 1, a.SlotOf("x"))
}

func TestRestore(t *testing.T) {
	clock := testClock()
	a := New(600000, 6, 2, clock, zerolog.Nop())

	require.NoError(t, a.Restore(map[int]string{1: "a", 3: "b"}, 2, utils.SessionDate(clock.Now())))
	assert.Equal(t, 3, a.SlotOf("b"))
	assert.False(t, a.CanEnter(), "today's quota restored")

	clock.Advance(24 * time.Hour)
	slot, err := a.Allocate("c")
	require.NoError(t, err)
	assert.Equal(t, 2, slot)

	assert.Error(t, a.Restore(map[int]string{7: "z"}, 0, clock.Now()))
	assert.Error(t, a.Restore(map[int]string{1: "z", 2: "z"}, 0, clock.Now()))
}

// Property: Allocating into an N-part pool N+1 times fails on the last call
// with ErrNoCapital, and after releasing any slot the next allocation reuses it.
func TestProperty_FixedPartitionExhaustion(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("N+1 allocations fail, freed slot reused", prop.ForAll(
		func(n, releasePick int) bool {
			a := New(100000, n, n+5, testClock(), zerolog.Nop())
			for i := 0; i < n; i++ {
				if _, err := a.Allocate(fmt.Sprintf("p%d", i)); err != nil {
					return false
				}
			}
			if _, err := a.Allocate("extra"); !errors.Is(err, errors.ErrNoCapital) {
				return false
			}

			victim := releasePick % n
			freed, ok := a.Release(fmt.Sprintf("p%d", victim))
			if !ok || freed != victim+1 {
				return false
			}
			slot, err := a.Allocate("extra")
			return err == nil && slot == freed
		},
		gen.IntRange(1, 12),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
