// Package capital divides the capital pool into equal slots, one per open strangle.
package capital

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nifty-strangler/internal/errors"
	"nifty-strangler/internal/logging"
	"nifty-strangler/pkg/utils"
)

// Allocator tracks slot ownership and the per-day entry cap. Slots are numbered from 1.
type Allocator struct {
	mu           sync.RWMutex
	total        float64
	slots        []string // index i holds slot i+1; "" is free
	maxPerDay    int
	entriesToday int
	day          time.Time
	clock        utils.Clock
	logger       zerolog.Logger
}

// New creates an allocator with parts equal slots.
func New(total float64, parts, maxPerDay int, clock utils.Clock, logger zerolog.Logger) *Allocator {
	return &Allocator{
		total:     total,
		slots:     make([]string, parts),
		maxPerDay: maxPerDay,
		clock:     clock,
		logger:    logging.WithComponent(logger, "capital"),
	}
}

// checkDay lazily resets the day counter on the first query of a new day.
func (a *Allocator) checkDay() {
	now := a.clock.Now()
	if !a.day.IsZero() && utils.SameSession(a.day, now) {
		return
	}
	if !a.day.IsZero() {
		a.logger.Info().Int("entries_yesterday", a.entriesToday).Msg("Daily entry counter reset")
	}
	a.day = utils.SessionDate(now)
	a.entriesToday = 0
}

// Allocate claims the lowest free slot for positionID. It fails with
// ErrNoCapital when every slot is held and ErrQuotaExceeded when today's
// entries are used up; nothing changes on failure.
func (a *Allocator) Allocate(positionID string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkDay()

	if a.slotOfLocked(positionID) > 0 {
		return 0, errors.Wrapf(errors.ErrAlreadyAllocated, "position %s", positionID)
	}

	free := -1
	for i, id := range a.slots {
		if id == "" {
			free = i
			break
		}
	}
	if free < 0 {
		a.logger.Warn().Msg("No capital slots available")
		return 0, errors.ErrNoCapital
	}
	if a.entriesToday >= a.maxPerDay {
		a.logger.Warn().Int("max_per_day", a.maxPerDay).Msg("Daily entry quota reached")
		return 0, errors.ErrQuotaExceeded
	}

	a.slots[free] = positionID
	a.entriesToday++
	a.logger.Info().
		Str("position_id", positionID).
		Int("slot", free+1).
		Int("entries_today", a.entriesToday).
		Int("max_per_day", a.maxPerDay).
		Msg("Capital allocated")
	return free + 1, nil
}

// Release frees the slot held by positionID and returns it. An unknown id is a
// no-op logged as a warning, since exit paths may fire twice.
func (a *Allocator) Release(positionID string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	slot := a.slotOfLocked(positionID)
	if slot == 0 {
		a.logger.Warn().Str("position_id", positionID).Msg("Release for position without a slot")
		return 0, false
	}
	a.slots[slot-1] = ""
	a.logger.Info().Str("position_id", positionID).Int("slot", slot).Msg("Capital released")
	return slot, true
}

// Rollback undoes an Allocate whose entry never filled: the slot is freed and
// the day's entry count given back.
func (a *Allocator) Rollback(positionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	slot := a.slotOfLocked(positionID)
	if slot == 0 {
		return false
	}
	a.slots[slot-1] = ""
	if a.entriesToday > 0 && utils.SameSession(a.day, a.clock.Now()) {
		a.entriesToday--
	}
	a.logger.Info().Str("position_id", positionID).Int("slot", slot).Msg("Capital allocation rolled back")
	return true
}

func (a *Allocator) slotOfLocked(positionID string) int {
	if positionID == "" {
		return 0
	}
	for i, id := range a.slots {
		if id == positionID {
			return i + 1
		}
	}
	return 0
}

// SlotOf returns the slot held by positionID, 0 if none.
func (a *Allocator) SlotOf(positionID string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.slotOfLocked(positionID)
}

// CanEnter reports whether a slot is free and the day quota allows another entry.
func (a *Allocator) CanEnter() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkDay()
	return a.freeLocked() > 0 && a.entriesToday < a.maxPerDay
}

func (a *Allocator) freeLocked() int {
	n := 0
	for _, id := range a.slots {
		if id == "" {
			n++
		}
	}
	return n
}

// PerPart is the capital backing one slot.
func (a *Allocator) PerPart() float64 {
	if len(a.slots) == 0 {
		return 0
	}
	return a.total / float64(len(a.slots))
}

// Status is a snapshot of the partition.
type Status struct {
	Total        float64
	PerPart      float64
	Parts        int
	Free         int
	EntriesToday int
	MaxPerDay    int
	Day          time.Time
	CanEnter     bool
	Slots        []string
}

// Status returns a snapshot.
func (a *Allocator) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkDay()

	slots := make([]string, len(a.slots))
	copy(slots, a.slots)
	free := a.freeLocked()
	return Status{
		Total:        a.total,
		PerPart:      a.PerPart(),
		Parts:        len(a.slots),
		Free:         free,
		EntriesToday: a.entriesToday,
		MaxPerDay:    a.maxPerDay,
		Day:          a.day,
		CanEnter:     free > 0 && a.entriesToday < a.maxPerDay,
		Slots:        slots,
	}
}

// Restore installs persisted state. slots maps slot number to position id;
// entries from another day are dropped by the next lazy reset.
func (a *Allocator) Restore(slots map[int]string, entriesToday int, day time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	fresh := make([]string, len(a.slots))
	seen := make(map[string]bool, len(slots))
	for slot, id := range slots {
		if slot < 1 || slot > len(fresh) {
			return errors.NewValidationError("capital.slot", slot, "slot out of range")
		}
		if id == "" {
			continue
		}
		if seen[id] {
			return errors.Wrapf(errors.ErrAlreadyAllocated, "position %s restored twice", id)
		}
		seen[id] = true
		fresh[slot-1] = id
	}
	a.slots = fresh
	a.entriesToday = entriesToday
	a.day = day
	return nil
}
