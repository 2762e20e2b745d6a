package allocator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakechorley/seasonal-allocation/pkg/core/timewindow"
)

func TestLedger_CanPlaceEmpty(t *testing.T) {
	ledger := NewLedger()

	assert.True(t, ledger.CanPlace("unit-x", window(timewindow.Monday, 10, 12)))
	assert.Equal(t, 0, ledger.Len())
}

func TestLedger_CommitBlocksOverlap(t *testing.T) {
	ledger, err := NewLedger().Commit("unit-x", window(timewindow.Monday, 10, 12), "section-a")
	require.NoError(t, err)

	assert.False(t, ledger.CanPlace("unit-x", window(timewindow.Monday, 11, 13)))
	assert.True(t, ledger.CanPlace("unit-x", window(timewindow.Monday, 12, 14)), "adjacent windows do not overlap")
	assert.True(t, ledger.CanPlace("unit-x", window(timewindow.Tuesday, 10, 12)))
	assert.True(t, ledger.CanPlace("unit-y", window(timewindow.Monday, 10, 12)), "other units are independent")
}

func TestLedger_CommitConflictReturnsConflictError(t *testing.T) {
	ledger, err := NewLedger().Commit("unit-x", window(timewindow.Monday, 10, 12), "section-a")
	require.NoError(t, err)

	after, err := ledger.Commit("unit-x", window(timewindow.Monday, 11, 12), "section-b")
	require.Error(t, err)

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "unit-x", conflict.ReservationUnitID)
	assert.Equal(t, "section-b", conflict.Owner)
	assert.Equal(t, "section-a", conflict.ConflictingOwner)
	assert.Equal(t, 1, after.Len(), "a failed commit leaves the ledger unchanged")
}

func TestLedger_SnapshotsAreImmutable(t *testing.T) {
	empty := NewLedger()
	first, err := empty.Commit("unit-x", window(timewindow.Monday, 10, 12), "section-a")
	require.NoError(t, err)
	second, err := first.Commit("unit-x", window(timewindow.Monday, 12, 14), "section-b")
	require.NoError(t, err)

	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, 1, first.Len())
	assert.Equal(t, 2, second.Len())
	assert.True(t, first.CanPlace("unit-x", window(timewindow.Monday, 12, 14)))
	assert.False(t, second.CanPlace("unit-x", window(timewindow.Monday, 12, 14)))
}

func TestLedger_Rollback(t *testing.T) {
	ledger, err := NewLedger().Commit("unit-x", window(timewindow.Monday, 10, 12), "section-a")
	require.NoError(t, err)

	rolledBack, err := ledger.Rollback("unit-x", window(timewindow.Monday, 10, 12))
	require.NoError(t, err)

	assert.True(t, rolledBack.CanPlace("unit-x", window(timewindow.Monday, 10, 12)))
	assert.Empty(t, rolledBack.Units())
	assert.False(t, ledger.CanPlace("unit-x", window(timewindow.Monday, 10, 12)), "original snapshot keeps its placement")
}

func TestLedger_RollbackUnknownPlacement(t *testing.T) {
	_, err := NewLedger().Rollback("unit-x", window(timewindow.Monday, 10, 12))

	assert.Error(t, err)
}

func TestLedger_MidnightWindows(t *testing.T) {
	ledger, err := NewLedger().Commit("unit-x", window(timewindow.Friday, 22, 24), "section-a")
	require.NoError(t, err)

	assert.False(t, ledger.CanPlace("unit-x", window(timewindow.Friday, 23, 24)))
	assert.True(t, ledger.CanPlace("unit-x", window(timewindow.Saturday, 0, 1)))
}

func TestLedger_SlotsAndUnits(t *testing.T) {
	ledger := NewLedger()
	var err error
	ledger, err = ledger.Commit("unit-y", window(timewindow.Tuesday, 8, 9), "section-c")
	require.NoError(t, err)
	ledger, err = ledger.Commit("unit-x", window(timewindow.Monday, 14, 16), "section-b")
	require.NoError(t, err)
	ledger, err = ledger.Commit("unit-x", window(timewindow.Monday, 10, 12), "section-a")
	require.NoError(t, err)

	assert.Equal(t, []string{"unit-x", "unit-y"}, ledger.Units())
	slots := ledger.Slots("unit-x")
	require.Len(t, slots, 2)
	assert.Equal(t, "section-a", slots[0].Owner)
	assert.Equal(t, "section-b", slots[1].Owner)
}

func TestLedger_ReserveAllowsOverlappingGround(t *testing.T) {
	ledger, err := NewLedger().Commit("unit-x", window(timewindow.Monday, 10, 12), "section-a")
	require.NoError(t, err)

	reserved := ledger.
		Reserve("unit-x", window(timewindow.Monday, 10, 12), "reserved:r1").
		Reserve("unit-x", window(timewindow.Monday, 11, 13), "reserved:r2")

	assert.Equal(t, 1, ledger.Len(), "receiver is unchanged")
	assert.Equal(t, 3, reserved.Len())
	assert.False(t, reserved.CanPlace("unit-x", window(timewindow.Monday, 12, 13)))
	assert.True(t, reserved.CanPlace("unit-x", window(timewindow.Monday, 13, 14)))
}
