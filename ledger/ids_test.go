package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cylinder-ledger/ledger"
)

func TestNextCustomerID(t *testing.T) {
	tests := []struct {
		max  ledger.CustomerID
		want ledger.CustomerID
	}{
		{"", "00001"},
		{"00042", "00043"},
		{"00099", "00100"},
		{"99999", "100000"},
	}
	for _, tt := range tests {
		t.Run(string(tt.max), func(t *testing.T) {
			got, err := ledger.NextCustomerID(tt.max)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextCustomerID_NonNumeric(t *testing.T) {
	_, err := ledger.NextCustomerID("C-17")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestFormatTransactionID(t *testing.T) {
	assert.Equal(t, ledger.TransactionID("TBG20240315103045"), ledger.FormatTransactionID("TBG", t0))

	// Non-UTC instants are rendered in UTC.
	ist := time.FixedZone("IST", 5*3600+1800)
	assert.Equal(t, ledger.TransactionID("TBG20240315103045"), ledger.FormatTransactionID("TBG", t0.In(ist)))
}

func TestTransactionIDs_MonotonicWithinSecond(t *testing.T) {
	// GIVEN: a clock frozen inside one second
	clock := ledger.NewFixedClock(t0.Add(300 * time.Millisecond))
	ids := ledger.NewTransactionIDs("TBG", clock)

	// WHEN: three ids are allocated
	a, ts := ids.Next()
	b, _ := ids.Next()
	c, _ := ids.Next()

	// THEN: each moves to the next free second
	assert.Equal(t, ledger.TransactionID("TBG20240315103045"), a)
	assert.Equal(t, ledger.TransactionID("TBG20240315103046"), b)
	assert.Equal(t, ledger.TransactionID("TBG20240315103047"), c)
	assert.Equal(t, t0.Add(300*time.Millisecond), ts, "timestamp keeps full precision")

	// AND: once the clock passes the last issued second, ids follow the clock again
	clock.Advance(10 * time.Second)
	d, _ := ids.Next()
	assert.Equal(t, ledger.TransactionID("TBG20240315103055"), d)
}

func TestTransactionIDs_Defaults(t *testing.T) {
	ids := ledger.NewTransactionIDs("", nil)
	id, _ := ids.Next()
	assert.Len(t, string(id), len("TBG")+len("20060102150405"))
	assert.Equal(t, "TBG", string(id[:3]))
}

func TestTransactionIDs_Observe(t *testing.T) {
	ids := ledger.NewTransactionIDs("TBG", ledger.NewFixedClock(t0))

	// An id from another writer pushes the next allocation past it.
	assert.True(t, ids.Observe("TBG20240315103050"))
	id, _ := ids.Next()
	assert.Equal(t, ledger.TransactionID("TBG20240315103051"), id)

	// Older ids never move the allocator back.
	assert.True(t, ids.Observe("TBG20240315103000"))
	id, _ = ids.Next()
	assert.Equal(t, ledger.TransactionID("TBG20240315103052"), id)

	assert.False(t, ids.Observe("XYZ20240315103099"))
	assert.False(t, ids.Observe("TBG2024-03-15"))
	id, _ = ids.Next()
	assert.Equal(t, ledger.TransactionID("TBG20240315103053"), id)
}
