package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// CLOCK
// =============================================================================

// Clock supplies "now" for ids, timestamps and logical dates.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// FixedClock always returns the same instant. Advance moves it forward.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewFixedClock(t time.Time) *FixedClock { return &FixedClock{t: t} }

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// =============================================================================
// CUSTOMER IDS - Sequential, zero-padded
// =============================================================================

const customerIDWidth = 5

// NextCustomerID returns the id following max. An empty max yields "00001".
func NextCustomerID(max CustomerID) (CustomerID, error) {
	if max == "" {
		return CustomerID(fmt.Sprintf("%0*d", customerIDWidth, 1)), nil
	}
	n, err := strconv.ParseUint(string(max), 10, 64)
	if err != nil {
		return "", invalid("customer id", fmt.Sprintf("%q is not numeric", max))
	}
	return CustomerID(fmt.Sprintf("%0*d", customerIDWidth, n+1)), nil
}

// =============================================================================
// TRANSACTION IDS - Prefix + second-precision timestamp
// =============================================================================

const transactionIDLayout = "20060102150405"

// DefaultTransactionPrefix is the literal prefix of every transaction id.
const DefaultTransactionPrefix = "TBG"

// FormatTransactionID renders prefix + YYYYMMDDHHMMSS of t in UTC.
func FormatTransactionID(prefix string, t time.Time) TransactionID {
	return TransactionID(prefix + t.UTC().Format(transactionIDLayout))
}

// TransactionIDs allocates time-derived transaction ids. An id carries the
// creation second unless that second is already taken, in which case it
// moves to the next free second. Ids issued by one allocator never repeat.
// Allocators in other processes are caught up with Observe.
type TransactionIDs struct {
	Prefix string
	Clock  Clock

	mu   sync.Mutex
	last time.Time
}

func NewTransactionIDs(prefix string, clock Clock) *TransactionIDs {
	if prefix == "" {
		prefix = DefaultTransactionPrefix
	}
	if clock == nil {
		clock = SystemClock
	}
	return &TransactionIDs{Prefix: prefix, Clock: clock}
}

// Next returns a fresh id and the precise creation instant.
func (a *TransactionIDs) Next() (TransactionID, time.Time) {
	now := a.Clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	sec := now.UTC().Truncate(time.Second)
	if !a.last.IsZero() && !sec.After(a.last) {
		sec = a.last.Add(time.Second)
	}
	a.last = sec
	return FormatTransactionID(a.Prefix, sec), now
}

// Observe records an id issued elsewhere so Next never returns it or any
// earlier second. Ids with another prefix or a malformed timestamp are
// ignored.
func (a *TransactionIDs) Observe(id TransactionID) bool {
	rest, ok := strings.CutPrefix(string(id), a.Prefix)
	if !ok {
		return false
	}
	sec, err := time.ParseInLocation(transactionIDLayout, rest, time.UTC)
	if err != nil {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if sec.After(a.last) {
		a.last = sec
	}
	return true
}
