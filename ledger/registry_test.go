package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cylinder-ledger/ledger"
	"github.com/warp/cylinder-ledger/ledger/store"
)

// staleMax reports an outdated maximum id for the first few calls, as a
// second process would see it.
type staleMax struct {
	*store.Memory
	stale int
}

func (s *staleMax) MaxCustomerID(ctx context.Context) (ledger.CustomerID, error) {
	if s.stale > 0 {
		s.stale--
		return "", nil
	}
	return s.Memory.MaxCustomerID(ctx)
}

func TestRegistry_CreateSequential(t *testing.T) {
	f, _ := newAtomicFixture(t)

	a := f.createCustomer(t, "Ravi Kumar", "9876543210")
	b := f.createCustomer(t, "Lakshmi", "9123456789")

	assert.Equal(t, ledger.CustomerID("00001"), a.ID)
	assert.Equal(t, ledger.CustomerID("00002"), b.ID)
	assert.Equal(t, "RATBGS3210", a.CredentialCode)
	assert.True(t, a.CurrentBalance.IsZero())
	assert.Zero(t, a.CurrentGasOnHand)
	assert.Nil(t, a.LastPurchaseDate)
	assert.Equal(t, t0, a.CreatedAt)
}

func TestRegistry_CreateConcurrent(t *testing.T) {
	f, _ := newAtomicFixture(t)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.registry.Create(context.Background(), ledger.ProfileUpdate{
				Profile: ledger.Profile{Name: "Walk-in", Phone: "9000000000"},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	customers, err := f.store.ListCustomers(context.Background())
	require.NoError(t, err)
	require.Len(t, customers, n)
	for i, c := range customers {
		assert.Equal(t, ledger.CustomerID(fmt.Sprintf("%05d", i+1)), c.ID, "ids form a gapless sequence")
	}
}

func TestRegistry_CreateRetriesOnCollision(t *testing.T) {
	// GIVEN: 00001 exists but the first lookup misses it
	mem := store.NewMemory()
	st := &staleMax{Memory: mem}
	f := newFixture(t, st)
	f.createCustomer(t, "Ravi Kumar", "9876543210")
	st.stale = 1

	// WHEN
	c := f.createCustomer(t, "Lakshmi", "9123456789")

	// THEN: the duplicate insert is retried with a fresh maximum
	assert.Equal(t, ledger.CustomerID("00002"), c.ID)
}

func TestRegistry_CreateRejects(t *testing.T) {
	f, _ := newAtomicFixture(t)
	ctx := context.Background()

	_, err := f.registry.Create(ctx, ledger.ProfileUpdate{Profile: ledger.Profile{Name: "  "}})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.registry.Create(ctx, ledger.ProfileUpdate{Profile: ledger.Profile{Name: "Ravi", Route: "r404"}})
	assert.ErrorIs(t, err, ledger.ErrRouteNotFound)
}

func TestRegistry_UpdateProfileKeepsCredential(t *testing.T) {
	ctx := context.Background()
	f, _ := newAtomicFixture(t)
	c := f.createCustomer(t, "Ravi Kumar", "9876543210")
	_, err := f.recorder.Record(ctx, sale(c.ID, 2, 0, "0"))
	require.NoError(t, err)

	// WHEN: name and phone change without an override
	updated, err := f.registry.UpdateProfile(ctx, c.ID, ledger.ProfileUpdate{
		Profile: ledger.Profile{Name: "Suresh", Phone: "1111222233", Route: "r1"},
	})
	require.NoError(t, err)

	// THEN: the credential is stable and the snapshot untouched
	assert.Equal(t, "RATBGS3210", updated.CredentialCode)
	stored, err := f.store.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Suresh", stored.Name)
	assert.Equal(t, "RATBGS3210", stored.CredentialCode)
	assert.True(t, stored.CurrentBalance.Equal(dec("200")))
	assert.Equal(t, int64(2), stored.CurrentGasOnHand)

	// WHEN: the operator supplies a code
	updated, err = f.registry.UpdateProfile(ctx, c.ID, ledger.ProfileUpdate{
		Profile:        ledger.Profile{Name: "Suresh", Phone: "1111222233"},
		CredentialCode: "SUTBGS2233",
	})
	require.NoError(t, err)
	assert.Equal(t, "SUTBGS2233", updated.CredentialCode)

	_, err = f.registry.UpdateProfile(ctx, "00404", ledger.ProfileUpdate{Profile: ledger.Profile{Name: "X"}})
	assert.ErrorIs(t, err, ledger.ErrCustomerNotFound)
}
