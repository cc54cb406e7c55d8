package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

const maxCreateAttempts = 5

// ProfileUpdate carries the editable fields of an existing customer.
// CredentialCode, when non-empty, overwrites the stored code.
type ProfileUpdate struct {
	Profile
	CredentialCode string
}

// Registry creates and edits customer accounts. It never touches balance or
// inventory; those only change through the Recorder and Reconciler.
type Registry struct {
	Store       AccountStore
	Routes      Catalog[Route]
	Credentials CredentialIssuer
	Clock       Clock

	// mu serializes "read max id, insert" inside this process. Other
	// processes are caught by the store's unique key and retried.
	mu sync.Mutex
}

func NewRegistry(store AccountStore, routes Catalog[Route], credentials CredentialIssuer, clock Clock) *Registry {
	if credentials == nil {
		credentials = BrandCredentials{Tag: DefaultCredentialTag}
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Registry{Store: store, Routes: routes, Credentials: credentials, Clock: clock}
}

// Create opens a new account with the next sequential id and a zero
// balance and inventory.
func (r *Registry) Create(ctx context.Context, p ProfileUpdate) (*Customer, error) {
	if err := r.validate(ctx, p.Profile); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 1; ; attempt++ {
		max, err := r.Store.MaxCustomerID(ctx)
		if err != nil {
			return nil, err
		}
		id, err := NextCustomerID(max)
		if err != nil {
			return nil, err
		}
		c := Customer{
			ID:             id,
			Profile:        p.Profile,
			CredentialCode: ResolveCredential(r.Credentials, "", p.CredentialCode, p.Name, p.Phone),
			CurrentBalance: decimal.Zero,
			CreatedAt:      r.Clock.Now(),
		}
		err = r.Store.InsertCustomer(ctx, c)
		if err == nil {
			return &c, nil
		}
		if !errors.Is(err, ErrDuplicateCustomerID) || attempt >= maxCreateAttempts {
			return nil, err
		}
	}
}

// UpdateProfile edits profile fields. The credential is kept unless the
// operator supplies one, and is derived only if none was stored before.
func (r *Registry) UpdateProfile(ctx context.Context, id CustomerID, p ProfileUpdate) (*Customer, error) {
	if err := r.validate(ctx, p.Profile); err != nil {
		return nil, err
	}
	c, err := r.Store.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Profile = p.Profile
	c.CredentialCode = ResolveCredential(r.Credentials, c.CredentialCode, p.CredentialCode, p.Name, p.Phone)
	if err := r.Store.UpdateProfile(ctx, *c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Registry) validate(ctx context.Context, p Profile) error {
	if strings.TrimSpace(p.Name) == "" {
		return invalid("name", "required")
	}
	if p.Route != "" && r.Routes != nil {
		if _, err := r.Routes.Get(ctx, string(p.Route)); err != nil {
			return err
		}
	}
	return nil
}
