package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/cylinder-ledger/ledger"
)

func TestBrandCredentials_Issue(t *testing.T) {
	issuer := ledger.BrandCredentials{Tag: ledger.DefaultCredentialTag}

	tests := []struct {
		name, phone, want string
	}{
		{"Ravi Kumar", "9876543210", "RATBGS3210"},
		{"ravi", "+91 98765 43210", "RATBGS3210"},
		{"A", "12", "ATBGS12"},
		{"", "", "TBGS"},
		{"ñandu", "5550001", "ÑATBGS0001"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, issuer.Issue(tt.name, tt.phone))
			// Deterministic.
			assert.Equal(t, issuer.Issue(tt.name, tt.phone), issuer.Issue(tt.name, tt.phone))
		})
	}
}

func TestResolveCredential(t *testing.T) {
	issuer := ledger.BrandCredentials{Tag: "TBGS"}

	assert.Equal(t, "RATBGS3210", ledger.ResolveCredential(issuer, "", "", "Ravi Kumar", "9876543210"),
		"derived when nothing stored")
	assert.Equal(t, "CUSTOM1", ledger.ResolveCredential(issuer, "OLD", "CUSTOM1", "Ravi Kumar", "9876543210"),
		"operator override wins")
	assert.Equal(t, "OLD", ledger.ResolveCredential(issuer, "OLD", "", "Suresh", "1111222233"),
		"stored credential kept after name/phone change")
}
