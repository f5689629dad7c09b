package identity_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/passcrow/passcrow/identity"
)

func TestParseAcceptsKnownKinds(t *testing.T) {
	reg := identity.NewDefaultRegistry()

	id, err := reg.Parse("mailto:alice@example.org")
	require.NoError(t, err)
	require.Equal(t, "mailto", id.Kind())
	require.Equal(t, "alice@example.org", id.Address())

	_, err = reg.Parse("tel:+15551234567")
	require.NoError(t, err)
}

func TestParseRejectsUnknownKind(t *testing.T) {
	reg := identity.NewDefaultRegistry()
	_, err := reg.Parse("xmpp:alice@example.org")
	require.Error(t, err)
}

func TestParseRejectsMalformedEmail(t *testing.T) {
	reg := identity.NewDefaultRegistry()
	_, err := reg.Parse("mailto:not-an-email")
	require.Error(t, err)
}

func TestParseRejectsMalformedPhone(t *testing.T) {
	reg := identity.NewDefaultRegistry()
	_, err := reg.Parse("tel:call-me-maybe")
	require.Error(t, err)
}

func TestMailtoHintRedacts(t *testing.T) {
	reg := identity.NewDefaultRegistry()
	id, err := reg.Parse("mailto:alexandra@example.org")
	require.NoError(t, err)
	hint := reg.Hint(id)
	require.Contains(t, hint, "*")
	require.NotContains(t, hint, "alexandra@example.org")
}

func TestParseIdentityPolicyFullGrammar(t *testing.T) {
	reg := identity.NewDefaultRegistry()
	p, err := identity.ParseIdentityPolicy(reg,
		"mailto:a@a.org, warn=-, notify=mailto:b@b.com via passcrow.example.org", "")
	require.NoError(t, err)
	require.Equal(t, identity.Identity("mailto:a@a.org"), p.ID)
	require.Empty(t, p.Warn)
	require.Equal(t, identity.Identity("mailto:b@b.com"), p.Notify)
	require.Equal(t, "passcrow.example.org", p.Server)
	require.True(t, p.Usable())
}

func TestParseIdentityPolicyDefaultsServer(t *testing.T) {
	reg := identity.NewDefaultRegistry()
	p, err := identity.ParseIdentityPolicy(reg, "mailto:a@a.org", "fallback.example.org")
	require.NoError(t, err)
	require.Equal(t, "fallback.example.org", p.Server)
}

func TestParseServerPolicy(t *testing.T) {
	sp, err := identity.ParseServerPolicy("mailto, tel via passcrow.example.org")
	require.NoError(t, err)
	require.Equal(t, []string{"mailto", "tel"}, sp.Kinds)
	require.Equal(t, "passcrow.example.org", sp.Server)
}

func TestAbsoluteRatioSingleIdentity(t *testing.T) {
	p := identity.ClientPolicy{
		Identities: []identity.IdentityPolicy{{ID: "mailto:a@a.org"}},
		N:          3, M: 4,
	}
	n, m := p.AbsoluteRatio(0)
	require.Equal(t, 1, n)
	require.Equal(t, 1, m)
}

func TestAbsoluteRatioMatchesConfigured(t *testing.T) {
	ids := make([]identity.IdentityPolicy, 4)
	p := identity.ClientPolicy{Identities: ids, N: 3, M: 4}
	n, m := p.AbsoluteRatio(0)
	require.Equal(t, 3, n)
	require.Equal(t, 4, m)
}

func TestAbsoluteRatioAdjustsToAvailable(t *testing.T) {
	ids := make([]identity.IdentityPolicy, 6)
	p := identity.ClientPolicy{Identities: ids, N: 3, M: 4}
	n, m := p.AbsoluteRatio(0)
	require.Equal(t, 6, m)
	require.GreaterOrEqual(t, n, 1)
	require.LessOrEqual(t, n, m)
}

func TestParseDefaultPolicy(t *testing.T) {
	reg := identity.NewDefaultRegistry()
	text := `
# default policy
3/4
mailto, tel via passcrow.example.org
mailto:a@a.org
mailto:b@b.org via other.example.org
`
	dp, err := identity.ParseDefaultPolicy(reg, text)
	require.NoError(t, err)
	require.Equal(t, 3, dp.N)
	require.Equal(t, 4, dp.M)
	require.Len(t, dp.Servers, 1)
	require.Len(t, dp.Identities, 2)
}
