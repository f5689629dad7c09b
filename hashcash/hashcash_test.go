package hashcash_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/passcrow/passcrow/hashcash"
)

func TestFreeAlwaysGrants(t *testing.T) {
	free := hashcash.NewFree(3600)
	token := hashcash.MakeFreePayment(free.SchemeID())
	got := free.Process("0", []byte("any data"), time.Now())
	require.Equal(t, int64(3600), got)
	require.Equal(t, "free:0", token)
}

func TestHashcashRoundTrip(t *testing.T) {
	// Low difficulty so the collision search in a test runs quickly.
	scheme := hashcash.NewHashcash(4, 86400)
	data := []byte("escrow payload bytes")

	token, err := hashcash.MakePayment(scheme.SchemeID(), scheme.Bits(), data, 10*time.Second)
	require.NoError(t, err)

	_, payload, ok := cutToken(token)
	require.True(t, ok)

	granted := scheme.Process(payload, data, time.Now())
	require.Equal(t, int64(86400), granted)
}

func TestHashcashRejectsWrongData(t *testing.T) {
	scheme := hashcash.NewHashcash(4, 86400)
	token, err := hashcash.MakePayment(scheme.SchemeID(), scheme.Bits(), []byte("original"), 10*time.Second)
	require.NoError(t, err)

	_, payload, ok := cutToken(token)
	require.True(t, ok)

	granted := scheme.Process(payload, []byte("different"), time.Now())
	require.Equal(t, int64(0), granted)
}

func TestHashcashRejectsStaleToken(t *testing.T) {
	scheme := hashcash.NewHashcash(4, 86400)
	data := []byte("escrow payload bytes")
	token, err := hashcash.MakePayment(scheme.SchemeID(), scheme.Bits(), data, 10*time.Second)
	require.NoError(t, err)

	_, payload, ok := cutToken(token)
	require.True(t, ok)

	// Well past the 125-second validity window.
	future := time.Now().Add(10 * time.Minute)
	granted := scheme.Process(payload, data, future)
	require.Equal(t, int64(0), granted)
}

func TestHashcashRejectsMalformedPayload(t *testing.T) {
	scheme := hashcash.NewHashcash(4, 86400)
	require.Equal(t, int64(0), scheme.Process("not-hex-at-all", []byte("d"), time.Now()))
}

func TestRegistryDispatchesByScheme(t *testing.T) {
	reg := hashcash.NewRegistry()
	free := hashcash.NewFree(3600)
	hc := hashcash.NewHashcash(4, 86400)
	reg.Register(free)
	reg.Register(hc)
	require.Len(t, reg.All(), 2)

	data := []byte("some escrow data")
	hcToken, err := hc.MakePayment(data)
	require.NoError(t, err)

	require.Equal(t, int64(86400), reg.Process(hcToken, data, time.Now()))
	require.Equal(t, int64(3600), reg.Process("free:0", data, time.Now()))
	require.Equal(t, int64(0), reg.Process("unknown-scheme:abc", data, time.Now()))
	require.Equal(t, int64(0), reg.Process("no-colon-here", data, time.Now()))
}

func TestDefaultLadderClampsToMax(t *testing.T) {
	const maxExp = int64(400 * 24 * 3600) // about 400 days
	ladder := hashcash.DefaultLadder(maxExp)
	require.NotEmpty(t, ladder)
	for _, h := range ladder {
		_, granted, bits := h.Describe()
		require.LessOrEqual(t, granted, maxExp)
		require.Equal(t, h.Bits(), bits)
	}
}

// cutToken splits a "<scheme-id>:<payload>" token the same way
// hashcash.Registry does internally, for tests that need the payload alone.
func cutToken(token string) (id, payload string, ok bool) {
	for i := 0; i < len(token); i++ {
		if token[i] == ':' {
			return token[:i], token[i+1:], true
		}
	}
	return "", "", false
}
