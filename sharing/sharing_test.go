package sharing_test

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/passcrow/passcrow/sharing"
)

func randomSecret(t *testing.T) *big.Int {
	t.Helper()
	s, err := rand.Int(rand.Reader, sharing.Prime)
	require.NoError(t, err)
	return s
}

func TestRoundTripExactThreshold(t *testing.T) {
	for _, nm := range [][2]int{{3, 3}, {3, 5}, {5, 8}, {3, 32}} {
		n, m := nm[0], nm[1]
		secret := randomSecret(t)
		shares, err := sharing.MakeRandomShares(secret, n, m)
		require.NoError(t, err)
		require.Len(t, shares, m)

		recovered, err := sharing.RecoverSecret(shares[:n])
		require.NoError(t, err)
		require.Equal(t, secret, recovered)

		recovered, err = sharing.RecoverSecret(shares[m-n:])
		require.NoError(t, err)
		require.Equal(t, secret, recovered)
	}
}

func TestRecoveryFailsBelowThreshold(t *testing.T) {
	secret := randomSecret(t)
	shares, err := sharing.MakeRandomShares(secret, 3, 5)
	require.NoError(t, err)

	_, err = sharing.RecoverSecret(shares[:2])
	require.Error(t, err)
}

func TestWrongShareCountYieldsWrongValue(t *testing.T) {
	secret := randomSecret(t)
	shares, err := sharing.MakeRandomShares(secret, 4, 6)
	require.NoError(t, err)

	// 3 shares against a threshold-4 polynomial: under-determined, so the
	// interpolated value should not (except with negligible probability)
	// equal the real secret.
	wrong, err := sharing.RecoverSecret(shares[:3])
	require.NoError(t, err)
	require.NotEqual(t, secret, wrong)
}

func TestInvalidThreshold(t *testing.T) {
	secret := randomSecret(t)

	_, err := sharing.MakeRandomShares(secret, 2, 5)
	require.Error(t, err)

	_, err = sharing.MakeRandomShares(secret, 5, 3)
	require.Error(t, err)

	_, err = sharing.MakeRandomShares(secret, 3, sharing.MaxShares+1)
	require.Error(t, err)
}

func TestMalformedShareRejected(t *testing.T) {
	shares := []sharing.Share{"1-abc", "2-def", "not-a-share-at-all-nope"}
	_, err := sharing.RecoverSecret(shares)
	require.Error(t, err)
}
