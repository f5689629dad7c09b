package proto_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/passcrow/passcrow/primitives"
	"github.com/passcrow/passcrow/proto"
)

func TestCheckVersion(t *testing.T) {
	require.NoError(t, proto.CheckVersion("1.0"))
	require.Error(t, proto.CheckVersion("0.9"))
	require.Error(t, proto.CheckVersion(""))
}

func TestSealedRoundTrip(t *testing.T) {
	key, err := primitives.RandomKey()
	require.NoError(t, err)

	erp := proto.Plain(proto.EscrowRequestParameters{
		Kind:       "mailto",
		Expiration: 123456,
		Payment:    "free:0",
	})
	require.False(t, erp.SealedValue())

	sealed, err := erp.Seal(key)
	require.NoError(t, err)
	require.True(t, sealed.SealedValue())

	opened, err := sealed.Open(key)
	require.NoError(t, err)
	require.Equal(t, "mailto", opened.Kind)
	require.Equal(t, int64(123456), opened.Expiration)
}

func TestSealedOpenFailsWithWrongKey(t *testing.T) {
	key, err := primitives.RandomKey()
	require.NoError(t, err)
	wrongKey, err := primitives.RandomKey()
	require.NoError(t, err)

	sealed, err := proto.Plain(proto.EscrowRequestData{Secret: "share"}).Seal(key)
	require.NoError(t, err)

	_, err = sealed.Open(wrongKey)
	require.Error(t, err)
}

func TestSealedMarshalRequiresSealedState(t *testing.T) {
	plain := proto.Plain(proto.EscrowRequestData{Secret: "share"})
	_, err := json.Marshal(plain)
	require.Error(t, err)
}

func TestSealedJSONRoundTripThroughEnvelope(t *testing.T) {
	key, err := primitives.RandomKey()
	require.NoError(t, err)

	sealedParams, err := proto.Plain(proto.EscrowRequestParameters{
		Kind: "mailto", Expiration: 1, Payment: "free:0",
	}).Seal(key)
	require.NoError(t, err)

	req := proto.EscrowRequest{
		Version:       proto.Version,
		ParametersKey: "irrelevant-for-this-test",
		Parameters:    sealedParams,
	}
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"passcrow-escrow-request":"1.0"`)

	var decoded proto.EscrowRequest
	require.NoError(t, json.Unmarshal(raw, &decoded))

	opened, err := decoded.Parameters.Open(key)
	require.NoError(t, err)
	require.Equal(t, "mailto", opened.Kind)
}
