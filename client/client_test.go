package client_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/passcrow/passcrow/client"
	"github.com/passcrow/passcrow/hashcash"
	"github.com/passcrow/passcrow/identity"
	"github.com/passcrow/passcrow/server"
	"github.com/passcrow/passcrow/storage"
)

// fakeRPC routes every call straight into an in-process server.Server,
// skipping the network entirely. Each call gets a distinct caller id so
// the server's rate limiter never interferes with a test.
type fakeRPC struct {
	srv     *server.Server
	counter atomic.Int64
}

func newFakeRPC(t *testing.T, handler *server.MockHandler, freeSeconds int64) (*fakeRPC, *server.Server) {
	t.Helper()
	store := storage.NewFileStore(t.TempDir())
	payments := hashcash.NewRegistry()
	payments.Register(hashcash.NewFree(freeSeconds))
	srv, err := server.New(store, map[string]server.IdentityHandler{"mailto": handler}, payments, server.Config{}, nil)
	require.NoError(t, err)
	return &fakeRPC{srv: srv}, srv
}

func (f *fakeRPC) Call(ctx context.Context, srvName, endpoint string, payload []byte) ([]byte, error) {
	caller := []byte(fmt.Sprintf("caller-%d", f.counter.Add(1)))
	return f.srv.Handle(caller, endpoint, payload), nil
}

func quickConfig() client.Config {
	return client.Config{SleepMin: 0, SleepMax: 0, ExpirationDays: 1, TimeoutMinutes: 30}
}

// codeSentTo returns the most recent code MockHandler recorded for addr.
func codeSentTo(handler *server.MockHandler, addr string) string {
	for i := len(handler.Sent) - 1; i >= 0; i-- {
		if string(handler.Sent[i].Identity) == addr {
			return handler.Sent[i].Code
		}
	}
	return ""
}

func memStore() *memPackStore {
	return &memPackStore{packs: map[string]client.RecoveryPack{}}
}

// memPackStore is an in-memory client.PackStore, so tests don't touch disk.
type memPackStore struct {
	packs map[string]client.RecoveryPack
}

func (m *memPackStore) Load(name string) (client.RecoveryPack, error) {
	p, ok := m.packs[name]
	if !ok {
		return client.RecoveryPack{}, fmt.Errorf("memPackStore: no pack named %q", name)
	}
	return p, nil
}

func (m *memPackStore) Save(pack client.RecoveryPack) error {
	m.packs[pack.Name] = pack
	return nil
}

func (m *memPackStore) Delete(name string) error {
	delete(m.packs, name)
	return nil
}

func (m *memPackStore) List() ([]string, error) {
	var names []string
	for n := range m.packs {
		names = append(names, n)
	}
	return names, nil
}

func threeIdentityPolicy(t *testing.T, server string) identity.ClientPolicy {
	t.Helper()
	reg := identity.NewDefaultRegistry()
	policy := identity.ClientPolicy{N: 2, M: 3}
	for _, addr := range []string{"mailto:a@x.test", "mailto:b@x.test", "mailto:c@x.test"} {
		idp, err := identity.ParseIdentityPolicy(reg, addr, server)
		require.NoError(t, err)
		policy.Identities = append(policy.Identities, idp)
	}
	return policy
}

func TestProtectVerifyRecoverHappyPath(t *testing.T) {
	handler := &server.MockHandler{}
	rpc, _ := newFakeRPC(t, handler, 25*3600)
	c := client.New(memStore(), rpc, nil, quickConfig(), nil)
	ctx := context.Background()

	policy := threeIdentityPolicy(t, "escrow.example.org")
	secret := []byte("hunter2\n")

	result, err := c.Protect(ctx, "my-secret", secret, policy, client.ProtectOptions{Quick: true})
	require.NoError(t, err)
	require.Len(t, result.Pack.Escrow, 3)
	require.Equal(t, 2, result.Pack.MinShares)

	verifications, err := c.Verify(ctx, *result.Pack, true)
	require.NoError(t, err)
	require.Len(t, verifications, 3)

	// Redeem only 2 of the 3 codes -- that's the policy's quorum.
	codes := []string{
		codeSentTo(handler, "mailto:a@x.test"),
		codeSentTo(handler, "mailto:b@x.test"),
	}
	outcome, err := c.Recover(ctx, *result.Pack, codes, true)
	require.NoError(t, err)
	require.Nil(t, outcome.NextPack)
	require.Equal(t, secret, outcome.Secret)
}

func TestRecoverFailsBelowQuorum(t *testing.T) {
	handler := &server.MockHandler{}
	rpc, _ := newFakeRPC(t, handler, 25*3600)
	c := client.New(memStore(), rpc, nil, quickConfig(), nil)
	ctx := context.Background()

	policy := threeIdentityPolicy(t, "escrow.example.org")
	result, err := c.Protect(ctx, "my-secret", []byte("hunter2\n"), policy, client.ProtectOptions{Quick: true})
	require.NoError(t, err)

	verifications, err := c.Verify(ctx, *result.Pack, true)
	require.NoError(t, err)
	require.Len(t, verifications, 3)

	// Only one of the two required codes.
	codes := []string{codeSentTo(handler, "mailto:a@x.test")}
	_, err = c.Recover(ctx, *result.Pack, codes, true)
	require.ErrorIs(t, err, client.ErrRecoveryFailed)
}

func TestExpiredEscrowFailsVerify(t *testing.T) {
	handler := &server.MockHandler{}
	// A 2-day free scheme easily covers the 1-day protection window below.
	rpc, srv := newFakeRPC(t, handler, 2*24*3600)
	start := time.Now()
	srv.SetClock(func() time.Time { return start })

	cfg := quickConfig()
	cfg.ExpirationDays = 1
	c := client.New(memStore(), rpc, nil, cfg, nil)
	c.SetClock(func() time.Time { return start })
	ctx := context.Background()

	policy := threeIdentityPolicy(t, "escrow.example.org")
	result, err := c.Protect(ctx, "my-secret", []byte("hunter2\n"), policy, client.ProtectOptions{Quick: true})
	require.NoError(t, err)

	srv.SetClock(func() time.Time { return start.Add(2 * 24 * time.Hour) })
	verifications, err := c.Verify(ctx, *result.Pack, true)
	require.NoError(t, err)
	require.Empty(t, verifications)
}

func TestEphemeralRecoveryTwoRounds(t *testing.T) {
	handler := &server.MockHandler{}
	rpc, _ := newFakeRPC(t, handler, 25*3600)
	c := client.New(memStore(), rpc, nil, quickConfig(), nil)
	ctx := context.Background()

	policy := threeIdentityPolicy(t, "escrow.example.org")
	secret := []byte("hunter2\n")

	result, err := c.Protect(ctx, "my-secret", secret, policy, client.ProtectOptions{Quick: true, Ephemeral: client.EphemeralOnly})
	require.NoError(t, err)
	require.Nil(t, result.Pack)
	require.NotEmpty(t, result.EphemeralUserKey)
	require.NotEmpty(t, result.EphemeralServer)

	// A fresh client, with no local pack, starts from just the ephemeral
	// name a human would have transcribed.
	bootstrap, err := client.EphemeralPack(result.EphemeralServer + ":" + result.EphemeralUserKey)
	require.NoError(t, err)

	round1, err := c.Verify(ctx, bootstrap, true)
	require.NoError(t, err)
	require.Len(t, round1, 1)

	code1 := handler.LastCode()
	outcome1, err := c.Recover(ctx, bootstrap, []string{code1}, true)
	require.NoError(t, err)
	require.Nil(t, outcome1.Secret)
	require.NotNil(t, outcome1.NextPack)
	// Ephemeral mode reserves the first identity (a) for the upload slot;
	// only b and c hold shares of the actual secret.
	require.Len(t, outcome1.NextPack.Escrow, 2)

	round2, err := c.Verify(ctx, *outcome1.NextPack, true)
	require.NoError(t, err)
	require.Len(t, round2, 2)

	codes := []string{
		codeSentTo(handler, "mailto:b@x.test"),
		codeSentTo(handler, "mailto:c@x.test"),
	}
	outcome2, err := c.Recover(ctx, *outcome1.NextPack, codes, true)
	require.NoError(t, err)
	require.Equal(t, secret, outcome2.Secret)
}

func TestPaymentInsufficientRefusesLongExpiration(t *testing.T) {
	handler := &server.MockHandler{}
	// The server only ever grants a one-hour free escrow, far short of a
	// year -- Protect must refuse up front rather than silently accept a
	// shorter grant than requested.
	rpc, _ := newFakeRPC(t, handler, 3600)
	cfg := quickConfig()
	cfg.ExpirationDays = 365
	c := client.New(memStore(), rpc, nil, cfg, nil)
	ctx := context.Background()

	policy := threeIdentityPolicy(t, "escrow.example.org")
	_, err := c.Protect(ctx, "my-secret", []byte("hunter2\n"), policy, client.ProtectOptions{Quick: true})
	require.Error(t, err)
}

func TestDeleteIsIdempotent(t *testing.T) {
	handler := &server.MockHandler{}
	rpc, _ := newFakeRPC(t, handler, 25*3600)
	store := memStore()
	c := client.New(store, rpc, nil, quickConfig(), nil)
	ctx := context.Background()

	policy := threeIdentityPolicy(t, "escrow.example.org")
	result, err := c.Protect(ctx, "my-secret", []byte("hunter2\n"), policy, client.ProtectOptions{Quick: true})
	require.NoError(t, err)
	require.NotNil(t, result.Pack)

	require.NoError(t, c.Delete(ctx, "my-secret", true, true))
	_, ok := store.packs["my-secret"]
	require.False(t, ok)

	// Deleting an already-deleted pack is a no-op, not an error.
	require.NoError(t, c.Delete(ctx, "my-secret", true, true))
}
