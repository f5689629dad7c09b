package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/passcrow/passcrow/hashcash"
	"github.com/passcrow/passcrow/identity"
	"github.com/passcrow/passcrow/proto"
)

// Default tuning values, ported from client.py's module-level constants.
const (
	DefaultSleepMin        = 0 * time.Second
	DefaultSleepMax        = 600 * time.Second
	DefaultExpirationDays  = 365
	DefaultTimeoutMinutes  = 30
	DefaultPackDescription = "Created using Passcrow"
	DefaultVerifyDescription = "Passcrow Data"
)

// Config tunes a Client's default behavior. Zero values fall back to the
// package defaults above.
type Config struct {
	SleepMin, SleepMax time.Duration
	ExpirationDays     int
	TimeoutMinutes     int
}

func (c Config) withDefaults() Config {
	if c.SleepMax == 0 {
		c.SleepMin, c.SleepMax = DefaultSleepMin, DefaultSleepMax
	}
	if c.ExpirationDays == 0 {
		c.ExpirationDays = DefaultExpirationDays
	}
	if c.TimeoutMinutes == 0 {
		c.TimeoutMinutes = DefaultTimeoutMinutes
	}
	return c
}

// Client orchestrates protect/verify/recover/delete across one or more
// Passcrow servers. It holds no secrets between calls beyond what its
// PackStore persists.
type Client struct {
	Store    PackStore
	RPC      RPC
	Identity *identity.Registry
	Config   Config
	Sleep    func(time.Duration)
	Log      *zap.Logger

	now func() time.Time

	mu       sync.Mutex
	policies map[string]proto.PolicyObject
}

// New builds a Client. identities is used to parse and validate the
// policy lines describing where to send shares; if nil, a default
// registry (mailto/email, tel/sms) is used.
func New(store PackStore, rpc RPC, identities *identity.Registry, cfg Config, log *zap.Logger) *Client {
	if identities == nil {
		identities = identity.NewDefaultRegistry()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		Store:    store,
		RPC:      rpc,
		Identity: identities,
		Config:   cfg.withDefaults(),
		Sleep:    time.Sleep,
		Log:      log,
		now:      time.Now,
		policies: map[string]proto.PolicyObject{},
	}
}

// SetClock overrides Client's time source, for tests that need a fixed
// "created" timestamp or to simulate elapsed time.
func (c *Client) SetClock(now func() time.Time) { c.now = now }

// fetchPolicy returns server's advertised PolicyObject, fetching and
// caching it on first use (a server's policy is assumed stable for the
// life of a Client).
func (c *Client) fetchPolicy(ctx context.Context, server string) (proto.PolicyObject, error) {
	c.mu.Lock()
	if p, ok := c.policies[server]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	raw, err := c.RPC.Call(ctx, server, "policy", nil)
	if err != nil {
		return proto.PolicyObject{}, fmt.Errorf("client: fetch policy from %s: %w", server, err)
	}
	var p proto.PolicyObject
	if err := json.Unmarshal(raw, &p); err != nil {
		return proto.PolicyObject{}, fmt.Errorf("client: decode policy from %s: %w", server, err)
	}

	c.mu.Lock()
	c.policies[server] = p
	c.mu.Unlock()
	return p, nil
}

// choosePaymentScheme picks the cheapest scheme server advertises whose
// granted duration covers at least wantSeconds, mirroring
// client.py's _make_payment.
func choosePaymentScheme(policy proto.PolicyObject, wantSeconds int64) (proto.PaymentScheme, error) {
	schemes := append([]proto.PaymentScheme{}, policy.PaymentSchemes...)
	sort.Slice(schemes, func(i, j int) bool {
		return schemes[i].ExpirationSeconds < schemes[j].ExpirationSeconds
	})
	for _, s := range schemes {
		if s.ExpirationSeconds >= wantSeconds {
			return s, nil
		}
	}
	if len(schemes) == 0 {
		return proto.PaymentScheme{}, fmt.Errorf("client: server advertises no payment schemes")
	}
	longest := schemes[len(schemes)-1]
	return proto.PaymentScheme{}, fmt.Errorf(
		"client: longest available escrow is %s, too short for the requested %s",
		time.Duration(longest.ExpirationSeconds)*time.Second, time.Duration(wantSeconds)*time.Second)
}

// mintPayment produces a payment token for scheme, proving the work (or
// lack thereof, for a free scheme) against data -- the same ciphertext
// bytes the server will later hash when processing the token.
func mintPayment(scheme proto.PaymentScheme, data []byte) (string, error) {
	if scheme.HashcashBits > 0 {
		return hashcash.MakePayment(scheme.SchemeID, scheme.HashcashBits, data, hashcash.DefaultMintDeadline)
	}
	return hashcash.MakeFreePayment(scheme.SchemeID), nil
}

