// Package hashcash implements Passcrow's anti-abuse payment scheme: a
// scrypt-based proof-of-work token that gates how long a client may ask a
// server to hold an escrowed share. It also defines the trivial "free"
// scheme every server offers alongside it.
//
// A Scheme is registered against a server-chosen scheme id (spec §4.3); the
// registry is an explicit value (Registry), not a package-level map, so a
// server can run multiple independent configurations in one process.
package hashcash

import (
	"fmt"
	"time"

	"golang.org/x/crypto/scrypt"
)

// Fixed scrypt parameters for hashcash collisions (spec §4.3, §6).
const (
	scryptLen = 16
	scryptN   = 256
	scryptR   = 8
	scryptP   = 1
)

// tokenMaxAge is how long a minted token remains acceptable to Process:
// 120 seconds of nominal validity plus a small clock-skew allowance.
// tokenMaxSkew is how far in the future a token's timestamp may lie.
const (
	tokenMaxAge  = 125 * time.Second
	tokenMaxSkew = 5 * time.Second
)

// DefaultMintDeadline bounds how long MakePayment will search for a
// collision before giving up.
const DefaultMintDeadline = 90 * time.Second

// Registry maps scheme ids to the Scheme that handles them. It is a plain
// constructed value, not a package-level map, so a server chooses and owns
// its own set of accepted schemes instead of mutating shared global state.
type Registry struct {
	schemes map[string]Scheme
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{schemes: make(map[string]Scheme)}
}

// Register adds scheme under its own SchemeID, overwriting any previous
// scheme registered under the same id.
func (r *Registry) Register(scheme Scheme) {
	r.schemes[scheme.SchemeID()] = scheme
}

// Lookup returns the scheme registered under id, or nil if none is.
func (r *Registry) Lookup(id string) Scheme {
	return r.schemes[id]
}

// All returns every registered scheme, for building a PolicyObject's
// advertised payment list.
func (r *Registry) All() []Scheme {
	out := make([]Scheme, 0, len(r.schemes))
	for _, s := range r.schemes {
		out = append(out, s)
	}
	return out
}

// Process parses a "<scheme-id>:<payload>" token, looks up its scheme in r,
// and delegates validation to it. An unrecognized scheme id, or a
// malformed token, grants 0 seconds.
func (r *Registry) Process(token string, data []byte, now time.Time) int64 {
	id, payload, ok := splitToken(token)
	if !ok {
		return 0
	}
	scheme := r.Lookup(id)
	if scheme == nil {
		return 0
	}
	return scheme.Process(payload, data, now)
}

func splitToken(token string) (id, payload string, ok bool) {
	for i := 0; i < len(token); i++ {
		if token[i] == ':' {
			return token[:i], token[i+1:], true
		}
	}
	return "", "", false
}

// Scheme is a payment scheme a server can advertise and accept. Free and
// Hashcash are the two concrete implementations; a server may support both
// at different difficulties simultaneously via a Registry.
type Scheme interface {
	// SchemeID is the identifier embedded in a minted token's
	// "<scheme-id>:<payload>" prefix and in PolicyObject.PaymentSchemes.
	SchemeID() string
	// Describe returns the server-advertised description and duration.
	Describe() (description string, grantedSeconds int64, hashcashBits int)
	// Process validates a token's payload (the part after the colon)
	// against data and now, returning the number of seconds of escrow
	// granted, or 0 if the token is invalid, stale, or for other data.
	Process(payload string, data []byte, now time.Time) int64
}

// Free is the zero-effort scheme: it always grants a fixed, short window.
type Free struct {
	id             string
	grantedSeconds int64
}

// NewFree constructs the free scheme, granting grantedSeconds of escrow to
// any caller with no proof of work required.
func NewFree(grantedSeconds int64) *Free {
	return &Free{id: "free", grantedSeconds: grantedSeconds}
}

func (f *Free) SchemeID() string { return f.id }

func (f *Free) Describe() (string, int64, int) {
	return "Freebies", f.grantedSeconds, 0
}

// Process for the free scheme ignores its payload entirely.
func (f *Free) Process(string, []byte, time.Time) int64 {
	return f.grantedSeconds
}

// MakeFreePayment mints a (trivial) free-scheme token.
func MakeFreePayment(schemeID string) string {
	return fmt.Sprintf("%s:0", schemeID)
}

// Hashcash is a proof-of-work scheme: a token is valid if scrypt(data ||
// counter || timestamp || data) has its low `bits` bits zero, and the
// embedded timestamp is recent.
type Hashcash struct {
	bits           int
	grantedSeconds int64
	bitmask        uint64
}

// NewHashcash constructs a hashcash scheme requiring the given collision
// difficulty (bits, 1-64) in exchange for grantedSeconds of escrow.
func NewHashcash(bits int, grantedSeconds int64) *Hashcash {
	return &Hashcash{bits: bits, grantedSeconds: grantedSeconds, bitmask: bitmask(bits)}
}

func bitmask(bits int) uint64 {
	var m uint64
	for i := 0; i < bits; i++ {
		m = (m << 1) | 1
	}
	return m
}

func (h *Hashcash) SchemeID() string { return fmt.Sprintf("hashcash-%d", h.bits) }

func (h *Hashcash) Bits() int { return h.bits }

func (h *Hashcash) Describe() (string, int64, int) {
	desc := fmt.Sprintf("%d-bit scrypt(len=%d,n=%d,r=%d,p=%d) collisions",
		h.bits, scryptLen, scryptN, scryptR, scryptP)
	return desc, h.grantedSeconds, h.bits
}

func collision(counter uint64, ts int64, data []byte) ([]byte, error) {
	input := append(append(append([]byte{}, data...),
		[]byte(fmt.Sprintf("%x%x", counter, ts))...), data...)
	return scrypt.Key(input, nil, scryptN, scryptR, scryptP, scryptLen)
}

func low64Bits(h []byte) uint64 {
	var v uint64
	// Mirrors primitives.KeyToInt then taking the value mod 2^64: treat
	// the digest as a big-endian integer and keep its low bits.
	for _, b := range h {
		v = (v << 8) | uint64(b)
	}
	return v
}

// MakePayment mints a token for data against h's own scheme id and
// difficulty, using DefaultMintDeadline.
func (h *Hashcash) MakePayment(data []byte) (string, error) {
	return MakePayment(h.SchemeID(), h.bits, data, DefaultMintDeadline)
}

// MakePayment mints a hashcash token for data, searching for up to
// maxtime before giving up. data is whatever the server will later call
// Process against -- for an escrow request this is the concatenation of
// its ERD ciphertexts.
func MakePayment(schemeID string, bits int, data []byte, maxtime time.Duration) (string, error) {
	mask := bitmask(bits)
	deadline := time.Now().Add(maxtime)
	var counter uint64
	for {
		now := time.Now()
		if now.After(deadline) {
			return "", fmt.Errorf("hashcash: no collision found within %s", maxtime)
		}
		counter++
		h, err := collision(counter, now.Unix(), data)
		if err != nil {
			return "", fmt.Errorf("hashcash: scrypt failed: %w", err)
		}
		if low64Bits(h)&mask == 0 {
			return fmt.Sprintf("%s:%x-%x", schemeID, counter, now.Unix()), nil
		}
	}
}

// Process validates payload ("<hex counter>-<hex unix ts>") against data
// and now, returning the granted seconds, or 0 if invalid or stale.
func (h *Hashcash) Process(payload string, data []byte, now time.Time) int64 {
	var counter, ts uint64
	if _, err := fmt.Sscanf(payload, "%x-%x", &counter, &ts); err != nil {
		return 0
	}
	tokenTime := time.Unix(int64(ts), 0)
	if tokenTime.Before(now.Add(-tokenMaxAge)) || tokenTime.After(now.Add(tokenMaxSkew)) {
		return 0
	}
	digest, err := collision(counter, int64(ts), data)
	if err != nil {
		return 0
	}
	if low64Bits(digest)&h.bitmask == 0 {
		return h.grantedSeconds
	}
	return 0
}

// DefaultLadder returns the standard set of hashcash difficulties and the
// escrow duration each one grants, matching the reference server's
// defaults (spec §4.3): roughly half a year through a decade, clamped to
// maxExpirationSeconds.
func DefaultLadder(maxExpirationSeconds int64) []*Hashcash {
	const day = 24 * 3600
	steps := []struct {
		bits  int
		years float64
	}{
		{11, 183.0 / 365.0 * 365}, // ~183 days
		{12, 366},
		{13, 2 * 366},
		{14, 5 * 366},
		{15, 10 * 366},
	}
	var out []*Hashcash
	for _, s := range steps {
		exp := int64(s.years * day)
		if exp > maxExpirationSeconds {
			out = append(out, NewHashcash(s.bits, maxExpirationSeconds))
			break
		}
		out = append(out, NewHashcash(s.bits, exp))
	}
	return out
}
