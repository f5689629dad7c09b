// Package sharing implements Shamir's Secret Sharing over a fixed, large
// Mersenne prime field, exactly as the reference Passcrow implementation
// does: shares are encoded as "hex(x)-hex(y)" strings so they travel as
// plain text through the rest of the protocol.
//
// The field is a protocol constant (the 13th Mersenne prime, 2^521-1), not
// a tunable parameter: all Passcrow servers and clients must agree on it to
// interoperate, which is why it is not exposed as an argument to
// MakeRandomShares or RecoverSecret.
package sharing

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/passcrow/passcrow/errs"
)

// Prime is the 13th Mersenne prime, 2^521 - 1. 256-bit AES keys embed in it
// comfortably with room to spare.
var Prime = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 521), big.NewInt(1))

// MinThreshold is the smallest n (number of shares required to reconstruct)
// the math here supports; below this, recovery would be irrecoverable in
// practice (a 1- or 2-of-m split leaks too much structure). Callers that
// need a smaller effective threshold inflate n (and m) up to this minimum
// and hold the extra shares locally -- see client.Client.Protect.
const MinThreshold = 3

// MaxShares bounds m; it matches the size of the verification-prefix
// alphabet (spec §6), since every remotely escrowed share needs a distinct
// single-character prefix during recovery.
const MaxShares = 32

// Share is one (x, f(x)) point on the sharing polynomial, already encoded
// in its wire form "hex(x)-hex(y)".
type Share string

// MakeRandomShares splits secret into m shares such that any n of them
// reconstruct it (and fewer than n reveal nothing). It requires
// MinThreshold <= n <= m <= MaxShares.
func MakeRandomShares(secret *big.Int, n, m int) ([]Share, error) {
	if n < MinThreshold || n > m {
		return nil, errs.Newf(errs.KindInvalidThreshold,
			"need %d <= n <= m, got n=%d m=%d", MinThreshold, n, m)
	}
	if m > MaxShares {
		return nil, errs.Newf(errs.KindInvalidThreshold,
			"cannot handle more than %d shares, got m=%d", MaxShares, m)
	}

	poly := make([]*big.Int, n)
	poly[0] = new(big.Int).Mod(secret, Prime)
	for i := 1; i < n; i++ {
		coeff, err := rand.Int(rand.Reader, Prime)
		if err != nil {
			return nil, fmt.Errorf("sharing: failed to generate coefficient: %w", err)
		}
		poly[i] = coeff
	}

	shares := make([]Share, m)
	for x := 1; x <= m; x++ {
		y := evalAt(poly, big.NewInt(int64(x)))
		shares[x-1] = Share(fmt.Sprintf("%x-%x", x, y))
	}
	return shares, nil
}

// evalAt evaluates poly (low-order-first coefficients) at x, modulo Prime,
// via Horner's method.
func evalAt(poly []*big.Int, x *big.Int) *big.Int {
	accum := new(big.Int)
	for i := len(poly) - 1; i >= 0; i-- {
		accum.Mul(accum, x)
		accum.Add(accum, poly[i])
		accum.Mod(accum, Prime)
	}
	return accum
}

// RecoverSecret reconstructs f(0) from at least MinThreshold distinct
// shares via Lagrange interpolation in GF(Prime), using every distinct
// share supplied. The result is the secret only if at least the n used by
// MakeRandomShares are supplied; fewer (but at least MinThreshold) yield
// an unrelated value without an error. Malformed shares, or fewer than
// MinThreshold of them, produce an error.
func RecoverSecret(shares []Share) (*big.Int, error) {
	if len(shares) < MinThreshold {
		return nil, errs.Newf(errs.KindInvalidThreshold,
			"need at least %d shares, got %d", MinThreshold, len(shares))
	}

	xs := make([]*big.Int, 0, len(shares))
	ys := make([]*big.Int, 0, len(shares))
	seen := map[string]bool{}
	for _, s := range shares {
		x, y, err := decodeShare(s)
		if err != nil {
			return nil, err
		}
		key := x.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		xs = append(xs, x)
		ys = append(ys, y)
	}
	if len(xs) < MinThreshold {
		return nil, errs.Newf(errs.KindInvalidThreshold, "need %d distinct share points", MinThreshold)
	}

	return lagrangeInterpolate(big.NewInt(0), xs, ys), nil
}

func decodeShare(s Share) (x, y *big.Int, err error) {
	parts := strings.SplitN(string(s), "-", 2)
	if len(parts) != 2 {
		return nil, nil, errs.Newf(errs.KindInvalidThreshold, "malformed share: %q", s)
	}
	x, ok := new(big.Int).SetString(parts[0], 16)
	if !ok {
		return nil, nil, errs.Newf(errs.KindInvalidThreshold, "malformed share x: %q", s)
	}
	y, ok = new(big.Int).SetString(parts[1], 16)
	if !ok {
		return nil, nil, errs.Newf(errs.KindInvalidThreshold, "malformed share y: %q", s)
	}
	return x, y, nil
}

// modInverse returns the multiplicative inverse of a modulo Prime, via the
// extended Euclidean algorithm.
func modInverse(a *big.Int) *big.Int {
	return new(big.Int).ModInverse(new(big.Int).Mod(a, Prime), Prime)
}

// divMod computes num/den (mod Prime): num * modInverse(den) mod Prime.
func divMod(num, den *big.Int) *big.Int {
	inv := modInverse(den)
	return new(big.Int).Mod(new(big.Int).Mul(num, inv), Prime)
}

// lagrangeInterpolate evaluates, at x, the unique degree-(k-1) polynomial
// through the k points (xs[i], ys[i]), all arithmetic modulo Prime.
func lagrangeInterpolate(x *big.Int, xs, ys []*big.Int) *big.Int {
	k := len(xs)
	total := new(big.Int)
	for i := 0; i < k; i++ {
		num := big.NewInt(1)
		den := big.NewInt(1)
		for j := 0; j < k; j++ {
			if i == j {
				continue
			}
			// num *= (x - xs[j])
			diff := new(big.Int).Sub(x, xs[j])
			num.Mul(num, diff)
			num.Mod(num, Prime)
			// den *= (xs[i] - xs[j])
			diff = new(big.Int).Sub(xs[i], xs[j])
			den.Mul(den, diff)
			den.Mod(den, Prime)
		}
		term := divMod(new(big.Int).Mul(num, ys[i]), den)
		total.Add(total, term)
		total.Mod(total, Prime)
	}
	// total may be negative-equivalent; normalize into [0, Prime).
	total.Mod(total, Prime)
	if total.Sign() < 0 {
		total.Add(total, Prime)
	}
	return total
}
