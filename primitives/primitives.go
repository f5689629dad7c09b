// Package primitives implements the small set of cryptographic building
// blocks Passcrow's protocol layers are built from: secure random bytes,
// scrypt key derivation, and AES-256-GCM authenticated encryption. Every
// other package in this module reaches its keys and ciphertexts through
// here rather than touching crypto/aes or golang.org/x/crypto/scrypt
// directly, so the KDF cost parameters and AEAD conventions stay in one
// place. The one exception is package hashcash, which calls scrypt
// directly with its own fixed proof-of-work parameters.
package primitives

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/scrypt"

	"github.com/passcrow/passcrow/errs"
)

// DefaultAAD is the fixed associated data bound to every AEAD operation in
// the protocol, unless a caller has a protocol-specific reason to override
// it. It is not a secret; it just pins ciphertexts to this application.
const DefaultAAD = "Passcrow Encrypted Data"

// NonceSize is the size, in bytes, of the random GCM nonce prefixed to
// every ciphertext this package produces.
const NonceSize = 16

// scrypt cost presets (spec §4.1). N = 2^NFactor, r=8, p=1 in all cases.
const (
	// NFactorInteractive is used to stretch a short, human-typed secret
	// (an ephemeral recovery key or a passphrase). Deliberately slow.
	NFactorInteractive = 20
	// NFactorStretch is used to further harden an already-random key,
	// e.g. before handing it to a lower-entropy transport.
	NFactorStretch = 14
	// NFactorHashcash is the cost of the hashcash proof-of-work collision
	// search (N=256), where speed matters more than KDF hardness. Package
	// hashcash does not read this constant; it fixes the same N itself.
	NFactorHashcash = 8
)

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("primitives: random source failed: %w", err)
	}
	return b, nil
}

// DeriveKey runs scrypt(N=2^nFactor, r=8, p=1) over the concatenation of
// inputs, with the given salt, producing a key of lengthBits bits.
// lengthBits must be one of 128, 192, or 256.
func DeriveKey(inputs [][]byte, salt []byte, nFactor int, lengthBits int) ([]byte, error) {
	switch lengthBits {
	case 128, 192, 256:
	default:
		return nil, fmt.Errorf("primitives: invalid key length %d bits", lengthBits)
	}
	var joined []byte
	for _, in := range inputs {
		joined = append(joined, in...)
	}
	key, err := scrypt.Key(joined, salt, 1<<uint(nFactor), 8, 1, lengthBits/8)
	if err != nil {
		return nil, fmt.Errorf("primitives: scrypt failed: %w", err)
	}
	return key, nil
}

// RandomKey mints a fresh AES-256 key by stretching OS randomness through a
// fast scrypt pass (NFactorStretch). This mirrors the reference
// implementation's defensive stance against a weak platform RNG: even if
// the OS random source turned out to be poor, the scrypt stage still mixes
// in enough independent, slow-to-predict derivation work to matter.
func RandomKey() ([]byte, error) {
	seed, err := RandomBytes(256 / 8)
	if err != nil {
		return nil, err
	}
	return DeriveKey([][]byte{seed}, nil, NFactorStretch, 256)
}

// AEADEncrypt seals plaintext under key (AES-256-GCM), binding aad, and
// returns nonce||ciphertext||tag. A fresh random nonce is generated for
// every call; nonces are never reused with the same key.
func AEADEncrypt(key, plaintext []byte, aad string) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce, err := RandomBytes(NonceSize)
	if err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, nonce, plaintext, []byte(aad))
	return append(nonce, sealed...), nil
}

// AEADDecrypt is the inverse of AEADEncrypt. Any corruption of key, nonce,
// ciphertext, or aad produces errs.KindDecryptError with no further detail.
func AEADDecrypt(key, sealed []byte, aad string) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < NonceSize {
		return nil, errs.New(errs.KindDecryptError)
	}
	nonce, ciphertext := sealed[:NonceSize], sealed[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(aad))
	if err != nil {
		return nil, errs.New(errs.KindDecryptError)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("primitives: bad AES key: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("primitives: could not build GCM: %w", err)
	}
	return aead, nil
}

// KeyToInt interprets a key as a big-endian unsigned integer, for handing
// off to the secret-sharing field arithmetic in package sharing.
func KeyToInt(key []byte) *big.Int {
	return new(big.Int).SetBytes(key)
}

// KeyFromInt is the inverse of KeyToInt: it renders i as a big-endian byte
// slice exactly byteLen bytes long (left-padded with zeroes), so the
// recovered AES key has the expected fixed width.
func KeyFromInt(i *big.Int, byteLen int) []byte {
	raw := i.Bytes()
	if len(raw) >= byteLen {
		return raw[len(raw)-byteLen:]
	}
	out := make([]byte, byteLen)
	copy(out[byteLen-len(raw):], raw)
	return out
}
