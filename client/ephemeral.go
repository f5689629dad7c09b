package client

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/passcrow/passcrow/primitives"
)

// ephemeralKeyAlphabet excludes glyphs that are easily confused when
// transcribed by hand (0/O, 1/l/I, +, /); it mirrors the filtering
// client.py's make_ephemeral applies to a base64-encoded random seed.
const ephemeralKeyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

// ephemeralKeyLength is the number of alphabet characters in the key,
// before the "4-4-4-4" dash grouping is applied.
const ephemeralKeyLength = 16

// newEphemeralUserKey mints a 16-character, confusables-free key grouped
// as "XXXX-XXXX-XXXX-XXXX" for a human to transcribe.
func newEphemeralUserKey() (string, error) {
	alphabetSize := big.NewInt(int64(len(ephemeralKeyAlphabet)))
	var b strings.Builder
	for b.Len() < ephemeralKeyLength {
		idx, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		b.WriteByte(ephemeralKeyAlphabet[idx.Int64()])
	}
	key := b.String()
	return fmt.Sprintf("%s-%s-%s-%s", key[0:4], key[4:8], key[8:12], key[12:16]), nil
}

// ephemeralEscrowKey derives the AES-256 key used to seal/open the ERD
// wrapping the uploaded pack -- the same per-record channel key every
// other escrow record uses, just fixed instead of randomly generated so a
// fresh client can re-derive it from the user key alone.
func ephemeralEscrowKey(userKey string) ([]byte, error) {
	return primitives.DeriveKey([][]byte{[]byte(userKey)}, []byte("Escrow Key"), primitives.NFactorInteractive, 256)
}

// ephemeralPackKey derives the AES-256 key that encrypts the uploaded
// pack's own content (as opposed to ephemeralEscrowKey, which only
// protects the ERD channel it travels through). Using an unsalted
// derivation here, distinct from the "Escrow Key"/"Escrow ID" salts, means
// compromising one does not expose the other.
func ephemeralPackKey(userKey string) ([]byte, error) {
	return primitives.DeriveKey([][]byte{[]byte(userKey)}, nil, primitives.NFactorInteractive, 256)
}

// ephemeralEscrowID derives the deterministic escrow_data_id a client
// asks the server to honor as prefer_id for the uploaded pack, so a fresh
// client with only the user key can compute where to look without first
// asking any server.
func ephemeralEscrowID(userKey string) (string, error) {
	derived, err := primitives.DeriveKey([][]byte{[]byte(userKey)}, []byte("Escrow ID"), primitives.NFactorInteractive, 128)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(derived), nil
}
