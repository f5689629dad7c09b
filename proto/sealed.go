package proto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/passcrow/passcrow/primitives"
)

// Sealed[T] models a field that is either a plaintext record (Plain) or an
// opaque, AEAD-encrypted ciphertext (Sealed) -- never both, never decided
// at runtime by inspecting its type. Seal consumes the plaintext side and
// produces the ciphertext side; Open is its inverse. Only a Sealed value
// (ciphertext != nil) can be marshaled to JSON, matching the wire format
// where these fields are always base64 ciphertext strings.
type Sealed[T any] struct {
	ciphertext []byte
	value      *T
}

// Plain wraps v as an as-yet-unsealed record.
func Plain[T any](v T) Sealed[T] {
	return Sealed[T]{value: &v}
}

// SealedValue reports whether s currently holds ciphertext (true) or a
// plaintext record awaiting Seal (false).
func (s Sealed[T]) SealedValue() bool { return s.ciphertext != nil }

// Seal JSON-encodes s's plaintext record and AEAD-encrypts it under key,
// returning a new Sealed[T] holding only the ciphertext. It fails if s has
// no plaintext record (already sealed, or zero-valued).
func (s Sealed[T]) Seal(key []byte) (Sealed[T], error) {
	if s.value == nil {
		return Sealed[T]{}, fmt.Errorf("proto: Seal called on a value with nothing to seal")
	}
	raw, err := json.Marshal(s.value)
	if err != nil {
		return Sealed[T]{}, fmt.Errorf("proto: marshal before seal: %w", err)
	}
	ct, err := primitives.AEADEncrypt(key, raw, primitives.DefaultAAD)
	if err != nil {
		return Sealed[T]{}, err
	}
	return Sealed[T]{ciphertext: ct}, nil
}

// Open decrypts and JSON-decodes s's ciphertext under key. It fails if s
// holds no ciphertext, if key is wrong (errs.KindDecryptError), or if the
// decrypted bytes are not valid JSON for T.
func (s Sealed[T]) Open(key []byte) (T, error) {
	var zero T
	if s.ciphertext == nil {
		return zero, fmt.Errorf("proto: Open called on a value with nothing sealed")
	}
	raw, err := primitives.AEADDecrypt(key, s.ciphertext, primitives.DefaultAAD)
	if err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, fmt.Errorf("proto: decrypted payload is not valid: %w", err)
	}
	return v, nil
}

// Ciphertext returns s's raw sealed bytes, or nil if s is not sealed.
func (s Sealed[T]) Ciphertext() []byte { return s.ciphertext }

// SealedFromCiphertext wraps already-sealed bytes (e.g. received from the
// wire, or read back out of storage) without going through JSON.
func SealedFromCiphertext[T any](ciphertext []byte) Sealed[T] {
	return Sealed[T]{ciphertext: ciphertext}
}

func (s Sealed[T]) MarshalJSON() ([]byte, error) {
	if s.ciphertext == nil {
		return nil, fmt.Errorf("proto: cannot marshal an unsealed value; call Seal first")
	}
	return json.Marshal(base64.StdEncoding.EncodeToString(s.ciphertext))
}

func (s *Sealed[T]) UnmarshalJSON(data []byte) error {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return fmt.Errorf("proto: sealed field is not a string: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("proto: sealed field is not valid base64: %w", err)
	}
	s.ciphertext = ct
	s.value = nil
	return nil
}
