// Package proto defines Passcrow's wire messages: typed envelopes with
// exact, dash-separated field names (so independent implementations stay
// wire-compatible) and a generic Sealed[T] type standing in for the fields
// that toggle between a plaintext record and an opaque ciphertext
// depending on whether they have been encrypted yet.
package proto

import (
	"github.com/passcrow/passcrow/errs"
)

// Version is the only protocol version this implementation speaks.
const Version = "1.0"

// CheckVersion rejects any version string other than Version.
func CheckVersion(v string) error {
	if v != Version {
		return errs.Newf(errs.KindUnsupportedVersion, "unsupported version: %q", v)
	}
	return nil
}
