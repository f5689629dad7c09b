// Package identity models Passcrow's contact-address grammar -- strings of
// the form "kind:address", such as "mailto:a@example.org" or
// "tel:+15551234567" -- along with the validators that check them and the
// small policy-text grammar clients use to describe, in one line, who
// should be asked to hold a share.
//
// The validator set is an explicit, constructed Registry rather than a
// package-level map: a server decides which identity kinds it accepts, and
// two servers in the same process may accept different sets.
package identity

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/passcrow/passcrow/errs"
)

// Identity is a validated "kind:address" contact string.
type Identity string

// Kind returns the portion of the identity before the first colon.
func (id Identity) Kind() string {
	k, _, _ := strings.Cut(string(id), ":")
	return k
}

// Address returns the portion of the identity after the first colon.
func (id Identity) Address() string {
	_, a, _ := strings.Cut(string(id), ":")
	return a
}

func (id Identity) String() string { return string(id) }

// Validator checks that an identity's address is well-formed for its kind
// and, optionally, produces a human-safe hint describing it (e.g. a
// partially redacted e-mail address) for use in prompts and logs.
type Validator interface {
	Validate(address string) error
	Hint(address string) string
}

// Registry holds the set of identity kinds a server or client accepts.
type Registry struct {
	validators map[string]Validator
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{validators: make(map[string]Validator)}
}

// Register associates kind (e.g. "mailto") with the validator that checks
// addresses of that kind.
func (r *Registry) Register(kind string, v Validator) {
	r.validators[kind] = v
}

// Parse validates raw as a "kind:address" identity against r's registered
// validators, returning errs.KindUnsupportedKind if raw's kind is not
// registered, or errs.KindBadRequest if the address is malformed.
func (r *Registry) Parse(raw string) (Identity, error) {
	kind, address, ok := strings.Cut(raw, ":")
	if !ok || address == "" {
		return "", errs.Newf(errs.KindBadRequest, "malformed identity: %q", raw)
	}
	v, ok := r.validators[kind]
	if !ok {
		return "", errs.Newf(errs.KindUnsupportedKind, "unsupported identity kind: %q", kind)
	}
	if err := v.Validate(address); err != nil {
		return "", errs.Newf(errs.KindBadRequest, "invalid %s identity: %v", kind, err)
	}
	return Identity(raw), nil
}

// Hint returns a human-safe description of id, via its kind's validator, or
// id's address unchanged if the kind is unregistered.
func (r *Registry) Hint(id Identity) string {
	v, ok := r.validators[id.Kind()]
	if !ok {
		return id.Address()
	}
	return v.Hint(id.Address())
}

// NewDefaultRegistry builds a Registry with the two identity kinds the
// reference handlers support out of the box: mailto/email and tel/sms.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("mailto", MailtoValidator{})
	r.Register("email", MailtoValidator{})
	r.Register("tel", TelValidator{})
	r.Register("sms", TelValidator{})
	return r
}

// MailtoValidator validates e-mail addresses via net/mail, same as the
// reference mailto: handler's stance: reject anything that wouldn't parse
// as a single RFC 5322 address.
type MailtoValidator struct{}

func (MailtoValidator) Validate(address string) error {
	addr, err := mail.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if addr.Address != address {
		return fmt.Errorf("identity: unexpected address form %q", address)
	}
	return nil
}

func (MailtoValidator) Hint(address string) string {
	user, domain, ok := strings.Cut(address, "@")
	if !ok {
		return address
	}
	switch domain {
	case "gmail.com", "hotmail.com", "outlook.com", "yahoo.com":
		// High-population domains don't need anonymizing; showing them
		// plainly helps the user recognize the right account.
		return fmt.Sprintf("%s*@%s", redactPrefix(user), domain)
	default:
		d1 := domain[:1]
		tailLen := (2 * (len(domain) - 1)) / 3
		d2 := domain
		if tailLen < len(domain) {
			d2 = domain[len(domain)-tailLen:]
		}
		return fmt.Sprintf("%s*@%s*%s", redactPrefix(user), d1, d2)
	}
}

func redactPrefix(s string) string {
	n := len(s) / 3
	if n < 1 {
		n = 1
	}
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}

// telRe is deliberately permissive (optional leading +, then 7-19
// characters of digits, spaces or dashes that begin and end with a
// digit), matching the loose validation the reference SMS/tel
// handlers perform: it exists to catch typos, not to be an authoritative
// phone number grammar.
var telRe = regexp.MustCompile(`^\+?[0-9][0-9 -]{5,17}[0-9]$`)

// TelValidator validates phone numbers for the tel: and sms: kinds.
type TelValidator struct{}

func (TelValidator) Validate(address string) error {
	if !telRe.MatchString(address) {
		return fmt.Errorf("identity: does not look like a phone number: %q", address)
	}
	return nil
}

func (TelValidator) Hint(address string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, address)
	if len(digits) <= 4 {
		return "+" + digits
	}
	return "+" + strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}
