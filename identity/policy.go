package identity

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/passcrow/passcrow/errs"
)

// ServerPolicy names a Passcrow server and the identity kinds it will
// accept, written as "<kind>[,<kind>...] via <server>".
type ServerPolicy struct {
	Kinds  []string
	Server string
}

func (p ServerPolicy) String() string {
	return fmt.Sprintf("%s via %s", strings.Join(p.Kinds, ", "), p.Server)
}

// ParseServerPolicy parses the "<kinds> via <server>" grammar.
func ParseServerPolicy(text string) (ServerPolicy, error) {
	kindsPart, server, ok := strings.Cut(text, " via ")
	if !ok {
		return ServerPolicy{}, errs.Newf(errs.KindBadRequest, "malformed server policy: %q", text)
	}
	var kinds []string
	for _, k := range strings.Split(kindsPart, ",") {
		kinds = append(kinds, strings.TrimSpace(k))
	}
	return ServerPolicy{Kinds: kinds, Server: server}, nil
}

// IdentityPolicy is one line of a client's protection policy: who to ask,
// who to warn, who to notify, and (optionally) which server to use, written
// as:
//
//	<id>[, warn=<id>][, notify=<id>][ via <server>]
type IdentityPolicy struct {
	ID     Identity
	Warn   Identity
	Notify Identity
	Server string
}

func (p IdentityPolicy) Usable() bool { return p.Server != "" && p.ID != "" }

func (p IdentityPolicy) String() string {
	var b strings.Builder
	b.WriteString(string(p.ID))
	if p.Warn != "" {
		fmt.Fprintf(&b, ", warn=%s", p.Warn)
	}
	if p.Notify != "" {
		fmt.Fprintf(&b, ", notify=%s", p.Notify)
	}
	if p.Server != "" {
		fmt.Fprintf(&b, " via %s", p.Server)
	}
	return b.String()
}

// ParseIdentityPolicy parses one policy line against reg, validating every
// identity it names. defaultServer is used when the line omits " via ...".
func ParseIdentityPolicy(reg *Registry, text string, defaultServer string) (IdentityPolicy, error) {
	text = collapseSpace(strings.TrimSpace(text))

	server := defaultServer
	rest := text
	if before, after, ok := cutLast(text, " via "); ok {
		rest, server = before, after
	}

	var notify, warn string
	if before, after, ok := cutLast(rest, ", notify="); ok {
		rest, notify = before, after
	}
	if before, after, ok := cutLast(rest, ", warn="); ok {
		rest, warn = before, after
	}

	id, err := reg.Parse(rest)
	if err != nil {
		return IdentityPolicy{}, err
	}
	p := IdentityPolicy{ID: id, Server: server}

	if warn != "" && warn != "-" {
		w, err := reg.Parse(warn)
		if err != nil {
			return IdentityPolicy{}, err
		}
		p.Warn = w
	}
	if notify != "" && notify != "-" {
		n, err := reg.Parse(notify)
		if err != nil {
			return IdentityPolicy{}, err
		}
		p.Notify = n
	}
	return p, nil
}

// cutLast splits s on the last occurrence of sep, mirroring Python's
// str.rsplit(sep, 1) used by the reference parser (warn=/notify=/via must
// bind to the rightmost occurrence, since an identity's address could in
// principle itself contain the separator text).
func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ClientPolicy is a client's overall protection policy: the identities to
// escrow shares with, and the desired (n, m) threshold.
type ClientPolicy struct {
	Identities []IdentityPolicy
	N, M       int
}

// AbsoluteRatio adjusts (n, m) to the number of identities actually
// available (minus reserve, e.g. for an ephemeral-pack upload slot),
// preserving the configured ratio as closely as integer rounding allows.
// A single available identity always yields (1, 1): zero is never an
// acceptable threshold.
func (p ClientPolicy) AbsoluteRatio(reserve int) (n, m int) {
	available := len(p.Identities) - reserve
	if available == 1 {
		return 1, 1
	}
	if p.N > 0 && p.N <= p.M && p.M == available {
		return p.N, p.M
	}
	adjust := float64(available) / float64(p.M)
	rn := int(float64(p.N)*adjust + 0.5)
	if rn < 1 {
		rn = 1
	}
	return rn, available
}

// DefaultPolicy is the client's persisted default configuration: its
// fallback identity policies, known servers, and default share ratio.
type DefaultPolicy struct {
	Identities      []IdentityPolicy
	Servers         []ServerPolicy
	N, M            int
	ExpirationDays  int
	TimeoutMinutes  int
}

// ParseDefaultPolicy parses a persisted default-policy file: one
// "n/m" ratio line, followed by "via" server-policy lines and plain
// identity-policy lines, blank lines and "#"-prefixed comments ignored.
// This mirrors the reference client's load_default_policy, which reads a
// local text file of exactly this shape (spec's distillation omits default
// policy persistence; this supplements it from the original implementation).
func ParseDefaultPolicy(reg *Registry, text string) (DefaultPolicy, error) {
	dp := DefaultPolicy{N: 3, M: 4, ExpirationDays: 365, TimeoutMinutes: 30}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if n, m, ok := parseRatioLine(line); ok {
			dp.N, dp.M = n, m
			continue
		}
		if strings.Contains(line, " via ") && !strings.Contains(line, "@") && !strings.Contains(line, ":") {
			sp, err := ParseServerPolicy(line)
			if err != nil {
				return DefaultPolicy{}, err
			}
			dp.Servers = append(dp.Servers, sp)
			continue
		}
		if looksLikeServerPolicy(line) {
			sp, err := ParseServerPolicy(line)
			if err != nil {
				return DefaultPolicy{}, err
			}
			dp.Servers = append(dp.Servers, sp)
			continue
		}
		ip, err := ParseIdentityPolicy(reg, line, "")
		if err != nil {
			return DefaultPolicy{}, err
		}
		dp.Identities = append(dp.Identities, ip)
	}
	return dp, nil
}

// looksLikeServerPolicy distinguishes a server-policy line ("mailto,tel via
// example.org") from an identity-policy line ("mailto:a@example.org via
// example.org") by checking whether its pre-"via" segment contains a colon;
// identity policies always do (the kind:address grammar), server policies
// never do (just a comma list of bare kind names).
func looksLikeServerPolicy(line string) bool {
	before, _, ok := strings.Cut(line, " via ")
	if !ok {
		return false
	}
	return !strings.Contains(before, ":")
}

func parseRatioLine(line string) (n, m int, ok bool) {
	before, after, found := strings.Cut(line, "/")
	if !found {
		return 0, 0, false
	}
	n, err1 := strconv.Atoi(strings.TrimSpace(before))
	m, err2 := strconv.Atoi(strings.TrimSpace(after))
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return n, m, true
}
