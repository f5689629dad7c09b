package client

import (
	"encoding/base32"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/passcrow/passcrow/proto"
	"github.com/passcrow/passcrow/sharing"
)

// VerificationPrefixes is the confusable-free alphabet used to tag each
// escrow record with a single character a human can read back over the
// phone or copy from an email, disambiguating multiple concurrent
// verifications landing in one inbox.
const VerificationPrefixes = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// ephemeralRecordKind marks an EscrowRecord that holds an encrypted
// RecoveryPack (the ephemeral upload slot) rather than a share of the
// protected secret -- distinct from the real identity kind (mailto, tel,
// ...) the share happened to be delivered through.
const ephemeralRecordKind = "ephemeral"

// SecretBlob wraps the user's protected secret so it travels through
// proto.Sealed like every other encrypted record in this module.
type SecretBlob struct {
	Data []byte `json:"data"`
}

// EscrowRecord is one server's share of a RecoveryPack: which identity
// kind it was escrowed under, which server holds it, the server's
// EscrowResponse, and the per-ERD key needed to decrypt it later.
type EscrowRecord struct {
	Kind        string              `json:"kind"`
	Server      string              `json:"server"`
	Response    proto.EscrowResponse `json:"response"`
	RecoveryKey string              `json:"recovery-key"`
}

// RecoveryPack is the client-local record binding a secret's ciphertext,
// any locally-held extra shares, and the list of remote escrow records
// needed to reconstruct it.
type RecoveryPack struct {
	Name        string                   `json:"name"`
	Secret      proto.Sealed[SecretBlob] `json:"secret"`
	CreatedTS   int64                    `json:"created-ts"`
	IsEphemeral bool                     `json:"is-ephemeral,omitempty"`
	EphemeralID string                   `json:"ephemeral-id,omitempty"`
	Description string                   `json:"description"`
	MinShares   int                      `json:"min-shares"`
	Shares      []sharing.Share          `json:"shares"`
	Escrow      []EscrowRecord           `json:"escrow"`
}

// Kinds lists the identity kind of every escrow record, sorted.
func (p RecoveryPack) Kinds() []string {
	kinds := make([]string, len(p.Escrow))
	for i, e := range p.Escrow {
		kinds[i] = e.Kind
	}
	sort.Strings(kinds)
	return kinds
}

// Created returns the pack's creation time.
func (p RecoveryPack) Created() time.Time {
	return time.Unix(p.CreatedTS, 0)
}

// ExpiresAt is the earliest expiration promised by any of the pack's
// remote escrow records -- the pack as a whole is only as durable as its
// weakest link.
func (p RecoveryPack) ExpiresAt() time.Time {
	var earliest int64
	for i, e := range p.Escrow {
		if i == 0 || e.Response.Expiration < earliest {
			earliest = e.Response.Expiration
		}
	}
	return time.Unix(earliest, 0)
}

// PrefixedRecord pairs one escrow record with its single-character
// verification prefix.
type PrefixedRecord struct {
	Prefix string
	Record EscrowRecord
}

// PrefixedEscrow returns the escrow records a verify/recover round should
// address, each tagged with a prefix from VerificationPrefixes. When the
// pack also carries a reserved ephemeral upload slot (EphemeralID set),
// that trailing record is excluded: it holds the encrypted pack itself,
// not a share of the protected secret, and is only ever addressed directly
// by the ephemeral recovery id.
func (p RecoveryPack) PrefixedEscrow() []PrefixedRecord {
	escrowed := p.Escrow
	if p.EphemeralID != "" && len(escrowed) > 0 {
		escrowed = escrowed[:len(escrowed)-1]
	}
	prefixes := []rune(VerificationPrefixes)
	out := make([]PrefixedRecord, 0, len(escrowed))
	for i, e := range escrowed {
		if i >= len(prefixes) {
			break
		}
		out = append(out, PrefixedRecord{Prefix: string(prefixes[i]), Record: e})
	}
	return out
}

// PackStore persists RecoveryPacks locally, between protect/verify/recover
// calls and across process restarts.
type PackStore interface {
	Load(name string) (RecoveryPack, error)
	Save(pack RecoveryPack) error
	Delete(name string) error
	List() ([]string, error)
}

const packSuffix = ".passcrow"

// FileSystemPackStore stores each RecoveryPack as one JSON file per name
// under Dir, matching client.py's _packfilename/__iter__ convention: names
// safe to use directly as a filename (no path separators, no leading dot)
// are used verbatim; anything else is base32-encoded behind a "_" prefix
// so it still round-trips through __iter__'s reverse mapping.
type FileSystemPackStore struct {
	Dir string
}

func NewFileSystemPackStore(dir string) *FileSystemPackStore {
	return &FileSystemPackStore{Dir: dir}
}

func (s *FileSystemPackStore) filename(name string) string {
	if isSafePackName(name) {
		return filepath.Join(s.Dir, name+packSuffix)
	}
	encoded := "_" + strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString([]byte(name)))
	return filepath.Join(s.Dir, encoded+packSuffix)
}

func isSafePackName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `\/:`)
}

func (s *FileSystemPackStore) Load(name string) (RecoveryPack, error) {
	var pack RecoveryPack
	raw, err := os.ReadFile(s.filename(name))
	if err != nil {
		return pack, err
	}
	if err := json.Unmarshal(raw, &pack); err != nil {
		return pack, err
	}
	return pack, nil
}

func (s *FileSystemPackStore) Save(pack RecoveryPack) error {
	raw, err := json.MarshalIndent(pack, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.filename(pack.Name), raw, 0o600)
}

func (s *FileSystemPackStore) Delete(name string) error {
	err := os.Remove(s.filename(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileSystemPackStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		fn := e.Name()
		if !strings.HasSuffix(fn, packSuffix) {
			continue
		}
		base := strings.TrimSuffix(fn, packSuffix)
		if strings.HasPrefix(base, "_") {
			decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(base[1:]))
			if err != nil {
				continue
			}
			names = append(names, string(decoded))
			continue
		}
		names = append(names, base)
	}
	sort.Strings(names)
	return names, nil
}
