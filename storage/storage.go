// Package storage implements the keyed, expiring store the server engine
// uses for its three tables (escrow rows, verification codes, rate-limit
// tokens). Each row lives under a canonical id "<expiration-hex>-<id-hex>";
// the leading expiration lets a sweep pass find stale rows without reading
// row content, and a row whose expiration has passed is treated as if it
// never existed, whether encountered by Fetch or by the sweeper.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/passcrow/passcrow/errs"
)

// ErrRowIDConflict is returned by Insert when a caller-preferred row id
// collides with an unexpired row already occupying it. The caller should
// retry with no preferred id.
var ErrRowIDConflict = errors.New("storage: preferred row id is already in use")

// rowIDRe matches a canonical row id: hex expiration, a dash, hex suffix.
var rowIDRe = regexp.MustCompile(`^[0-9a-f]+-[0-9a-f]+$`)

// shardWidth is how many trailing hex characters of a row's id suffix
// select its shard directory.
const shardWidth = 3

// idSuffixBytes is how many random bytes back a generated row id suffix.
const idSuffixBytes = 16

// Store is the interface the server engine programs against; FileStore is
// the only implementation, but tests may substitute a fake.
type Store interface {
	PrepareTable(table string) error
	Insert(table string, columns [][]byte, opts InsertOptions) (rowID string, err error)
	Fetch(table, rowID string, now time.Time) ([][]byte, error)
	Delete(table, rowID string) (removed bool, err error)
	ExpireTable(table string, now time.Time) error
}

// InsertOptions customizes Insert.
type InsertOptions struct {
	// RowID, if set, is a caller-preferred id (canonical or bare suffix).
	// It is honored only if no unexpired row already occupies it.
	RowID string
	// Expiration is the row's expiration, in unix seconds. Zero means the
	// row never expires (used for rows whose lifetime is managed some
	// other way).
	Expiration int64
}

// FileStore is a directory-sharded, one-file-per-column implementation of
// Store. Each table is a subdirectory of Dir; each row's columns live as
// separate files named "<row-id>-<column-index>" under a shard directory
// keyed by the last few hex characters of the row's id suffix.
type FileStore struct {
	Dir string
}

// NewFileStore wraps an existing directory as a FileStore. The directory
// must already exist; callers create it with whatever permissions their
// deployment requires.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

// PrepareTable ensures table's directory tree exists. It is safe to call
// repeatedly. Unlike the reference implementation, shard directories are
// created lazily on first write rather than all 4096 up front; MkdirAll is
// cheap and idempotent, so there is no correctness difference.
func (fs *FileStore) PrepareTable(table string) error {
	return os.MkdirAll(filepath.Join(fs.Dir, table), 0o700)
}

func (fs *FileStore) tablePath(table string) string {
	return filepath.Join(fs.Dir, table)
}

func shard(idSuffix string) string {
	if len(idSuffix) >= shardWidth {
		return idSuffix[len(idSuffix)-shardWidth:]
	}
	return strings.Repeat("0", shardWidth-len(idSuffix)) + idSuffix
}

// rowPath returns the path of column col of canonical row id rowID in
// table, validating rowID's shape along the way.
func (fs *FileStore) rowPath(table, rowID string, col int) (string, error) {
	if !rowIDRe.MatchString(rowID) {
		return "", errs.Newf(errs.KindNotFound, "malformed row id: %q", rowID)
	}
	idSuffix := rowID[strings.IndexByte(rowID, '-')+1:]
	fn := fmt.Sprintf("%s-%x", rowID, col)
	return filepath.Join(fs.tablePath(table), shard(idSuffix), fn), nil
}

func expirationOf(rowID string) (int64, error) {
	expHex := rowID[:strings.IndexByte(rowID, '-')]
	exp, err := strconv.ParseInt(expHex, 16, 64)
	if err != nil {
		return 0, errs.Newf(errs.KindNotFound, "malformed row id: %q", rowID)
	}
	return exp, nil
}

// expired reports whether rowID's expiration has passed as of now. An
// expiration of zero means "does not expire".
func expired(rowID string, now time.Time) bool {
	exp, err := expirationOf(rowID)
	if err != nil {
		return true
	}
	return exp > 0 && exp <= now.Unix()
}

// expandRowID resolves a caller-supplied id (canonical, or a bare suffix)
// to the canonical row id currently on disk, or errs.KindNotFound.
func (fs *FileStore) expandRowID(table, rowID string) (string, error) {
	if strings.Contains(rowID, "-") {
		if path, err := fs.rowPath(table, rowID, 0); err == nil {
			if _, statErr := os.Stat(path); statErr == nil {
				return rowID, nil
			}
		}
		parts := strings.Split(rowID, "-")
		rowID = parts[len(parts)-1]
	}

	dir := filepath.Join(fs.tablePath(table), shard(rowID))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errs.Newf(errs.KindNotFound, "not found: %q", rowID)
	}
	suffix := fmt.Sprintf("-%s-0", rowID)
	now := time.Now()
	var match string
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		canonical := strings.TrimSuffix(e.Name(), "-0")
		if expired(canonical, now) {
			continue
		}
		if match != "" {
			return "", errs.Newf(errs.KindInternalError, "ambiguous row suffix: %q", rowID)
		}
		match = canonical
	}
	if match == "" {
		return "", errs.Newf(errs.KindNotFound, "not found: %q", rowID)
	}
	return match, nil
}

// Insert writes columns as a new row and returns its canonical id.
// If opts.RowID names an unexpired existing row, Insert fails rather than
// overwrite it silently; the caller (the escrow handler) falls back to a
// randomly generated id in that case, exactly as prefer-id is "honored
// when possible" in the protocol.
func (fs *FileStore) Insert(table string, columns [][]byte, opts InsertOptions) (string, error) {
	if _, err := os.Stat(fs.tablePath(table)); err != nil {
		return "", errs.Newf(errs.KindNotFound, "no such table: %q", table)
	}

	idSuffix, err := rowIDSuffix(opts.RowID)
	if err != nil {
		return "", err
	}
	rowID := fmt.Sprintf("%x-%s", opts.Expiration, idSuffix)

	if opts.RowID != "" {
		if _, err := fs.expandRowID(table, rowID); err == nil {
			return "", ErrRowIDConflict
		}
	}

	shardDir := filepath.Join(fs.tablePath(table), shard(idSuffix))
	if err := os.MkdirAll(shardDir, 0o700); err != nil {
		return "", fmt.Errorf("storage: creating shard directory: %w", err)
	}

	for col, data := range columns {
		path, err := fs.rowPath(table, rowID, col)
		if err != nil {
			return "", err
		}
		if err := writeFileAtomic(path, data); err != nil {
			return "", fmt.Errorf("storage: writing column %d: %w", col, err)
		}
	}
	return rowID, nil
}

func rowIDSuffix(preferred string) (string, error) {
	if preferred != "" {
		parts := strings.Split(preferred, "-")
		suffix := parts[len(parts)-1]
		if _, err := hex.DecodeString(suffix); err != nil {
			return "", errs.Newf(errs.KindBadRequest, "invalid preferred row id: %q", preferred)
		}
		return suffix, nil
	}
	raw := make([]byte, idSuffixBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("storage: generating row id: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// writeFileAtomic writes data to path via a temp file plus rename, so a
// crash mid-write never leaves a half-written column visible to Fetch.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + fmt.Sprintf(".tmp-%d", randomSuffix())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func randomSuffix() int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return 0
	}
	return n.Int64()
}

// Fetch reads every column of rowID's row. If the row is expired, it is
// physically removed and errs.KindNotFound is returned -- expired and
// missing are indistinguishable to callers, by design.
func (fs *FileStore) Fetch(table, rowID string, now time.Time) ([][]byte, error) {
	canonical, err := fs.expandRowID(table, rowID)
	if err != nil {
		return nil, err
	}
	isExpired := expired(canonical, now)

	var row [][]byte
	for col := 0; ; col++ {
		path, err := fs.rowPath(table, canonical, col)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			break
		}
		if isExpired {
			os.Remove(path)
		} else {
			row = append(row, data)
		}
	}
	if isExpired || len(row) == 0 {
		return nil, errs.Newf(errs.KindNotFound, "not found: %q", rowID)
	}
	return row, nil
}

// Delete removes every column of rowID's row, if any. It is idempotent:
// deleting an already-gone row succeeds and reports removed=false.
func (fs *FileStore) Delete(table, rowID string) (bool, error) {
	if _, err := os.Stat(fs.tablePath(table)); err != nil {
		return false, errs.Newf(errs.KindNotFound, "no such table: %q", table)
	}
	canonical, err := fs.expandRowID(table, rowID)
	if err != nil {
		return false, nil
	}
	removed := false
	for col := 0; ; col++ {
		path, err := fs.rowPath(table, canonical, col)
		if err != nil {
			break
		}
		if rmErr := os.Remove(path); rmErr != nil {
			break
		}
		removed = true
	}
	return removed, nil
}

// ExpireTable sweeps every shard of table, removing rows whose expiration
// has passed. It is safe to run concurrently with Insert and Fetch on the
// same table: each row's removal is a single os.Remove, and ExpireTable
// never touches a row whose expiration hasn't passed yet.
func (fs *FileStore) ExpireTable(table string, now time.Time) error {
	tpath := fs.tablePath(table)
	shards, err := os.ReadDir(tpath)
	if err != nil {
		return errs.Newf(errs.KindNotFound, "no such table: %q", table)
	}
	for _, shardEntry := range shards {
		if !shardEntry.IsDir() {
			continue
		}
		dir := filepath.Join(tpath, shardEntry.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			name := f.Name()
			dash := strings.LastIndexByte(name, '-')
			if dash < 0 {
				continue
			}
			rowPart := name[:dash]
			if !strings.Contains(rowPart, "-") {
				continue
			}
			if expired(rowPart, now) {
				os.Remove(filepath.Join(dir, name))
			}
		}
	}
	return nil
}
