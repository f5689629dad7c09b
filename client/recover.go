package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/passcrow/passcrow/errs"
	"github.com/passcrow/passcrow/primitives"
	"github.com/passcrow/passcrow/proto"
	"github.com/passcrow/passcrow/sharing"
)

type recoverItem struct {
	code   string
	record EscrowRecord
	secret string
}

type recoverTask struct{}

func (recoverTask) Prepare(item *recoverItem, delay time.Duration) (request, error) {
	req := proto.RecoveryRequest{
		Version:       proto.Version,
		EscrowDataID:  item.record.Response.EscrowDataID,
		EscrowDataKey: item.record.RecoveryKey,
		Verification:  item.code,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return request{}, err
	}
	return request{Server: item.record.Server, Endpoint: "recoveryrequest", Payload: payload}, nil
}

func (recoverTask) OnSuccess(item *recoverItem, resp []byte) error {
	var rresp proto.RecoveryResponse
	if err := json.Unmarshal(resp, &rresp); err != nil {
		return fmt.Errorf("client: decode recovery response: %w", err)
	}
	if rresp.Error != "" {
		return errs.Newf(errs.Kind(rresp.Error), "recovery request refused")
	}
	item.secret = rresp.EscrowSecret
	return nil
}

func (recoverTask) OnFailure(item *recoverItem, err error) string {
	return fmt.Sprintf("%s on %s: %v", item.record.Response.EscrowDataID, item.record.Server, err)
}

// ErrRecoveryFailed reports that fewer than pack.MinShares codes
// recovered a share.
var ErrRecoveryFailed = fmt.Errorf("client: recovery failed")

// RecoverOutcome is the result of one Recover round. Exactly one of
// Secret or NextPack is set on success.
type RecoverOutcome struct {
	// Secret is the fully reconstructed protected secret, once enough
	// shares (local plus remote) were collected to rebuild it.
	Secret []byte
	// NextPack is set instead of Secret when this round's shares turned
	// out to be identical copies of an ephemeral pack's ciphertext
	// (Design Note: the "pack reinterpreted as ephemeral" case is modeled
	// as this explicit extra round rather than mutating pack in place).
	// The caller must Verify and Recover again against *NextPack to
	// retrieve the actual secret.
	NextPack *RecoveryPack
}

// Recover redeems codes (one per verification prefix, e.g. "A-111111",
// matched case-insensitively by leading character) against pack. If pack
// is an ephemeral pack recovered via EphemeralPack, the first round
// yields a RecoverOutcome.NextPack rather than a secret; the caller
// Verifies and Recovers again against that pack to finish.
func (c *Client) Recover(ctx context.Context, pack RecoveryPack, codes []string, quick bool) (RecoverOutcome, error) {
	byPrefix := make(map[string]string, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		byPrefix[strings.ToUpper(code[:1])] = code
	}

	var items []*recoverItem
	for _, pe := range pack.PrefixedEscrow() {
		code, ok := byPrefix[pe.Prefix]
		if !ok {
			continue
		}
		items = append(items, &recoverItem{code: code, record: pe.Record})
	}

	result := runTaskLoop(ctx, c.RPC, c.Sleep, c.Config.SleepMin, c.Config.SleepMax, quick, items, recoverTask{})
	for _, f := range result.Failures {
		c.Log.Warn("recover: attempt failed", zap.String("detail", f))
	}

	var shares []string
	for _, it := range items {
		if it.secret != "" {
			shares = append(shares, it.secret)
		}
	}
	if len(shares) < pack.MinShares {
		return RecoverOutcome{}, ErrRecoveryFailed
	}

	isEphemeralRound := len(items) > 0
	for _, it := range items {
		if it.record.Kind != ephemeralRecordKind {
			isEphemeralRound = false
			break
		}
	}
	if isEphemeralRound && allEqual(shares) {
		unwrapped, err := unwrapEphemeralPack(pack.Name, shares[0])
		if err != nil {
			return RecoverOutcome{}, err
		}
		if err := c.Store.Save(unwrapped); err != nil {
			return RecoverOutcome{}, err
		}
		return RecoverOutcome{NextPack: &unwrapped}, nil
	}

	secretShares := append([]sharing.Share{}, pack.Shares...)
	for _, s := range shares {
		secretShares = append(secretShares, sharing.Share(s))
	}
	k, err := sharing.RecoverSecret(secretShares)
	if err != nil {
		return RecoverOutcome{}, err
	}
	aesKey := primitives.KeyFromInt(k, 32)
	blob, err := pack.Secret.Open(aesKey)
	if err != nil {
		return RecoverOutcome{}, err
	}
	return RecoverOutcome{Secret: blob.Data}, nil
}

func allEqual(ss []string) bool {
	if len(ss) == 0 {
		return false
	}
	for _, s := range ss[1:] {
		if s != ss[0] {
			return false
		}
	}
	return true
}

// unwrapEphemeralPack decrypts an ephemeral pack's ciphertext (returned,
// base64-encoded, by the server as the recovered share of the reserved
// upload identity) using the pack's own key, independent of the
// ephemeralEscrowKey that only protected the ERD channel it traveled
// through.
func unwrapEphemeralPack(userKey, encoded string) (RecoveryPack, error) {
	key, err := ephemeralPackKey(userKey)
	if err != nil {
		return RecoveryPack{}, err
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return RecoveryPack{}, fmt.Errorf("client: ephemeral pack is not valid base64: %w", err)
	}
	sealed := proto.SealedFromCiphertext[RecoveryPack](raw)
	pack, err := sealed.Open(key)
	if err != nil {
		return RecoveryPack{}, err
	}
	pack.Name = userKey
	return pack, nil
}

// EphemeralPack builds the synthetic, single-record RecoveryPack a fresh
// client (no local state) uses to address an ephemeral upload directly:
// name is "<server>:<user-key>", exactly what Protect returns when called
// with EphemeralOnly or EphemeralBoth.
func EphemeralPack(name string) (RecoveryPack, error) {
	server, userKey, ok := strings.Cut(name, ":")
	if !ok {
		return RecoveryPack{}, fmt.Errorf("client: %q is not a <server>:<user-key> ephemeral name", name)
	}
	escrowID, err := ephemeralEscrowID(userKey)
	if err != nil {
		return RecoveryPack{}, err
	}
	escrowKey, err := ephemeralEscrowKey(userKey)
	if err != nil {
		return RecoveryPack{}, err
	}
	return RecoveryPack{
		Name:      userKey,
		MinShares: 1,
		Escrow: []EscrowRecord{{
			Kind:        ephemeralRecordKind,
			Server:      server,
			RecoveryKey: base64.StdEncoding.EncodeToString(escrowKey),
			Response:    proto.EscrowResponse{EscrowDataID: escrowID},
		}},
	}, nil
}
