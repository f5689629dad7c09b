package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/passcrow/passcrow/errs"
	"github.com/passcrow/passcrow/identity"
	"github.com/passcrow/passcrow/primitives"
	"github.com/passcrow/passcrow/proto"
	"github.com/passcrow/passcrow/sharing"
)

// EphemeralMode selects whether Protect uploads an encrypted copy of the
// whole RecoveryPack alongside the normal remote shares, so a fresh client
// with no local state can recover using only a human-transcribed key.
type EphemeralMode int

const (
	// EphemeralNone disables ephemeral mode: the pack is saved locally
	// and not uploaded.
	EphemeralNone EphemeralMode = iota
	// EphemeralOnly uploads the pack and does NOT save it locally;
	// recovery is only possible via the ephemeral user key.
	EphemeralOnly
	// EphemeralBoth does both: the pack is saved locally AND uploaded,
	// so either recovery path works.
	EphemeralBoth
)

// ProtectOptions configures one Protect call.
type ProtectOptions struct {
	Quick             bool
	Ephemeral         EphemeralMode
	PackDescription   string
	VerifyDescription string
}

func (o ProtectOptions) withDefaults() ProtectOptions {
	if o.PackDescription == "" {
		o.PackDescription = DefaultPackDescription
	}
	if o.VerifyDescription == "" {
		o.VerifyDescription = DefaultVerifyDescription
	}
	return o
}

// ProtectResult is what a successful Protect call produced.
type ProtectResult struct {
	// Pack is nil when Ephemeral == EphemeralOnly (nothing is saved
	// locally in that mode).
	Pack *RecoveryPack
	// EphemeralUserKey and EphemeralServer are set whenever Ephemeral
	// is EphemeralOnly or EphemeralBoth: "<EphemeralServer>:<EphemeralUserKey>"
	// is everything a fresh client needs to recover the pack.
	EphemeralUserKey string
	EphemeralServer  string
}

// escrowItem is one (identity, share) pair to deposit with a server. It is
// always passed through the task loop as a pointer so Prepare's per-key
// state survives into OnSuccess.
type escrowItem struct {
	idp      identity.IdentityPolicy
	share    sharing.Share
	preferID string
	// fixedKey, when set, is used as the ERD encryption key instead of a
	// freshly generated one -- the ephemeral upload's server must be able
	// to re-derive the same key from the user key alone.
	fixedKey []byte

	erdKey []byte
	record EscrowRecord
}

type escrowTask struct {
	client            *Client
	expirationSeconds int64
	verifyDescription string
}

func (t *escrowTask) Prepare(item *escrowItem, delay time.Duration) (request, error) {
	erdKey := item.fixedKey
	if erdKey == nil {
		var err error
		erdKey, err = primitives.RandomKey()
		if err != nil {
			return request{}, err
		}
	}
	item.erdKey = erdKey

	var notify string
	if item.idp.Notify != "" {
		notify = string(item.idp.Notify)
	}
	erd, err := proto.Plain(proto.EscrowRequestData{
		Description: t.verifyDescription,
		Secret:      string(item.share),
		Verify:      string(item.idp.ID),
		Timeout:     int64(t.client.Config.TimeoutMinutes) * 60,
		Notify:      notify,
	}).Seal(erdKey)
	if err != nil {
		return request{}, err
	}

	ctx := context.Background()
	policy, err := t.client.fetchPolicy(ctx, item.idp.Server)
	if err != nil {
		return request{}, err
	}
	scheme, err := choosePaymentScheme(policy, t.expirationSeconds)
	if err != nil {
		return request{}, err
	}
	payment, err := mintPayment(scheme, erd.Ciphertext())
	if err != nil {
		return request{}, err
	}

	var warningsTo string
	if item.idp.Warn != "" {
		warningsTo = string(item.idp.Warn)
	}
	erpKey, err := primitives.RandomKey()
	if err != nil {
		return request{}, err
	}
	erp, err := proto.Plain(proto.EscrowRequestParameters{
		Kind:       item.idp.ID.Kind(),
		Expiration: t.client.now().Add(time.Duration(t.expirationSeconds) * time.Second).Unix(),
		Payment:    payment,
		WarningsTo: warningsTo,
		PreferID:   item.preferID,
	}).Seal(erpKey)
	if err != nil {
		return request{}, err
	}

	req := proto.EscrowRequest{
		Version:       proto.Version,
		ParametersKey: base64.StdEncoding.EncodeToString(erpKey),
		Parameters:    erp,
		EscrowData:    []proto.Sealed[proto.EscrowRequestData]{erd},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return request{}, err
	}
	return request{Server: item.idp.Server, Endpoint: "escrowrequest", Payload: payload}, nil
}

func (t *escrowTask) OnSuccess(item *escrowItem, resp []byte) error {
	var eresp proto.EscrowResponse
	if err := json.Unmarshal(resp, &eresp); err != nil {
		return fmt.Errorf("client: decode escrow response: %w", err)
	}
	if eresp.Error != "" {
		return errs.Newf(errs.Kind(eresp.Error), "escrow request refused")
	}
	if item.preferID != "" && eresp.EscrowDataID != item.preferID {
		return fmt.Errorf("client: server did not honor the requested escrow id")
	}
	item.record = EscrowRecord{
		Kind:        item.idp.ID.Kind(),
		Server:      item.idp.Server,
		Response:    eresp,
		RecoveryKey: base64.StdEncoding.EncodeToString(item.erdKey),
	}
	return nil
}

func (t *escrowTask) OnFailure(item *escrowItem, err error) string {
	return fmt.Sprintf("%s via %s: %v", item.idp.ID, item.idp.Server, err)
}

// Protect splits secret into shares under policy and deposits one share
// per identity, then saves (and/or uploads, in ephemeral mode) the
// resulting RecoveryPack.
func (c *Client) Protect(ctx context.Context, name string, secret []byte, policy identity.ClientPolicy, opts ProtectOptions) (*ProtectResult, error) {
	opts = opts.withDefaults()

	pack := &RecoveryPack{
		Name:        name,
		CreatedTS:   c.now().Unix(),
		Description: opts.PackDescription,
	}

	aesKey, err := primitives.RandomKey()
	if err != nil {
		return nil, err
	}
	secretSealed, err := proto.Plain(SecretBlob{Data: secret}).Seal(aesKey)
	if err != nil {
		return nil, err
	}
	pack.Secret = secretSealed

	reserve := 0
	if opts.Ephemeral != EphemeralNone {
		if len(policy.Identities) < 2 {
			return nil, fmt.Errorf("client: ephemeral protection requires at least 2 identities")
		}
		reserve = 1
	}
	n, m := policy.AbsoluteRatio(reserve)
	pack.MinShares = n
	if m > len(VerificationPrefixes) {
		return nil, fmt.Errorf("client: cannot reasonably handle more than %d shares", len(VerificationPrefixes))
	}

	extra := 3 - n
	if extra < 0 {
		extra = 0
	}
	n += extra
	m += extra

	shares, err := sharing.MakeRandomShares(primitives.KeyToInt(aesKey), n, m)
	if err != nil {
		return nil, err
	}
	// The reference implementation computes this split as shares[-extra:]
	// / shares[:-extra]; in Python, -0 == 0, so when extra == 0 that slices
	// the *entire* list into "local" and leaves nothing to send remotely.
	// Indexing by the explicit tail length avoids that pitfall.
	localTail := len(shares) - extra
	pack.Shares = append([]sharing.Share{}, shares[localTail:]...)
	remoteShares := shares[:localTail]

	items := make([]*escrowItem, 0, len(remoteShares))
	for i, idp := range policy.Identities[reserve:] {
		items = append(items, &escrowItem{idp: idp, share: remoteShares[i]})
	}

	t := &escrowTask{client: c, expirationSeconds: int64(c.Config.ExpirationDays) * 24 * 3600, verifyDescription: opts.VerifyDescription}
	result := runTaskLoop(ctx, c.RPC, c.Sleep, c.Config.SleepMin, c.Config.SleepMax, opts.Quick, items, t)
	for _, f := range result.Failures {
		c.Log.Warn("protect: escrow attempt failed", zap.String("detail", f))
	}
	escrowed := make([]EscrowRecord, len(items))
	for i, it := range items {
		escrowed[i] = it.record
	}
	pack.Escrow = escrowed
	if !result.OK {
		return nil, fmt.Errorf("client: protect failed: not every identity could be reached")
	}

	out := &ProtectResult{}
	if opts.Ephemeral == EphemeralNone {
		if err := c.Store.Save(*pack); err != nil {
			return nil, err
		}
		out.Pack = pack
		return out, nil
	}

	userKey, err := newEphemeralUserKey()
	if err != nil {
		return nil, err
	}
	escrowID, err := ephemeralEscrowID(userKey)
	if err != nil {
		return nil, err
	}
	escrowKey, err := ephemeralEscrowKey(userKey)
	if err != nil {
		return nil, err
	}
	packKey, err := ephemeralPackKey(userKey)
	if err != nil {
		return nil, err
	}

	sealedPack, err := proto.Plain(*pack).Seal(packKey)
	if err != nil {
		return nil, err
	}
	// The pack's own ciphertext is arbitrary binary; base64 it so it
	// survives as a plain JSON string the same way every other sealed
	// field on the wire does.
	packShare := base64.StdEncoding.EncodeToString(sealedPack.Ciphertext())

	uploadItem := &escrowItem{
		idp:      policy.Identities[0],
		share:    sharing.Share(packShare),
		preferID: escrowID,
		fixedKey: escrowKey,
	}
	uploadTask := &escrowTask{client: c, expirationSeconds: int64(c.Config.ExpirationDays) * 24 * 3600, verifyDescription: "Ephemeral Passcrow pack"}
	uploadResult := runTaskLoop(ctx, c.RPC, c.Sleep, c.Config.SleepMin, c.Config.SleepMax, opts.Quick, []*escrowItem{uploadItem}, uploadTask)
	if !uploadResult.OK {
		return nil, fmt.Errorf("client: protect failed: could not upload ephemeral pack")
	}
	uploadItem.record.Kind = ephemeralRecordKind

	out.EphemeralUserKey = userKey
	out.EphemeralServer = uploadItem.idp.Server

	if opts.Ephemeral == EphemeralBoth {
		pack.EphemeralID = fmt.Sprintf("%s:%s", uploadItem.idp.Server, userKey)
		pack.Escrow = append(pack.Escrow, uploadItem.record)
		if err := c.Store.Save(*pack); err != nil {
			return nil, err
		}
		out.Pack = pack
	}
	return out, nil
}
