package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/passcrow/passcrow/errs"
	"github.com/passcrow/passcrow/proto"
)

// VerificationResult pairs a server's response with the prefix and kind
// it was collected under, so a caller can present it to the user ("a code
// was sent to your e-mail ending in ...@example.org").
type VerificationResult struct {
	Prefix   string
	Kind     string
	Response proto.VerificationResponse
}

type verifyItem struct {
	prefix string
	record EscrowRecord
	result proto.VerificationResponse
}

type verifyTask struct{}

func (verifyTask) Prepare(item *verifyItem, delay time.Duration) (request, error) {
	req := proto.VerificationRequest{
		Version:       proto.Version,
		EscrowDataID:  item.record.Response.EscrowDataID,
		EscrowDataKey: item.record.RecoveryKey,
		Prefix:        item.prefix,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return request{}, err
	}
	return request{Server: item.record.Server, Endpoint: "verificationrequest", Payload: payload}, nil
}

func (verifyTask) OnSuccess(item *verifyItem, resp []byte) error {
	var vresp proto.VerificationResponse
	if err := json.Unmarshal(resp, &vresp); err != nil {
		return fmt.Errorf("client: decode verification response: %w", err)
	}
	if vresp.Error != "" {
		return errs.Newf(errs.Kind(vresp.Error), "verification request refused")
	}
	item.result = vresp
	return nil
}

func (verifyTask) OnFailure(item *verifyItem, err error) string {
	return fmt.Sprintf("%s on %s: %v", item.record.Response.EscrowDataID, item.record.Server, err)
}

// Verify asks every server holding a share of pack to deliver a
// verification code, returning one VerificationResult per identity that
// responded. It returns nil (not an error) if fewer than pack.MinShares
// responded -- recovery isn't possible yet, but nothing has failed.
func (c *Client) Verify(ctx context.Context, pack RecoveryPack, quick bool) ([]VerificationResult, error) {
	prefixed := pack.PrefixedEscrow()
	items := make([]*verifyItem, len(prefixed))
	for i, pe := range prefixed {
		items[i] = &verifyItem{prefix: pe.Prefix, record: pe.Record}
	}

	result := runTaskLoop(ctx, c.RPC, c.Sleep, c.Config.SleepMin, c.Config.SleepMax, quick, items, verifyTask{})
	for _, f := range result.Failures {
		c.Log.Warn("verify: attempt failed", zap.String("detail", f))
	}

	var responses []VerificationResult
	for _, it := range items {
		if it.result.EscrowDataID != "" {
			responses = append(responses, VerificationResult{Prefix: it.prefix, Kind: it.record.Kind, Response: it.result})
		}
	}
	if len(responses) < pack.MinShares {
		return nil, nil
	}
	return responses, nil
}
