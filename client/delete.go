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

type deleteTask struct{}

func (deleteTask) Prepare(item *EscrowRecord, delay time.Duration) (request, error) {
	req := proto.DeletionRequest{Version: proto.Version, EscrowDataID: item.Response.EscrowDataID}
	payload, err := json.Marshal(req)
	if err != nil {
		return request{}, err
	}
	return request{Server: item.Server, Endpoint: "deletionrequest", Payload: payload}, nil
}

func (deleteTask) OnSuccess(item *EscrowRecord, resp []byte) error {
	var dresp proto.DeletionResponse
	if err := json.Unmarshal(resp, &dresp); err != nil {
		return fmt.Errorf("client: decode deletion response: %w", err)
	}
	// Deleting an already-deleted row succeeds without error, so a
	// wire-level error here means the server refused the request before
	// deleting anything; it is a task failure like any other.
	if dresp.Error != "" {
		return errs.Newf(errs.Kind(dresp.Error), "deletion request refused")
	}
	return nil
}

func (deleteTask) OnFailure(item *EscrowRecord, err error) string {
	return fmt.Sprintf("%s on %s: %v", item.Response.EscrowDataID, item.Server, err)
}

// Delete removes name's remote escrow rows (unless remote is false) and,
// if that fully succeeds, its local pack file. Calling Delete again after
// success is a no-op: there is no pack left to load, and deleting an
// already-deleted remote row is idempotent by construction.
func (c *Client) Delete(ctx context.Context, name string, remote, quick bool) error {
	if !remote {
		return c.Store.Delete(name)
	}

	pack, err := c.Store.Load(name)
	if err != nil {
		return c.Store.Delete(name)
	}

	items := make([]*EscrowRecord, len(pack.Escrow))
	for i := range pack.Escrow {
		items[i] = &pack.Escrow[i]
	}
	result := runTaskLoop(ctx, c.RPC, c.Sleep, c.Config.SleepMin, c.Config.SleepMax, quick, items, deleteTask{})
	for _, f := range result.Failures {
		c.Log.Warn("delete: attempt failed", zap.String("detail", f))
	}
	if !result.OK {
		return fmt.Errorf("client: delete failed: not every server could be reached")
	}
	return c.Store.Delete(name)
}
