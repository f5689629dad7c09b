package server

import (
	"encoding/json"

	"github.com/passcrow/passcrow/errs"
	"github.com/passcrow/passcrow/proto"
)

func (s *Server) handleDeletion(payload []byte) proto.DeletionResponse {
	resp := proto.DeletionResponse{Version: proto.Version}

	var req proto.DeletionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		resp.Error = string(errs.KindBadRequest)
		return resp
	}
	if err := proto.CheckVersion(req.Version); err != nil {
		resp.Error = string(errs.KindUnsupportedVersion)
		return resp
	}

	s.Store.Delete("escrow", req.EscrowDataID)
	s.Store.Delete("vcodes", req.EscrowDataID)
	return resp
}
