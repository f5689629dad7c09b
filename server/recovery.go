package server

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/passcrow/passcrow/errs"
	"github.com/passcrow/passcrow/proto"
)

func (s *Server) handleRecovery(payload []byte) proto.RecoveryResponse {
	resp := proto.RecoveryResponse{Version: proto.Version}

	var req proto.RecoveryRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		resp.Error = string(errs.KindBadRequest)
		return resp
	}
	if err := proto.CheckVersion(req.Version); err != nil {
		resp.Error = string(errs.KindUnsupportedVersion)
		return resp
	}
	resp.EscrowDataID = req.EscrowDataID

	now := s.now()

	// A missing vcode and a wrong vcode look identical to the caller, so
	// an attacker can't use this endpoint to probe which escrow_data_ids
	// exist.
	vrow, err := s.Store.Fetch("vcodes", req.EscrowDataID, now)
	if err != nil || !strings.EqualFold(strings.TrimSpace(string(vrow[0])), strings.TrimSpace(req.Verification)) {
		resp.Error = string(errs.KindIncorrectCode)
		return resp
	}

	key, err := base64.StdEncoding.DecodeString(req.EscrowDataKey)
	if err != nil {
		resp.Error = string(errs.KindBadRequest)
		return resp
	}
	erow, err := s.Store.Fetch("escrow", req.EscrowDataID, now)
	if err != nil {
		resp.Error = string(errs.KindNotFound)
		return resp
	}
	erd, err := proto.SealedFromCiphertext[proto.EscrowRequestData](erow[0]).Open(key)
	if err != nil {
		resp.Error = string(errs.KindBadRequest)
		return resp
	}

	if s.Config.ConsumeVcodeOnRecovery {
		s.Store.Delete("vcodes", req.EscrowDataID)
	}

	resp.EscrowSecret = erd.Secret
	return resp
}
