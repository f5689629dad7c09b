package server

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"github.com/passcrow/passcrow/errs"
	"github.com/passcrow/passcrow/identity"
	"github.com/passcrow/passcrow/proto"
	"github.com/passcrow/passcrow/storage"
)

func (s *Server) handleVerification(payload []byte) proto.VerificationResponse {
	resp := proto.VerificationResponse{Version: proto.Version}

	var req proto.VerificationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		resp.Error = string(errs.KindBadRequest)
		return resp
	}
	if err := proto.CheckVersion(req.Version); err != nil {
		resp.Error = string(errs.KindUnsupportedVersion)
		return resp
	}
	if len(req.Prefix) != 1 {
		resp.Error = string(errs.KindBadRequest)
		return resp
	}
	resp.EscrowDataID = req.EscrowDataID

	key, err := base64.StdEncoding.DecodeString(req.EscrowDataKey)
	if err != nil {
		resp.Error = string(errs.KindBadRequest)
		return resp
	}

	now := s.now()
	row, err := s.Store.Fetch("escrow", req.EscrowDataID, now)
	if err != nil {
		resp.Error = string(errs.KindNotFound)
		return resp
	}
	erd, err := proto.SealedFromCiphertext[proto.EscrowRequestData](row[0]).Open(key)
	if err != nil {
		resp.Error = string(errs.KindBadRequest)
		return resp
	}

	kind := erd.Verify
	if idx := strings.IndexByte(kind, ':'); idx >= 0 {
		kind = kind[:idx]
	}
	handler, ok := s.Identities[kind]
	if !ok {
		resp.Error = string(errs.KindUnsupportedKind)
		return resp
	}

	// min(requested, cap): a non-positive ERD timeout is not substituted
	// with the server's maximum -- it passes through and yields a vcode
	// with an effectively immediate expiration, matching the original's
	// unconditional min() rather than treating "unset" as "use the max".
	timeout := erd.Timeout
	if timeout > s.Config.MaxTimeoutSeconds {
		timeout = s.Config.MaxTimeoutSeconds
	}
	vcode, err := randomVcode(req.Prefix)
	if err != nil {
		s.Log.Error("vcode generation failed", zap.Error(err))
		resp.Error = string(errs.KindInternalError)
		return resp
	}
	expiration := now.Unix() + timeout

	s.Store.Delete("vcodes", req.EscrowDataID)
	if _, err := s.Store.Insert("vcodes", [][]byte{[]byte(vcode)},
		storage.InsertOptions{RowID: req.EscrowDataID, Expiration: expiration}); err != nil {
		s.Log.Error("vcode insert failed", zap.Error(err))
		resp.Error = string(errs.KindInternalError)
		return resp
	}

	hint, err := handler.SendCode(identity.Identity(erd.Verify), erd.Description, vcode, timeout)
	if err != nil {
		s.Log.Error("send code failed", zap.Error(err))
		resp.Error = string(errs.KindInternalError)
		return resp
	}

	resp.Hint = hint
	resp.Expiration = expiration
	return resp
}

func randomVcode(prefix string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%06d", prefix, n.Int64()), nil
}
