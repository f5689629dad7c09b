package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/passcrow/passcrow/errs"
	"github.com/passcrow/passcrow/proto"
	"github.com/passcrow/passcrow/storage"
)

func (s *Server) handleEscrow(payload []byte) proto.EscrowResponse {
	resp := proto.EscrowResponse{Version: proto.Version}

	var req proto.EscrowRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		resp.Error = string(errs.KindBadRequest)
		return resp
	}
	if err := proto.CheckVersion(req.Version); err != nil {
		resp.Error = string(errs.KindUnsupportedVersion)
		return resp
	}
	if len(req.EscrowData) != 1 {
		resp.Error = string(errs.KindBadRequest)
		return resp
	}

	paramsKey, err := base64.StdEncoding.DecodeString(req.ParametersKey)
	if err != nil {
		resp.Error = string(errs.KindBadRequest)
		return resp
	}
	params, err := req.Parameters.Open(paramsKey)
	if err != nil {
		// Proves the client holds a working cipher before we spend any
		// state; any decrypt failure here is the client's fault.
		resp.Error = string(errs.KindBadRequest)
		return resp
	}

	if _, ok := s.Identities[params.Kind]; !ok {
		resp.Error = string(errs.KindUnsupportedKind)
		return resp
	}

	erdCiphertext := req.EscrowData[0].Ciphertext()
	now := s.now()
	payExp := s.Payments.Process(params.Payment, erdCiphertext, now)

	grantDuration := payExp
	if grantDuration > s.Config.MaxExpirationSeconds {
		grantDuration = s.Config.MaxExpirationSeconds
	}
	expiration := params.Expiration
	if ceiling := now.Unix() + grantDuration; ceiling < expiration {
		expiration = ceiling
	}
	if expiration <= now.Unix() {
		resp.Error = string(errs.KindInsufficientPayment)
		return resp
	}

	if params.WarningsTo != "" && s.Config.WarningsTo != nil {
		s.Config.WarningsTo(params.WarningsTo, expiration)
	}

	id, honored, err := s.insertEscrow(erdCiphertext, params.PreferID, expiration)
	if err != nil {
		s.Log.Error("escrow insert failed", zap.Error(err))
		resp.Error = string(errs.KindInternalError)
		return resp
	}

	// If we've accepted the proposed ID, echo back the bare id the
	// client asked for rather than its canonical "<exphex>-<suffix>"
	// form, so a caller that computed prefer-id deterministically (the
	// ephemeral upload path) can address the row again without ever
	// having seen the assigned expiration.
	resp.EscrowDataID = id
	if honored {
		resp.EscrowDataID = params.PreferID
	}
	resp.Expiration = expiration
	return resp
}

// insertEscrow honors PreferID when it doesn't collide with a live row,
// falling back to a randomly generated id otherwise -- the server "may
// honor" a preferred id, it never must. honored reports whether the
// preferred id was actually used as the row's suffix.
func (s *Server) insertEscrow(ciphertext []byte, preferID string, expiration int64) (id string, honored bool, err error) {
	opts := storage.InsertOptions{Expiration: expiration}
	if preferID != "" {
		opts.RowID = lastSegment(preferID)
	}
	id, err = s.Store.Insert("escrow", [][]byte{ciphertext}, opts)
	if errors.Is(err, storage.ErrRowIDConflict) {
		opts.RowID = ""
		id, err = s.Store.Insert("escrow", [][]byte{ciphertext}, opts)
		return id, false, err
	}
	return id, err == nil && preferID != "", err
}

func lastSegment(s string) string {
	if i := strings.LastIndexByte(s, '-'); i >= 0 {
		return s[i+1:]
	}
	return s
}
