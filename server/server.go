package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/passcrow/passcrow/errs"
	"github.com/passcrow/passcrow/hashcash"
	"github.com/passcrow/passcrow/storage"
)

// storageTables lists the three tables Server needs prepared.
var storageTables = []string{"escrow", "vcodes", "rlimit"}

// Server is a Passcrow escrow server. It holds no per-request state; every
// RPC reads and writes only through Store.
type Server struct {
	Store     storage.Store
	Identities map[string]IdentityHandler
	Payments  *hashcash.Registry
	Config    Config
	Log       *zap.Logger

	now func() time.Time
}

// New builds a Server. identities maps identity kinds (e.g. "mailto") to
// the handler responsible for delivering codes to that kind; payments is
// the set of payment schemes this server accepts.
func New(store storage.Store, identities map[string]IdentityHandler, payments *hashcash.Registry, cfg Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		Store:      store,
		Identities: identities,
		Payments:   payments,
		Config:     cfg.withDefaults(),
		Log:        log,
		now:        time.Now,
	}
	for _, table := range storageTables {
		if err := store.PrepareTable(table); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Handle runs the shared preamble (size check, rate limit) and dispatches
// to the named endpoint's handler, returning a serialized JSON response.
// callerID is an opaque host-supplied value (e.g. remote address plus
// authenticated user) used only to key the rate limiter.
func (s *Server) Handle(callerID []byte, endpoint string, payload []byte) []byte {
	if endpoint != EndpointPolicy {
		if len(payload) > s.Config.MaxRequestBytes {
			return errorJSON(errs.KindRequestTooLarge)
		}
	}

	if limited := s.rateLimit(callerID); limited {
		return errorJSON(errs.KindRateLimited)
	}

	var resp any
	switch endpoint {
	case EndpointPolicy:
		resp = s.handlePolicy()
	case EndpointEscrow:
		resp = s.handleEscrow(payload)
	case EndpointVerification:
		resp = s.handleVerification(payload)
	case EndpointRecovery:
		resp = s.handleRecovery(payload)
	case EndpointDeletion:
		resp = s.handleDeletion(payload)
	default:
		return errorJSON(errs.KindBadRequest)
	}

	out, err := json.Marshal(resp)
	if err != nil {
		s.Log.Error("marshal response failed", zap.Error(err))
		return errorJSON(errs.KindInternalError)
	}
	return out
}

func (s *Server) rateLimit(callerID []byte) bool {
	sum := sha256.Sum256(callerID)
	key := hex.EncodeToString(sum[:])
	now := s.now()

	if _, err := s.Store.Fetch("rlimit", key, now); err == nil {
		return true
	}
	if _, err := s.Store.Insert("rlimit", [][]byte{[]byte("ping")},
		storage.InsertOptions{RowID: key, Expiration: now.Add(rateLimitWindow).Unix()}); err != nil {
		s.Log.Warn("rate limit insert failed", zap.Error(err))
	}
	return false
}

// SetClock overrides Server's time source, for tests that need to
// simulate elapsed time (e.g. an escrow row expiring).
func (s *Server) SetClock(now func() time.Time) {
	s.now = now
}

func errorJSON(kind errs.Kind) []byte {
	out, _ := json.Marshal(map[string]string{"error": string(kind)})
	return out
}
