package server

import (
	"sort"

	"github.com/passcrow/passcrow/proto"
)

func (s *Server) handlePolicy() proto.PolicyObject {
	kinds := make([]string, 0, len(s.Identities))
	for k := range s.Identities {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	var schemes []proto.PaymentScheme
	for _, p := range s.Payments.All() {
		desc, granted, bits := p.Describe()
		schemes = append(schemes, proto.PaymentScheme{
			Scheme:            p.SchemeID(),
			SchemeID:          p.SchemeID(),
			Description:       desc,
			ExpirationSeconds: granted,
			HashcashBits:      bits,
		})
	}

	return proto.PolicyObject{
		Versions:             []string{proto.Version},
		CountryCode:          s.Config.CountryCode,
		AboutURL:             s.Config.AboutURL,
		Kinds:                kinds,
		MaxRequestBytes:      s.Config.MaxRequestBytes,
		MaxExpirationSeconds: s.Config.MaxExpirationSeconds,
		MaxTimeoutSeconds:    s.Config.MaxTimeoutSeconds,
		PaymentSchemes:       schemes,
	}
}
