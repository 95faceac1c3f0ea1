// Package verify validates that an inbound event body was produced by the
// claimed origin. Verifiers are selected by the destination's provider tag.
package verify

import (
	"time"

	"github.com/hookrelay/hookrelay/internal/domain"
)

// Verifier checks an inbound request against a destination secret. rawBody
// must be the exact bytes received on the wire: re-serialized payloads are
// not byte-identical and break exact-byte signature schemes.
type Verifier interface {
	Verify(headers map[string]string, secret string, rawBody []byte) bool
}

// ForProvider returns the verifier matching the destination's provider tag.
// Unknown tags get the generic verifier, which accepts everything.
func ForProvider(p domain.Provider, tolerance time.Duration) Verifier {
	switch p {
	case domain.ProviderStripe:
		return &StripeVerifier{Tolerance: tolerance, Now: time.Now}
	default:
		return GenericVerifier{}
	}
}

// GenericVerifier accepts every request. Destinations without a signing
// scheme use it.
type GenericVerifier struct{}

func (GenericVerifier) Verify(map[string]string, string, []byte) bool { return true }
