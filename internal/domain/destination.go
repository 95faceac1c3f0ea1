package domain

import "time"

// Provider identifies the signing scheme a destination's inbound events use.
type Provider string

const (
	ProviderGeneric Provider = "generic"
	ProviderStripe  Provider = "stripe"
)

// Destination is a registered forwarding target. Events ingested for a
// destination are delivered to its URL under the destination's rate limit
// and pause state.
type Destination struct {
	ID        string
	OwnerID   string
	URL       string
	Provider  Provider
	Secret    string
	Active    bool
	Paused    bool
	RateLimit int

	// ArchivedSuccessCount is the running total of COMPLETED events the
	// retention archiver has compacted away. It only ever increases.
	ArchivedSuccessCount int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RequiresVerification reports whether ingested events for this destination
// must carry a valid signature. Destinations without a secret, or tagged
// generic, accept everything.
func (d *Destination) RequiresVerification() bool {
	return d.Secret != "" && d.Provider != ProviderGeneric
}
