package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User owns zero or more Applications. Authentication/authorization for
// the Admin API lives outside this pipeline; User here is the row the
// pipeline joins against for ownership checks.
type User struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Application is a tenant's named grouping of Endpoints.
type Application struct {
	ID          uuid.UUID `db:"id" json:"id"`
	UserID      uuid.UUID `db:"user_id" json:"user_id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description,omitempty"`
	Active      bool      `db:"is_active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Endpoint is a single webhook subscription: a destination URL, an HMAC
// secret minted server-side, and a filter describing which events on
// which chains/contracts should be delivered to it.
type Endpoint struct {
	ID                uuid.UUID `db:"id" json:"id"`
	ApplicationID     uuid.UUID `db:"application_id" json:"application_id"`
	URL               string    `db:"url" json:"url"`
	HMACSecret        string    `db:"hmac_secret" json:"-"`
	Active            bool      `db:"active" json:"active"`
	ChainIDs          []string  `db:"chain_ids" json:"chain_ids"`
	ContractAddresses []string  `db:"contract_addresses" json:"contract_addresses,omitempty"`
	EventSignatures   []string  `db:"event_signatures" json:"event_signatures,omitempty"`
	RateLimitPerSec   int       `db:"rate_limit_per_second" json:"rate_limit_per_second"`
	MaxRetries        int       `db:"max_retries" json:"max_retries"`
	TimeoutSeconds    int       `db:"timeout_seconds" json:"timeout_seconds"`
	Description       string    `db:"description" json:"description,omitempty"`
	CreatedBy         uuid.UUID `db:"created_by" json:"created_by"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Matches reports whether the endpoint's filter admits the given event.
// An empty filter field means "match anything" for that dimension.
func (e *Endpoint) Matches(chainID, contractAddress, eventSignature string) bool {
	if !e.Active {
		return false
	}
	if len(e.ChainIDs) > 0 && !containsFold(e.ChainIDs, chainID) {
		return false
	}
	if len(e.ContractAddresses) > 0 && !containsFold(e.ContractAddresses, contractAddress) {
		return false
	}
	if len(e.EventSignatures) > 0 && !containsFold(e.EventSignatures, eventSignature) {
		return false
	}
	return true
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
