package model

import "time"

// IssuerRecord is the profile of a reporting organization as published by the
// portal. The portal is authoritative for issuer attributes, so every
// observation overwrites the previous one (last-write-wins); only LastSeen is
// required to advance monotonically. Filings, by contrast, are versioned.
type IssuerRecord struct {
	IssuerID          string    `json:"issuer_id"`
	Name              string    `json:"name"`
	Jurisdiction      string    `json:"jurisdiction"`
	Type              string    `json:"type"`
	InDefault         bool      `json:"in_default"`
	ActiveRestriction bool      `json:"active_restriction"`
	FirstSeen         time.Time `json:"first_seen"`
	LastSeen          time.Time `json:"last_seen"`
}
