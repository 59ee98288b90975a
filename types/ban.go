/*
# Module: types/ban.go
Ban list entries for payers, videos and banned terms.

## Linked Modules
(None - types package has no dependencies)

## Tags
data-types, moderation, bans

## Exports
Ban, BanKind, BannedTerm

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "types/ban.go" ;
    code:description "Ban list entries for payers, videos and banned terms" ;
    code:exports :Ban, :BanKind, :BannedTerm ;
    code:tags "data-types", "moderation", "bans" .
<!-- End LinkedDoc RDF -->
*/
package types

import "time"

// BanKind separates payer bans from video bans in the same table
type BanKind string

const (
	BanPayer BanKind = "payer"
	BanVideo BanKind = "video"
)

// Ban is a banned payer token or video id. A nil ExpiresAt never expires.
type Ban struct {
	Kind      BanKind    `json:"kind" dynamodbav:"kind"`
	Value     string     `json:"value" dynamodbav:"value"`
	Reason    string     `json:"reason,omitempty" dynamodbav:"reason,omitempty"`
	BannedAt  time.Time  `json:"banned_at" dynamodbav:"banned_at"`
	BannedBy  string     `json:"banned_by,omitempty" dynamodbav:"banned_by,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" dynamodbav:"expires_at,omitempty"`
}

// Active reports whether the ban applies at now
func (b Ban) Active(now time.Time) bool {
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}

// BannedTerm is an operator-maintained word, phrase or symbol
type BannedTerm struct {
	Term    string    `json:"term" dynamodbav:"term"`
	AddedAt time.Time `json:"added_at" dynamodbav:"added_at"`
	AddedBy string    `json:"added_by,omitempty" dynamodbav:"added_by,omitempty"`
}
