// Package directory maintains the two-level namespace of organizations and
// units, each unit owning a subscriber set, plus the per-user subscription
// index that mirrors those sets.
package directory

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

// Organization is a top-level directory entry (e.g., a school).
type Organization struct {
	ID        int64     `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Unit is a second-level entry owned by an organization (e.g., a department).
// It is the actual subscription target.
type Unit struct {
	ID        int64     `json:"id"`
	OrgID     int64     `json:"org_id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// OpKind selects the direction of a subscription change.
type OpKind int

const (
	Subscribe OpKind = iota
	Unsubscribe
)

// SubscriptionOp is one entry of a batched subscription change.
type SubscriptionOp struct {
	OrgID  int64  `json:"org_id"`
	UnitID int64  `json:"unit_id"`
	Kind   OpKind `json:"kind"`
}

// NamespaceFor derives the storage namespace for an organization from its
// slug. The name is stable across renames of the display name and safe to
// splice into DDL (hex digits only).
func NamespaceFor(slug string) string {
	sum := sha1.Sum([]byte(slug))
	return "org_" + hex.EncodeToString(sum[:])[:12]
}

// SubscriberTableFor derives the per-unit subscriber table name. Creation of
// this table is the provisioning step that must precede any membership write.
func SubscriberTableFor(unitID int64) string {
	return fmt.Sprintf("unit_%d_subs", unitID)
}
