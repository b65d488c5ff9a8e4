package directory

import "context"

// Registry manages the organization/unit namespace and exposes subscriber
// sets. Removal cascades: no dangling subscriptions survive a removed unit,
// no dangling units survive a removed organization.
type Registry interface {
	// AddOrganization provisions the organization's storage namespace.
	// A slug collision returns the existing id together with ErrAlreadyExists
	// so idempotent callers can treat it as success.
	AddOrganization(ctx context.Context, slug, name string) (int64, error)
	// AddUnit provisions the unit's subscriber-set table under the parent
	// organization's namespace.
	AddUnit(ctx context.Context, orgID int64, slug, name string) (int64, error)
	RemoveOrganization(ctx context.Context, orgID int64) error
	RemoveUnit(ctx context.Context, orgID, unitID int64) error
	// Subscribers returns a read-only snapshot of the unit's subscriber set.
	Subscribers(ctx context.Context, orgID, unitID int64) ([]string, error)
	ListOrganizations(ctx context.Context) ([]Organization, error)
	ListUnits(ctx context.Context, orgID int64) ([]Unit, error)
}

// Index is the per-user reverse mapping onto subscriber sets. Both sides of
// every change move inside one transactional boundary so the index always
// stays the exact transpose of the union of subscriber sets.
type Index interface {
	// Apply processes the batch in order as a single logical unit. Duplicate
	// subscribes and absent unsubscribes are no-ops, not errors.
	Apply(ctx context.Context, userID string, ops []SubscriptionOp) error
	SubscriptionsOf(ctx context.Context, userID string) (map[int64][]int64, error)
	// Retire removes a delivered subscriber from both the unit's subscriber
	// set and the user's index entry. A unit removed mid-dispatch makes this
	// a no-op rather than an error.
	Retire(ctx context.Context, orgID, unitID int64, userID string) error
}

// Store is the full persistence surface backing the registry and the index.
type Store interface {
	Registry
	Index
}
