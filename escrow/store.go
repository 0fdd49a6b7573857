package escrow

import "context"

// Store is the authoritative deal registry. Implementations must allocate
// unique ids under concurrent Create calls, keep the originating-reference
// index one-to-one, and serialize Mutate calls per deal so that concurrent
// transitions on the same deal cannot both succeed. Unrelated deals must
// not contend.
type Store interface {
	// Create allocates an id, stores the deal, and registers its originating
	// reference if present. Returns ErrReferenceTaken when the reference is
	// already bound to another deal.
	Create(ctx context.Context, creator string, params OpenParams) (Deal, error)

	// Get returns the deal by id, or ErrNotFound.
	Get(ctx context.Context, id string) (Deal, error)

	// ResolveByReference returns the deal bound to the originating reference,
	// or ErrNotFound.
	ResolveByReference(ctx context.Context, ref string) (Deal, error)

	// ListFor returns every deal where identity or handle matches the
	// creator, payer, or payee, in creation order.
	ListFor(ctx context.Context, identity, handle string) ([]Deal, error)

	// Mutate applies fn to a copy of the deal under the per-deal write lock.
	// When fn returns nil the copy replaces the stored deal atomically; when
	// fn fails nothing is written and the stored deal is returned unchanged
	// alongside fn's error.
	Mutate(ctx context.Context, id string, fn func(*Deal) error) (Deal, error)
}
