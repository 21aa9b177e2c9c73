package memory

import (
	"context"
	"sync"

	"github.com/iho/tripledger/internal/domain"
)

// EntityRegistry resolves entity references against a set of known
// entities. The owning modules register and forget entities; the ledger
// only reads.
type EntityRegistry struct {
	mu    sync.RWMutex
	known map[domain.EntityRef]struct{}
}

// NewEntityRegistry creates a registry seeded with refs.
func NewEntityRegistry(refs ...domain.EntityRef) *EntityRegistry {
	r := &EntityRegistry{known: make(map[domain.EntityRef]struct{}, len(refs))}
	for _, ref := range refs {
		r.known[ref] = struct{}{}
	}
	return r
}

// Register marks an entity as existing.
func (r *EntityRegistry) Register(kind domain.EntityKind, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.known[domain.EntityRef{Kind: kind, ID: id}] = struct{}{}
}

// Forget removes an entity, as when the owning module deletes it.
// Records already referencing it are unaffected.
func (r *EntityRegistry) Forget(kind domain.EntityKind, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.known, domain.EntityRef{Kind: kind, ID: id})
}

// Missing returns the refs that are not registered.
func (r *EntityRegistry) Missing(ctx context.Context, refs []domain.EntityRef) ([]domain.EntityRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []domain.EntityRef
	for _, ref := range refs {
		if _, ok := r.known[ref]; !ok {
			missing = append(missing, ref)
		}
	}

	return missing, nil
}
