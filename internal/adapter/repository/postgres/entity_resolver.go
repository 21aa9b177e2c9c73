package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/tripledger/internal/domain"
	"github.com/iho/tripledger/internal/infrastructure/postgres/generated"
)

// EntityResolver checks entity references against the tables that own
// them. Kinds without a configured table are not checked.
type EntityResolver struct {
	db      generated.DBTX
	queries map[domain.EntityKind]string
}

// NewEntityResolver creates a resolver for kind -> table mappings. Table
// names may be schema qualified.
func NewEntityResolver(pool *pgxpool.Pool, tables map[domain.EntityKind]string) *EntityResolver {
	return newEntityResolver(pool, tables)
}

func newEntityResolver(db generated.DBTX, tables map[domain.EntityKind]string) *EntityResolver {
	queries := make(map[domain.EntityKind]string, len(tables))
	for kind, table := range tables {
		ident := pgx.Identifier(strings.Split(table, "."))
		queries[kind] = fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", ident.Sanitize())
	}

	return &EntityResolver{db: db, queries: queries}
}

// Missing returns the refs whose owning row does not exist.
func (r *EntityResolver) Missing(ctx context.Context, refs []domain.EntityRef) ([]domain.EntityRef, error) {
	var missing []domain.EntityRef
	for _, ref := range refs {
		query, ok := r.queries[ref.Kind]
		if !ok {
			continue
		}

		var exists bool
		if err := r.db.QueryRow(ctx, query, ref.ID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("resolve %s/%s: %w", ref.Kind, ref.ID, mapError(err))
		}
		if !exists {
			missing = append(missing, ref)
		}
	}

	return missing, nil
}
