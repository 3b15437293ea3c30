package repo

import (
	"cmp"
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

// Neo4jRepo is a generic read-only Neo4j-backed repository over one label.
type Neo4jRepo[T any, ID cmp.Ordered] struct {
	driver     neo4j.DriverWithContext
	database   string
	label      string
	idKey      string
	fromRecord func(*neo4j.Record) (T, error)
	notFound   func(ID) error
	newSession func(ctx context.Context) runner // for testing
}

// Neo4jOption configures a Neo4jRepo.
type Neo4jOption[T any, ID cmp.Ordered] func(*Neo4jRepo[T, ID])

// WithIDKey sets the property name used as the ID (default "id").
func WithIDKey[T any, ID cmp.Ordered](key string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.idKey = key }
}

// WithDatabase selects the Neo4j database (default: the server default).
func WithDatabase[T any, ID cmp.Ordered](name string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.database = name }
}

// WithNotFound sets the error returned by Get for an unknown ID.
func WithNotFound[T any, ID cmp.Ordered](f func(ID) error) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.notFound = f }
}

// NewNeo4jRepo creates a new Neo4j-backed repository. fromRecord receives
// records with the node bound to "n".
func NewNeo4jRepo[T any, ID cmp.Ordered](
	driver neo4j.DriverWithContext,
	label string,
	fromRecord func(*neo4j.Record) (T, error),
	opts ...Neo4jOption[T, ID],
) *Neo4jRepo[T, ID] {
	r := &Neo4jRepo[T, ID]{
		driver:     driver,
		label:      label,
		idKey:      "id",
		fromRecord: fromRecord,
	}
	r.notFound = func(id ID) error { return fmt.Errorf("%s %v not found", r.label, id) }
	for _, o := range opts {
		o(r)
	}
	return r
}

// Compile-time interface check.
var _ Reader[any, string] = (*Neo4jRepo[any, string])(nil)

// neo4jSessionAdapter adapts neo4j.SessionWithContext to the runner interface.
type neo4jSessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *neo4jSessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *neo4jSessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

func (r *Neo4jRepo[T, ID]) session(ctx context.Context) runner {
	if r.newSession != nil {
		return r.newSession(ctx)
	}
	return &neo4jSessionAdapter{sess: r.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: r.database,
	})}
}

func (r *Neo4jRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	sess := r.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) RETURN n", r.label, r.idKey)
	result, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return zero, fmt.Errorf("get %s: %w", r.label, err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return zero, fmt.Errorf("get %s: %w", r.label, err)
		}
		return zero, r.notFound(id)
	}
	return r.fromRecord(result.Record())
}

func (r *Neo4jRepo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	sess := r.session(ctx)
	defer sess.Close(ctx)

	cypher, params := r.listQuery(opts)
	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.label, err)
	}

	items := []T{}
	for result.Next(ctx) {
		item, err := r.fromRecord(result.Record())
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", r.label, err)
	}
	return items, nil
}

func (r *Neo4jRepo[T, ID]) listQuery(opts ListOpts) (string, map[string]any) {
	params := map[string]any{"offset": opts.Offset, "limit": opts.Limit}
	var where []string
	for i, k := range opts.filterKeys() {
		p := fmt.Sprintf("f%d", i)
		where = append(where, fmt.Sprintf("n.%s = $%s", k, p))
		params[p] = opts.Filter[k]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "MATCH (n:%s)", r.label)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " RETURN n ORDER BY n.%s SKIP $offset LIMIT $limit", r.idKey)
	return b.String(), params
}
