// Package graph is the Neo4j implementation of provenance.Store. Each call
// opens its own session and runs one explicit transaction, so the driver's
// managed retry loop never replays a lifecycle transition.
package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/provenance"
)

// CypherResult is the part of a Neo4j result the store reads.
type CypherResult interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// CypherRunner runs a statement inside a transaction.
type CypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error)
}

// CypherSession is one scoped unit of work against the database.
type CypherSession interface {
	// Run executes an auto-commit statement.
	Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error)
	// Transact runs fn in an explicit transaction, committing on nil and
	// rolling back otherwise.
	Transact(ctx context.Context, fn func(CypherRunner) error) error
	Close(ctx context.Context) error
}

// SessionOpener hands out sessions. Tests substitute a scripted one.
type SessionOpener interface {
	OpenSession(ctx context.Context, mode neo4j.AccessMode) CypherSession
}

// Store persists the provenance graph in Neo4j.
type Store struct {
	opener SessionOpener
	log    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.log = l } }

// New creates a Store over driver, using database ("" for the default).
func New(driver neo4j.DriverWithContext, database string, opts ...Option) *Store {
	return NewWithOpener(&driverOpener{driver: driver, database: database}, opts...)
}

// NewWithOpener creates a Store over an arbitrary session source.
func NewWithOpener(o SessionOpener, opts ...Option) *Store {
	s := &Store{opener: o, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compile-time interface checks.
var (
	_ provenance.Store   = (*Store)(nil)
	_ provenance.Counter = (*Store)(nil)
)

// Read runs fn in a read transaction.
func (s *Store) Read(ctx context.Context, fn func(provenance.ReadTx) error) error {
	sess := s.opener.OpenSession(ctx, neo4j.AccessModeRead)
	defer sess.Close(ctx)

	return sess.Transact(ctx, func(r CypherRunner) error {
		return fn(&graphTx{r: r})
	})
}

// Write runs fn in a write transaction. Any error rolls it back.
func (s *Store) Write(ctx context.Context, fn func(provenance.WriteTx) error) error {
	sess := s.opener.OpenSession(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)

	return sess.Transact(ctx, func(r CypherRunner) error {
		return fn(&graphTx{r: r})
	})
}

// Ping checks that a session can run a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	sess := s.opener.OpenSession(ctx, neo4j.AccessModeRead)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, "RETURN 1 AS ok", nil)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if err := drain(ctx, result); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

func drain(ctx context.Context, result CypherResult) error {
	for result.Next(ctx) {
	}
	return result.Err()
}

type driverOpener struct {
	driver   neo4j.DriverWithContext
	database string
}

func (o *driverOpener) OpenSession(ctx context.Context, mode neo4j.AccessMode) CypherSession {
	return &driverSession{sess: o.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: o.database,
	})}
}

type driverSession struct {
	sess neo4j.SessionWithContext
}

func (d *driverSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return d.sess.Run(ctx, cypher, params)
}

func (d *driverSession) Transact(ctx context.Context, fn func(CypherRunner) error) error {
	tx, err := d.sess.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(txRunner{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (d *driverSession) Close(ctx context.Context) error { return d.sess.Close(ctx) }

type txRunner struct {
	tx neo4j.ExplicitTransaction
}

func (t txRunner) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return t.tx.Run(ctx, cypher, params)
}
