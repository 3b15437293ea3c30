package graph

import (
	"context"
	"strings"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// stub answers every statement containing match.
type stub struct {
	match   string
	records []*neo4j.Record
	err     error
}

type call struct {
	cypher string
	params map[string]any
}

// mockRunner replies with the first matching stub and an empty result
// otherwise.
type mockRunner struct {
	mu    sync.Mutex
	stubs []stub
	calls []call
}

func (m *mockRunner) Run(_ context.Context, cypher string, params map[string]any) (CypherResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call{cypher: cypher, params: params})
	for _, s := range m.stubs {
		if strings.Contains(cypher, s.match) {
			if s.err != nil {
				return nil, s.err
			}
			return newMockResult(s.records...), nil
		}
	}
	return newMockResult(), nil
}

func (m *mockRunner) ran(fragment string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if strings.Contains(c.cypher, fragment) {
			return true
		}
	}
	return false
}

type mockResult struct {
	records []*neo4j.Record
	idx     int
	cur     *neo4j.Record
	err     error
}

func newMockResult(recs ...*neo4j.Record) *mockResult {
	return &mockResult{records: recs}
}

func (r *mockResult) Next(context.Context) bool {
	if r.idx >= len(r.records) {
		return false
	}
	r.cur = r.records[r.idx]
	r.idx++
	return true
}

func (r *mockResult) Record() *neo4j.Record { return r.cur }
func (r *mockResult) Err() error            { return r.err }

type mockSession struct {
	runner     *mockRunner
	beginErr   error
	committed  int
	rolledBack int
	closed     int
}

func (s *mockSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return s.runner.Run(ctx, cypher, params)
}

func (s *mockSession) Transact(_ context.Context, fn func(CypherRunner) error) error {
	if s.beginErr != nil {
		return s.beginErr
	}
	if err := fn(s.runner); err != nil {
		s.rolledBack++
		return err
	}
	s.committed++
	return nil
}

func (s *mockSession) Close(context.Context) error {
	s.closed++
	return nil
}

type mockOpener struct {
	session *mockSession
	modes   []neo4j.AccessMode
}

func (o *mockOpener) OpenSession(_ context.Context, mode neo4j.AccessMode) CypherSession {
	o.modes = append(o.modes, mode)
	return o.session
}

func newMockStore(stubs ...stub) (*Store, *mockOpener) {
	o := &mockOpener{session: &mockSession{runner: &mockRunner{stubs: stubs}}}
	return NewWithOpener(o), o
}

func record(kv ...any) *neo4j.Record {
	rec := &neo4j.Record{}
	for i := 0; i+1 < len(kv); i += 2 {
		rec.Keys = append(rec.Keys, kv[i].(string))
		rec.Values = append(rec.Values, kv[i+1])
	}
	return rec
}

func node(props map[string]any) dbtype.Node {
	return dbtype.Node{Props: props}
}
