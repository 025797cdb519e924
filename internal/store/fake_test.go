package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB records statements and emulates primary-key conflicts on the
// first argument of each insert.
type fakeDB struct {
	mu      sync.Mutex
	execs   []string
	batches [][]*pgx.QueuedQuery
	seen    map[string]bool
	err     error
	block   chan struct{} // if set, Exec waits on it
}

func newFakeDB() *fakeDB {
	return &fakeDB{seen: make(map[string]bool)}
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return pgconn.CommandTag{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return f.insertLocked(args), nil
}

func (f *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b.QueuedQueries)

	res := &fakeResults{err: f.err}
	if f.err == nil {
		for _, q := range b.QueuedQueries {
			res.tags = append(res.tags, f.insertLocked(q.Arguments))
		}
	}
	return res
}

func (f *fakeDB) insertLocked(args []any) pgconn.CommandTag {
	if len(args) == 0 {
		return pgconn.NewCommandTag("CREATE TABLE")
	}
	key := fmt.Sprint(args[0])
	if len(args) > 2 {
		key += "/" + fmt.Sprint(args[2])
	}
	if f.seen[key] {
		return pgconn.NewCommandTag("INSERT 0 0")
	}
	f.seen[key] = true
	return pgconn.NewCommandTag("INSERT 0 1")
}

func (f *fakeDB) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeDB) queuedRows() []*pgx.QueuedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*pgx.QueuedQuery
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

type fakeResults struct {
	tags []pgconn.CommandTag
	err  error
	i    int
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	if r.i >= len(r.tags) {
		return pgconn.CommandTag{}, errors.New("no more results")
	}
	tag := r.tags[r.i]
	r.i++
	return tag, nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row       { return nil }
func (r *fakeResults) Close() error            { return nil }
