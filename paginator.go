package pnwkit

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/llehouerou/pnwkit-go/internal/queue"
	"github.com/llehouerou/pnwkit-go/pkg/jsonutil"
	"github.com/llehouerou/pnwkit-go/types"
)

// pageVariable is the variable injected into a paginated field's page
// argument. Pages are numbered from 1.
const pageVariable = "_page"

// Paginator walks every page of a paginated root field, yielding its items
// in page order.
//
// A Paginator created by Query.Paginate fetches one page per request. One
// created by Query.PaginateAsync fetches up to Batch pages concurrently,
// never past the last page once it is known. Either way a Paginator is
// consumed once; to restart, derive a new one from the original query.
type Paginator struct {
	query *Query
	key   string
	async bool

	mu    sync.Mutex
	batch int
	page  int
	info  *PaginatorInfo
	items *queue.Queue[*Record]
}

func newPaginator(q *Query, key string, async bool) (*Paginator, error) {
	var field *Field
	for _, f := range q.fields {
		if f.ResponseKey() == key {
			field = f
			break
		}
	}
	if field == nil {
		return nil, fmt.Errorf("%w: %q", ErrFieldNotFound, key)
	}

	paged := field.Clone()
	paged.Arguments = paged.Arguments.With("page", NewVariable(pageVariable, TypeInt))

	derived := newQuery(q.client, q.operation)
	derived.name = q.name
	for k, v := range q.values {
		derived.values[k] = v
	}
	derived.values[pageVariable] = 1
	derived.Field(paged)

	return &Paginator{
		query: derived,
		key:   key,
		async: async,
		batch: 1,
		items: queue.New[*Record](),
	}, nil
}

// Batch sets how many pages are requested concurrently per fill. It has no
// effect on a paginator created by Query.Paginate, which always fetches one
// page at a time.
func (p *Paginator) Batch(n int) (*Paginator, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBatchSize, n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.async {
		p.batch = n
	}
	return p, nil
}

// Query returns the derived single-field query the paginator sends.
func (p *Paginator) Query() *Query {
	return p.query
}

// PaginatorInfo returns the envelope of the last fetched page.
func (p *Paginator) PaginatorInfo() (PaginatorInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.info == nil {
		return PaginatorInfo{}, false
	}
	return *p.info, true
}

// Next returns the next item, fetching pages as needed. It returns Done once
// the last page has been drained.
func (p *Paginator) Next(ctx context.Context) (*Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rec, ok := p.items.TryPop(); ok {
		return rec, nil
	}
	if p.info != nil && !p.info.HasMorePages {
		return nil, Done
	}
	if err := p.fill(ctx); err != nil {
		return nil, err
	}
	if rec, ok := p.items.TryPop(); ok {
		return rec, nil
	}
	return nil, Done
}

// All returns an iterator over the remaining items. Iteration stops after
// the first error, which is yielded with a nil record.
func (p *Paginator) All(ctx context.Context) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		for {
			rec, err := p.Next(ctx)
			if errors.Is(err, Done) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

type page struct {
	records []*Record
	info    PaginatorInfo
}

// fill requests the next batch of pages and queues their items in page
// order.
func (p *Paginator) fill(ctx context.Context) error {
	first := p.page + 1
	last := p.page + p.batch
	if p.info != nil && p.info.LastPage > 0 && last > p.info.LastPage {
		last = p.info.LastPage
	}
	if last < first {
		return nil
	}

	pages := make([]page, last-first+1)
	g, gctx := errgroup.WithContext(ctx)
	for i := range pages {
		n := first + i
		g.Go(func() error {
			pg, err := p.fetch(gctx, n)
			if err != nil {
				return fmt.Errorf("pnwkit: fetching page %d of %s: %w", n, p.key, err)
			}
			pages[i] = pg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.page = last
	for _, pg := range pages {
		p.items.Push(pg.records...)
	}
	info := pages[len(pages)-1].info
	p.info = &info
	p.query.client.logger.DebugContext(ctx, "fetched pages",
		slog.String("field", p.key),
		slog.Int("first", first),
		slog.Int("last", last),
		slog.Bool("has_more_pages", info.HasMorePages),
	)
	return nil
}

func (p *Paginator) fetch(ctx context.Context, n int) (page, error) {
	q := p.query.SetVariables(map[string]any{pageVariable: n})
	env, err := p.query.client.send(ctx, q)
	if err != nil {
		return page{}, err
	}
	if env.data == nil {
		return page{}, fmt.Errorf("response has no %s", types.DataField)
	}
	raw, ok := env.data.Get(p.key)
	if !ok {
		return page{}, fmt.Errorf("response has no %q field", p.key)
	}
	obj, ok := raw.(*jsonutil.Object)
	if !ok {
		return page{}, fmt.Errorf("%q is %T, not a paginated collection", p.key, raw)
	}

	var pg page
	if infoObj, ok := paginatorInfoObject(obj); ok {
		if pg.info, err = paginatorInfoFrom(infoObj); err != nil {
			return page{}, fmt.Errorf("%s: %w", types.PaginatorInfoField, err)
		}
	}
	v, err := p.query.client.registry.decodeValue(obj)
	if err != nil {
		return page{}, err
	}
	pg.records = asRecords(v)
	return pg, nil
}
