package pipeline

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/MeKo-Tech/docstream/internal/document"
)

// Stream processes data and yields page events in page order, phase 1
// through final within a page, followed by one done event. A document
// that cannot be opened yields a single *DocumentError. Breaking out of
// the loop cancels the remaining work; Stream returns only after all page
// workers have stopped.
func (p *Pipeline) Stream(ctx context.Context, data []byte) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		hash := document.HashBytes(data)
		if entry, ok := p.cache.Lookup(ctx, hash); ok {
			replay(entry, yield)
			return
		}

		for {
			f, leader := p.join(hash)
			if leader {
				p.lead(ctx, hash, data, f, yield)
				return
			}

			select {
			case <-f.done:
			case <-ctx.Done():
				p.leave(f)
				yield(Event{}, ctx.Err())
				return
			}
			switch {
			case f.entry != nil:
				replay(f.entry, yield)
				return
			case f.err != nil:
				yield(Event{}, f.err)
				return
			}
			// The leader was cancelled; try to take over.
		}
	}
}

// Process drains Stream and returns the finished entry.
func (p *Pipeline) Process(ctx context.Context, data []byte) (*document.Entry, error) {
	for ev, err := range p.Stream(ctx, data) {
		if err != nil {
			return nil, err
		}
		if ev.Type == EventDone {
			return ev.Entry, nil
		}
	}
	return nil, errors.New("stream ended without a result")
}

func replay(entry *document.Entry, yield func(Event, error) bool) {
	total := len(entry.Pages)
	for i := range entry.Pages {
		page := entry.Pages[i].Clone()
		if !yield(Event{Type: EventPage, Hash: entry.Hash, Cached: true, TotalPages: total, Page: &page}, nil) {
			return
		}
	}
	yield(Event{
		Type: EventDone, Hash: entry.Hash, Cached: true, TotalPages: total,
		FullText: entry.FullText, Entry: entry,
	}, nil)
}

type pageEvent struct {
	page  int
	event Event
}

// lead runs the computation for hash and always lands the flight.
func (p *Pipeline) lead(parent context.Context, hash string, data []byte, f *flight, yield func(Event, error) bool) {
	var (
		entry *document.Entry
		fail  error
	)
	defer func() { p.land(hash, f, entry, fail) }()

	// Another leader may have finished between the cache check and join.
	if cached, ok := p.cache.Lookup(parent, hash); ok {
		entry = cached
		replay(cached, yield)
		return
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	logger := p.logger.With("hash", shortHash(hash))

	doc, err := p.opener.Open(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			yield(Event{}, ctx.Err())
			return
		}
		fail = &DocumentError{Hash: hash, Err: err}
		logger.Error("Cannot open document", "error", err)
		yield(Event{}, fail)
		return
	}
	defer func() { _ = doc.Close() }()

	total := doc.NumPages()
	if total <= 0 {
		fail = &DocumentError{Hash: hash, Err: errors.New("document has no pages")}
		yield(Event{}, fail)
		return
	}
	logger.Info("Processing document", "pages", total, "workers", p.cfg.MaxWorkers)
	started := time.Now()

	events := make(chan pageEvent)
	window := semaphore.NewWeighted(int64(p.cfg.Lookahead))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxWorkers)

	go func() {
		defer close(events)
		for num := 1; num <= total; num++ {
			if err := window.Acquire(ctx, 1); err != nil {
				break
			}
			g.Go(func() error {
				p.runPage(gctx, doc, hash, num, total, func(ev Event) bool {
					select {
					case events <- pageEvent{page: num, event: ev}:
						return true
					case <-gctx.Done():
						return false
					}
				})
				return nil
			})
		}
		_ = g.Wait()
	}()

	pages := make([]document.Page, 0, total)
	buffered := make(map[int][]Event)
	next := 1
	stopped := false
	for pe := range events {
		if stopped {
			continue
		}
		buffered[pe.page] = append(buffered[pe.page], pe.event)
		for !stopped && len(buffered[next]) > 0 {
			ev := buffered[next][0]
			buffered[next] = buffered[next][1:]
			if !yield(ev, nil) {
				stopped = true
				cancel()
				break
			}
			if ev.Final() {
				pages = append(pages, *ev.Page)
				delete(buffered, next)
				window.Release(1)
				next++
			}
		}
	}
	if stopped {
		logger.Debug("Consumer stopped early", "yielded_pages", len(pages))
		return
	}
	// Pages finished under a cancelled context may be degraded; never cache them.
	if err := ctx.Err(); err != nil || len(pages) != total {
		if err == nil {
			err = errors.New("page workers stopped before finishing")
		}
		yield(Event{}, err)
		return
	}

	entry = p.finalize(hash, pages)
	if err := p.cache.Put(context.WithoutCancel(ctx), entry); err != nil {
		logger.Warn("Result not cached", "error", err)
	}
	logger.Info("Document complete", "pages", total, "elapsed", time.Since(started).Round(time.Millisecond))
	yield(Event{
		Type: EventDone, Hash: hash, TotalPages: total,
		FullText: entry.FullText, Entry: entry, Elapsed: time.Since(started),
	}, nil)
}

func (p *Pipeline) finalize(hash string, pages []document.Page) *document.Entry {
	texts := make([]string, len(pages))
	urls := []string{}
	for i, pg := range pages {
		texts[i] = pg.Text
		if pg.ImageURL != "" {
			urls = append(urls, pg.ImageURL)
		}
		for _, r := range pg.Regions {
			if r.ImageURL != "" {
				urls = append(urls, r.ImageURL)
			}
		}
	}
	return &document.Entry{
		Hash:      hash,
		FullText:  strings.Join(texts, p.cfg.PageSeparator),
		Pages:     pages,
		ImageURLs: urls,
		CreatedAt: time.Now().UTC(),
	}
}
