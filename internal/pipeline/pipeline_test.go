package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/docstream/internal/cache"
	"github.com/MeKo-Tech/docstream/internal/document"
	"github.com/MeKo-Tech/docstream/internal/geometry"
	"github.com/MeKo-Tech/docstream/internal/ocr"
	"github.com/MeKo-Tech/docstream/internal/regions"
	"github.com/MeKo-Tech/docstream/internal/testutil"
	"github.com/MeKo-Tech/docstream/internal/textchain"
)

// fakePage describes one page of a fakeDoc. Each entry of lines is placed
// 100pt below the previous one.
type fakePage struct {
	lines      []string
	placements []document.Placement
	renderErr  error
	renderWait time.Duration
}

type fakeDoc struct {
	pages  []fakePage
	png    []byte
	closed atomic.Bool

	mu      sync.Mutex
	renders int
}

func newFakeDoc(t *testing.T, pages ...fakePage) *fakeDoc {
	t.Helper()
	return &fakeDoc{pages: pages, png: testutil.PagePNG(t, 1224, 1584)}
}

func (d *fakeDoc) NumPages() int { return len(d.pages) }

func (d *fakeDoc) page(n int) (fakePage, error) {
	if n < 1 || n > len(d.pages) {
		return fakePage{}, errors.New("page out of range")
	}
	return d.pages[n-1], nil
}

func (d *fakeDoc) PageSize(n int) (float64, float64, error) {
	if _, err := d.page(n); err != nil {
		return 0, 0, err
	}
	return 612, 792, nil
}

func (d *fakeDoc) Glyphs(n int) ([]document.Glyph, error) {
	pg, err := d.page(n)
	if err != nil {
		return nil, err
	}
	var out []document.Glyph
	for i, line := range pg.lines {
		out = append(out, glyphs(line, 72, 100+float64(i)*100, 12)...)
	}
	return out, nil
}

func (d *fakeDoc) Links(int) ([]document.Link, error) { return nil, nil }

func (d *fakeDoc) Images(n int) ([]document.Placement, error) {
	pg, err := d.page(n)
	if err != nil {
		return nil, err
	}
	return pg.placements, nil
}

func (d *fakeDoc) Render(ctx context.Context, n, _ int) ([]byte, error) {
	pg, err := d.page(n)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.renders++
	d.mu.Unlock()
	if pg.renderWait > 0 {
		select {
		case <-time.After(pg.renderWait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if pg.renderErr != nil {
		return nil, pg.renderErr
	}
	return d.png, nil
}

func (d *fakeDoc) Close() error {
	d.closed.Store(true)
	return nil
}

func glyphs(text string, x, y, size float64) []document.Glyph {
	out := make([]document.Glyph, 0, len(text))
	adv := size * 0.6
	for i, r := range text {
		x0 := x + float64(i)*adv
		out = append(out, document.Glyph{
			Text:     string(r),
			Font:     "Helvetica",
			FontSize: size,
			BBox:     geometry.NewBox(x0, y, x0+adv, y+size, geometry.Document),
		})
	}
	return out
}

// countingOpener hands out doc and counts opens. When gate is set, the
// first open blocks until the gate closes or its context ends.
type countingOpener struct {
	doc   *fakeDoc
	err   error
	gate  chan struct{}
	opens atomic.Int32
}

func (o *countingOpener) Open(ctx context.Context, _ []byte) (Document, error) {
	n := o.opens.Add(1)
	if o.gate != nil && n == 1 {
		select {
		case <-o.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if o.err != nil {
		return nil, o.err
	}
	return o.doc, nil
}

type fakeRegions struct {
	mu     sync.Mutex
	pages  []int
	result func(in regions.Input) []document.Region
}

func (f *fakeRegions) Detect(_ context.Context, in regions.Input) []document.Region {
	f.mu.Lock()
	f.pages = append(f.pages, in.Page)
	f.mu.Unlock()
	if f.result == nil {
		return nil
	}
	return f.result(in)
}

func (f *fakeRegions) calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.pages...)
}

type fakeOCR struct{ calls atomic.Int32 }

func (f *fakeOCR) Available(context.Context) bool { return true }

func (f *fakeOCR) DetectText(context.Context, []byte) (ocr.Result, error) {
	f.calls.Add(1)
	return ocr.Result{Text: "scanned words", Words: []document.Word{
		{Text: "scanned", BBox: geometry.NewBox(100, 100, 300, 140, geometry.Pixel)},
		{Text: "words", BBox: geometry.NewBox(320, 100, 460, 140, geometry.Pixel)},
	}}, nil
}

type fakeAI struct{}

func (fakeAI) GenerateText(context.Context, string) (string, error) { return "", errors.New("unused") }

func (fakeAI) GenerateFromImage(context.Context, string, []byte, string) (string, error) {
	return "handwritten note", nil
}

type recordingSaver struct {
	mu    sync.Mutex
	names []string
}

func (s *recordingSaver) Save(_ context.Context, hash, name string, _ []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	return "/images/" + hash + "/" + name, nil
}

func newPipeline(t *testing.T, opener Opener, configure func(b *Builder)) *Pipeline {
	t.Helper()
	b := NewBuilder().WithOpener(opener).WithWorkers(2, 2)
	if configure != nil {
		configure(b)
	}
	p, err := b.Build()
	require.NoError(t, err)
	return p
}

func collect(t *testing.T, p *Pipeline, data []byte) []Event {
	t.Helper()
	var events []Event
	for ev, err := range p.Stream(context.Background(), data) {
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func finals(events []Event) []document.Page {
	var out []document.Page
	for _, ev := range events {
		if ev.Final() {
			out = append(out, *ev.Page)
		}
	}
	return out
}

func TestBuilderRequiresOpener(t *testing.T) {
	_, err := NewBuilder().Build()
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.DPI = 0
	_, err = NewBuilder().WithConfig(cfg).WithOpener(&countingOpener{}).Build()
	require.Error(t, err)
}

func TestBuilderDefaults(t *testing.T) {
	p := newPipeline(t, &countingOpener{}, func(b *Builder) {
		b.WithConfig(Config{DPI: 150, MaxWorkers: 3})
	})
	cfg := p.Config()
	assert.Equal(t, 3, cfg.MaxWorkers)
	assert.Equal(t, 3, cfg.Lookahead)
	assert.Equal(t, DefaultPageSeparator, cfg.PageSeparator)
	assert.NotNil(t, p.Cache())
}

func TestStreamNativeDocument(t *testing.T) {
	doc := newFakeDoc(t,
		fakePage{lines: []string{"First page"}},
		fakePage{lines: []string{"Second page"}},
		fakePage{lines: []string{"Third page"}},
	)
	opener := &countingOpener{doc: doc}
	saver := &recordingSaver{}
	p := newPipeline(t, opener, func(b *Builder) { b.WithImages(saver) })

	events := collect(t, p, []byte("three pages"))
	pages := finals(events)
	require.Len(t, pages, 3)
	for i, pg := range pages {
		assert.Equal(t, i+1, pg.PageNumber)
		assert.Equal(t, 3, pg.TotalPages)
		assert.Equal(t, document.TierNative, pg.Tier)
		assert.Empty(t, pg.Regions)
		assert.False(t, pg.Unextractable)
		assert.Equal(t, 1224, pg.RenderWidth)
		require.NotEmpty(t, pg.Words)
		for _, w := range pg.Words {
			assert.Equal(t, geometry.Pixel, w.BBox.Space)
		}
	}
	// 72pt at 200 DPI on a 612pt page rendered 1224px wide.
	assert.InDelta(t, 144, pages[0].Words[0].BBox.MinX, 0.5)

	last := events[len(events)-1]
	require.Equal(t, EventDone, last.Type)
	assert.False(t, last.Cached)
	assert.Equal(t, "First page\fSecond page\fThird page", last.FullText)
	require.NotNil(t, last.Entry)
	assert.Len(t, last.Entry.ImageURLs, 3)
	assert.True(t, doc.closed.Load())

	cached, ok := p.Cache().Lookup(context.Background(), document.HashBytes([]byte("three pages")))
	require.True(t, ok)
	assert.Equal(t, last.FullText, cached.FullText)
	assert.Len(t, cached.Pages, 3)
}

func TestStreamEventOrder(t *testing.T) {
	doc := newFakeDoc(t,
		fakePage{lines: []string{"slow"}, renderWait: 50 * time.Millisecond},
		fakePage{lines: []string{"fast"}},
		fakePage{lines: []string{"faster"}},
		fakePage{lines: []string{"fastest"}},
	)
	p := newPipeline(t, &countingOpener{doc: doc}, func(b *Builder) { b.WithWorkers(4, 4) })

	events := collect(t, p, []byte("ordered"))
	require.Len(t, events, 4*3+1)

	want := []document.Phase{document.Phase1, document.Phase2, document.PhaseFinal}
	for i, ev := range events[:12] {
		require.Equal(t, EventPage, ev.Type)
		assert.Equal(t, i/3+1, ev.Page.PageNumber, "event %d", i)
		assert.Equal(t, want[i%3], ev.Page.Phase, "event %d", i)
	}
	assert.Equal(t, EventDone, events[12].Type)
}

func TestStreamPhaseSnapshotsAreIndependent(t *testing.T) {
	doc := newFakeDoc(t, fakePage{lines: []string{"Body text"}})
	p := newPipeline(t, &countingOpener{doc: doc}, nil)

	events := collect(t, p, []byte("snapshots"))
	require.Len(t, events, 4)
	assert.Equal(t, geometry.Document, events[0].Page.Words[0].BBox.Space)
	assert.Equal(t, geometry.Pixel, events[1].Page.Words[0].BBox.Space)
	assert.Zero(t, events[0].Page.RenderWidth)
}

func TestStreamScannedPageFallsBackToOCR(t *testing.T) {
	doc := newFakeDoc(t, fakePage{})
	ocrSvc := &fakeOCR{}
	p := newPipeline(t, &countingOpener{doc: doc}, func(b *Builder) {
		b.WithTextChain(textchain.New(ocrSvc, fakeAI{}, textchain.Options{}))
	})

	pages := finals(collect(t, p, []byte("scan")))
	require.Len(t, pages, 1)
	pg := pages[0]
	assert.Equal(t, document.TierCloudOCR, pg.Tier)
	assert.Equal(t, "scanned words", pg.Text)
	require.Len(t, pg.Words, 2)
	assert.Equal(t, geometry.Pixel, pg.Words[0].BBox.Space)
	assert.EqualValues(t, 1, ocrSvc.calls.Load())
}

func TestStreamScannedPageGenerativeOnly(t *testing.T) {
	doc := newFakeDoc(t, fakePage{})
	p := newPipeline(t, &countingOpener{doc: doc}, func(b *Builder) {
		b.WithTextChain(textchain.New(nil, fakeAI{}, textchain.Options{}))
	})

	pages := finals(collect(t, p, []byte("handwriting")))
	require.Len(t, pages, 1)
	assert.Equal(t, document.TierGenerative, pages[0].Tier)
	assert.Equal(t, "handwritten note", pages[0].Text)
	assert.Empty(t, pages[0].Words)
}

func TestStreamUnextractablePage(t *testing.T) {
	doc := newFakeDoc(t, fakePage{})
	p := newPipeline(t, &countingOpener{doc: doc}, nil)

	pages := finals(collect(t, p, []byte("blank")))
	require.Len(t, pages, 1)
	assert.Equal(t, document.TierNone, pages[0].Tier)
	assert.True(t, pages[0].Unextractable)
	assert.Empty(t, pages[0].Text)
}

func TestStreamRegionsRemoveCoveredWords(t *testing.T) {
	doc := newFakeDoc(t, fakePage{lines: []string{"Body text", "Figure words"}})
	det := &fakeRegions{result: func(in regions.Input) []document.Region {
		return []document.Region{{
			ID:       "fig-1",
			Label:    document.LabelFigure,
			BBox:     geometry.NewBox(100, 380, 1000, 460, geometry.Pixel),
			ImageURL: "/images/" + in.Hash + "/p0001-r00.png",
			Source:   document.SourceModel,
		}}
	}}
	p := newPipeline(t, &countingOpener{doc: doc}, func(b *Builder) { b.WithRegions(det) })

	events := collect(t, p, []byte("figure page"))
	pages := finals(events)
	require.Len(t, pages, 1)
	pg := pages[0]
	require.Len(t, pg.Regions, 1)
	assert.Equal(t, "Body text", pg.Text)
	for _, w := range pg.Words {
		assert.NotEqual(t, "Figure", w.Text)
	}
	assert.Equal(t, []int{1}, det.calls())

	done := events[len(events)-1]
	assert.Contains(t, done.Entry.ImageURLs, pg.Regions[0].ImageURL)
}

func TestStreamRegionInputCarriesNativeLayout(t *testing.T) {
	place := document.Placement{Name: "Im1", BBox: geometry.NewBox(100, 300, 300, 500, geometry.Document)}
	doc := newFakeDoc(t, fakePage{lines: []string{"Caption"}, placements: []document.Placement{place}})
	var got regions.Input
	det := &fakeRegions{result: func(in regions.Input) []document.Region {
		got = in
		return nil
	}}
	p := newPipeline(t, &countingOpener{doc: doc}, func(b *Builder) { b.WithRegions(det) })

	collect(t, p, []byte("layout"))
	assert.Equal(t, 1, got.Page)
	assert.Equal(t, []document.Placement{place}, got.Placements)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "Caption", got.Lines[0].Text())
	assert.NotEmpty(t, got.Glyphs)
	assert.NotEmpty(t, got.Image)
	assert.True(t, got.RunModel)
}

func TestStreamRenderFailure(t *testing.T) {
	doc := newFakeDoc(t, fakePage{lines: []string{"Still here"}, renderErr: errors.New("rasterizer crashed")})
	det := &fakeRegions{}
	p := newPipeline(t, &countingOpener{doc: doc}, func(b *Builder) { b.WithRegions(det) })

	pages := finals(collect(t, p, []byte("broken raster")))
	require.Len(t, pages, 1)
	pg := pages[0]
	assert.True(t, pg.RenderFailed)
	assert.Equal(t, document.TierNative, pg.Tier)
	assert.Equal(t, "Still here", pg.Text)
	assert.Equal(t, geometry.Document, pg.Words[0].BBox.Space)
	assert.Empty(t, det.calls())
}

func TestStreamDocumentError(t *testing.T) {
	p := newPipeline(t, &countingOpener{err: errors.New("not a pdf")}, nil)

	var got []error
	for _, err := range p.Stream(context.Background(), []byte("garbage")) {
		got = append(got, err)
	}
	require.Len(t, got, 1)
	var docErr *DocumentError
	require.ErrorAs(t, got[0], &docErr)
	assert.Equal(t, document.HashBytes([]byte("garbage")), docErr.Hash)
	assert.Contains(t, docErr.Error(), "not a pdf")

	_, ok := p.Cache().Lookup(context.Background(), docErr.Hash)
	assert.False(t, ok)
}

func TestStreamEmptyDocument(t *testing.T) {
	p := newPipeline(t, &countingOpener{doc: newFakeDoc(t)}, nil)

	_, err := p.Process(context.Background(), []byte("no pages"))
	var docErr *DocumentError
	require.ErrorAs(t, err, &docErr)
}

func TestStreamReplaysCachedEntry(t *testing.T) {
	doc := newFakeDoc(t, fakePage{lines: []string{"One"}}, fakePage{lines: []string{"Two"}})
	opener := &countingOpener{doc: doc}
	p := newPipeline(t, opener, nil)

	first, err := p.Process(context.Background(), []byte("twice"))
	require.NoError(t, err)

	events := collect(t, p, []byte("twice"))
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.True(t, ev.Cached)
	}
	assert.Equal(t, document.PhaseFinal, events[0].Page.Phase)
	assert.Equal(t, first.FullText, events[2].FullText)
	assert.EqualValues(t, 1, opener.opens.Load())
}

func TestStreamConcurrentIdenticalInputsRunOnce(t *testing.T) {
	doc := newFakeDoc(t, fakePage{lines: []string{"Shared"}}, fakePage{lines: []string{"Result"}})
	opener := &countingOpener{doc: doc, gate: make(chan struct{})}
	p := newPipeline(t, opener, nil)
	data := []byte("same bytes")
	hash := document.HashBytes(data)

	const callers = 5
	var wg sync.WaitGroup
	entries := make([]*document.Entry, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries[i], errs[i] = p.Process(context.Background(), data)
		}()
	}

	require.Eventually(t, func() bool { return p.waiting(hash) == callers-1 },
		2*time.Second, 5*time.Millisecond)
	close(opener.gate)
	wg.Wait()

	assert.EqualValues(t, 1, opener.opens.Load())
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, hash, entries[i].Hash)
		assert.Equal(t, "Shared\fResult", entries[i].FullText)
	}
}

func TestStreamFollowerTakesOverCancelledLeader(t *testing.T) {
	doc := newFakeDoc(t, fakePage{lines: []string{"Recovered"}})
	opener := &countingOpener{doc: doc, gate: make(chan struct{})}
	p := newPipeline(t, opener, nil)
	data := []byte("takeover")
	hash := document.HashBytes(data)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := p.Process(leaderCtx, data)
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return opener.opens.Load() == 1 },
		2*time.Second, 5*time.Millisecond)

	followerDone := make(chan struct{})
	var (
		entry *document.Entry
		err   error
	)
	go func() {
		defer close(followerDone)
		entry, err = p.Process(context.Background(), data)
	}()
	require.Eventually(t, func() bool { return p.waiting(hash) == 1 },
		2*time.Second, 5*time.Millisecond)

	cancelLeader()
	require.ErrorIs(t, <-leaderErr, context.Canceled)
	<-followerDone

	require.NoError(t, err)
	assert.Equal(t, "Recovered", entry.FullText)
	assert.EqualValues(t, 2, opener.opens.Load())
}

func TestStreamFollowerGetsDocumentError(t *testing.T) {
	opener := &countingOpener{err: errors.New("encrypted"), gate: make(chan struct{})}
	p := newPipeline(t, opener, nil)
	data := []byte("locked")
	hash := document.HashBytes(data)

	errs := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := p.Process(context.Background(), data)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return p.waiting(hash) == 1 },
		2*time.Second, 5*time.Millisecond)
	close(opener.gate)

	for range 2 {
		var docErr *DocumentError
		assert.ErrorAs(t, <-errs, &docErr)
	}
	assert.EqualValues(t, 1, opener.opens.Load())
}

func TestStreamConsumerBreakStopsWork(t *testing.T) {
	pages := make([]fakePage, 5)
	for i := range pages {
		pages[i] = fakePage{lines: []string{"page"}}
	}
	doc := newFakeDoc(t, pages...)
	det := &fakeRegions{}
	p := newPipeline(t, &countingOpener{doc: doc}, func(b *Builder) {
		b.WithRegions(det).WithWorkers(1, 1)
	})
	data := []byte("five pages")

	var seen []document.Page
	for ev, err := range p.Stream(context.Background(), data) {
		require.NoError(t, err)
		if ev.Final() {
			seen = append(seen, *ev.Page)
			if ev.Page.PageNumber == 2 {
				break
			}
		}
	}

	require.Len(t, seen, 2)
	assert.Equal(t, "page", seen[0].Text)
	assert.Equal(t, []int{1, 2}, det.calls())
	assert.True(t, doc.closed.Load())

	_, ok := p.Cache().Lookup(context.Background(), document.HashBytes(data))
	assert.False(t, ok)
	assert.Zero(t, p.waiting(document.HashBytes(data)))
}

// cancelingDoc cancels the page context from inside one of the phases.
type cancelingDoc struct {
	*fakeDoc
	cancel   context.CancelFunc
	inLinks  bool
	inRender bool
}

func (d *cancelingDoc) Links(n int) ([]document.Link, error) {
	if d.inLinks {
		d.cancel()
	}
	return d.fakeDoc.Links(n)
}

func (d *cancelingDoc) Render(ctx context.Context, n, dpi int) ([]byte, error) {
	if d.inRender {
		d.cancel()
	}
	return d.fakeDoc.Render(ctx, n, dpi)
}

func TestRunPageStopsBetweenPhasesOnCancel(t *testing.T) {
	tests := []struct {
		name     string
		inLinks  bool
		inRender bool
		phases   []document.Phase
		renders  int
	}{
		{name: "during native", inLinks: true, phases: []document.Phase{document.Phase1}},
		{name: "during raster", inRender: true, phases: []document.Phase{document.Phase1, document.Phase2}, renders: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			doc := &cancelingDoc{
				fakeDoc:  newFakeDoc(t, fakePage{lines: []string{"page"}}),
				cancel:   cancel,
				inLinks:  tt.inLinks,
				inRender: tt.inRender,
			}
			det := &fakeRegions{}
			p := newPipeline(t, &countingOpener{doc: doc.fakeDoc}, func(b *Builder) { b.WithRegions(det) })

			var phases []document.Phase
			p.runPage(ctx, doc, "abc", 1, 1, func(ev Event) bool {
				phases = append(phases, ev.Page.Phase)
				return true
			})

			assert.Equal(t, tt.phases, phases)
			assert.Equal(t, tt.renders, doc.renders)
			assert.Empty(t, det.calls())
		})
	}
}

func TestStreamContextCancelled(t *testing.T) {
	doc := newFakeDoc(t, fakePage{lines: []string{"never"}, renderWait: time.Second})
	p := newPipeline(t, &countingOpener{doc: doc}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var last error
	for _, err := range p.Stream(ctx, []byte("slow")) {
		if err != nil {
			last = err
		}
	}
	require.ErrorIs(t, last, context.DeadlineExceeded)
}

type failingStore struct{ cache.Store }

func (failingStore) Get(context.Context, string) (*document.Entry, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Put(context.Context, *document.Entry) error {
	return errors.New("connection refused")
}

func TestStreamSurvivesCacheOutage(t *testing.T) {
	doc := newFakeDoc(t, fakePage{lines: []string{"Uncached"}})
	opener := &countingOpener{doc: doc}
	p := newPipeline(t, opener, func(b *Builder) {
		b.WithCache(cache.NewManager(failingStore{}, nil))
	})

	for range 2 {
		entry, err := p.Process(context.Background(), []byte("outage"))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(entry.FullText, "Uncached"))
	}
	assert.EqualValues(t, 2, opener.opens.Load())
}
