package support

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/docstream/internal/document"
	"github.com/MeKo-Tech/docstream/internal/pipeline"
	"github.com/MeKo-Tech/docstream/internal/testutil"
)

// RegisterDocumentSteps registers the pipeline-level steps.
func (testCtx *TestContext) RegisterDocumentSteps(sc *godog.ScenarioContext) {
	sc.Step(`^an offline extraction service$`, testCtx.anOfflineExtractionService)
	sc.Step(`^a (\d+)-page PDF with native text$`, testCtx.aPDFWithNativeText)
	sc.Step(`^a file that is not a PDF$`, testCtx.aFileThatIsNotAPDF)

	sc.Step(`^I stream the document$`, testCtx.iStreamTheDocument)
	sc.Step(`^I stream the document again$`, testCtx.iStreamTheDocument)
	sc.Step(`^I stop reading after the first page event$`, testCtx.iStopReadingAfterTheFirstPageEvent)
	sc.Step(`^(\d+) clients stream the document at the same time$`, testCtx.clientsStreamConcurrently)

	sc.Step(`^I receive (\d+) final page events in page order$`, testCtx.iReceiveFinalPagesInOrder)
	sc.Step(`^each page passes through every phase in order$`, testCtx.eachPagePassesThroughEveryPhase)
	sc.Step(`^the last event is a done event for (\d+) pages$`, testCtx.theLastEventIsDone)
	sc.Step(`^the full text is the page texts joined by form feeds$`, testCtx.theFullTextIsJoined)
	sc.Step(`^every page was extracted natively$`, testCtx.everyPageWasExtractedNatively)
	sc.Step(`^every event is marked as cached$`, testCtx.everyEventIsCached)
	sc.Step(`^every client receives the same full text$`, testCtx.everyClientReceivesTheSameFullText)
	sc.Step(`^the document is cached$`, testCtx.theDocumentIsCached)
	sc.Step(`^the document is not cached$`, testCtx.theDocumentIsNotCached)
	sc.Step(`^the stream fails with a document error$`, testCtx.theStreamFailsWithADocumentError)
}

func (testCtx *TestContext) aPDFWithNativeText(pages int) error {
	specs := make([]testutil.PDFPage, pages)
	testCtx.PageTexts = make([]string, pages)
	for i := range pages {
		text := fmt.Sprintf("Page %d says hello", i+1)
		p := testutil.LetterPage()
		p.Texts = []testutil.PDFText{{X: 72, Y: 700, Size: 12, Text: text}}
		specs[i] = p
		testCtx.PageTexts[i] = text
	}
	testCtx.Data = testutil.BuildPDF(specs...)
	return nil
}

func (testCtx *TestContext) aFileThatIsNotAPDF() error {
	testCtx.Data = []byte("this is plain text, not a document")
	return nil
}

func (testCtx *TestContext) collect(ctx context.Context) ([]pipeline.Event, error) {
	var events []pipeline.Event
	for ev, err := range testCtx.App.Pipeline.Stream(ctx, testCtx.Data) {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (testCtx *TestContext) iStreamTheDocument() error {
	testCtx.LastEvents, testCtx.LastError = testCtx.collect(context.Background())
	return nil
}

func (testCtx *TestContext) iStopReadingAfterTheFirstPageEvent() error {
	testCtx.LastEvents = nil
	for ev, err := range testCtx.App.Pipeline.Stream(context.Background(), testCtx.Data) {
		if err != nil {
			return err
		}
		testCtx.LastEvents = append(testCtx.LastEvents, ev)
		break
	}
	if len(testCtx.LastEvents) != 1 {
		return fmt.Errorf("expected one event before stopping, got %d", len(testCtx.LastEvents))
	}
	return nil
}

func (testCtx *TestContext) clientsStreamConcurrently(clients int) error {
	testCtx.ClientEvents = make([][]pipeline.Event, clients)
	testCtx.ClientErrors = make([]error, clients)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			testCtx.ClientEvents[i], testCtx.ClientErrors[i] = testCtx.collect(context.Background())
		}()
	}
	close(start)
	wg.Wait()
	return errors.Join(testCtx.ClientErrors...)
}

func (testCtx *TestContext) finals() []*document.Page {
	var pages []*document.Page
	for _, ev := range testCtx.LastEvents {
		if ev.Final() {
			pages = append(pages, ev.Page)
		}
	}
	return pages
}

func (testCtx *TestContext) iReceiveFinalPagesInOrder(n int) error {
	if testCtx.LastError != nil {
		return fmt.Errorf("stream failed: %w", testCtx.LastError)
	}
	pages := testCtx.finals()
	if len(pages) != n {
		return fmt.Errorf("expected %d final pages, got %d", n, len(pages))
	}
	for i, p := range pages {
		if p.PageNumber != i+1 {
			return fmt.Errorf("final page %d has number %d", i+1, p.PageNumber)
		}
	}
	return nil
}

func (testCtx *TestContext) eachPagePassesThroughEveryPhase() error {
	seen := map[int][]document.Phase{}
	last := 0
	for _, ev := range testCtx.LastEvents {
		if ev.Type != pipeline.EventPage {
			continue
		}
		n := ev.Page.PageNumber
		if n < last {
			return fmt.Errorf("page %d emitted after page %d", n, last)
		}
		last = n
		seen[n] = append(seen[n], ev.Page.Phase)
	}
	want := []document.Phase{document.Phase1, document.Phase2, document.PhaseFinal}
	for n, phases := range seen {
		if fmt.Sprint(phases) != fmt.Sprint(want) {
			return fmt.Errorf("page %d phases %v, want %v", n, phases, want)
		}
	}
	return nil
}

func (testCtx *TestContext) theLastEventIsDone(pages int) error {
	if len(testCtx.LastEvents) == 0 {
		return errors.New("no events received")
	}
	last := testCtx.LastEvents[len(testCtx.LastEvents)-1]
	if last.Type != pipeline.EventDone {
		return fmt.Errorf("last event is %q", last.Type)
	}
	if last.TotalPages != pages {
		return fmt.Errorf("done event reports %d pages, want %d", last.TotalPages, pages)
	}
	return nil
}

func (testCtx *TestContext) theFullTextIsJoined() error {
	last := testCtx.LastEvents[len(testCtx.LastEvents)-1]
	got := strings.Split(last.FullText, pipeline.DefaultPageSeparator)
	if len(got) != len(testCtx.PageTexts) {
		return fmt.Errorf("full text has %d pages, want %d: %q", len(got), len(testCtx.PageTexts), last.FullText)
	}
	for i, want := range testCtx.PageTexts {
		if !strings.Contains(got[i], want) {
			return fmt.Errorf("page %d text %q does not contain %q", i+1, got[i], want)
		}
	}
	return nil
}

func (testCtx *TestContext) everyPageWasExtractedNatively() error {
	for _, p := range testCtx.finals() {
		if p.Tier != document.TierNative {
			return fmt.Errorf("page %d tier %q", p.PageNumber, p.Tier)
		}
		if len(p.Words) == 0 {
			return fmt.Errorf("page %d has no words", p.PageNumber)
		}
	}
	return nil
}

func (testCtx *TestContext) everyEventIsCached() error {
	if testCtx.LastError != nil {
		return testCtx.LastError
	}
	for i, ev := range testCtx.LastEvents {
		if !ev.Cached {
			return fmt.Errorf("event %d (%s) is not marked cached", i, ev.Type)
		}
		if ev.Type == pipeline.EventPage && ev.Page.Phase != document.PhaseFinal {
			return fmt.Errorf("cached replay emitted phase %q", ev.Page.Phase)
		}
	}
	return nil
}

func (testCtx *TestContext) everyClientReceivesTheSameFullText() error {
	want := ""
	for i, events := range testCtx.ClientEvents {
		if len(events) == 0 {
			return fmt.Errorf("client %d received nothing", i)
		}
		last := events[len(events)-1]
		if last.Type != pipeline.EventDone {
			return fmt.Errorf("client %d ended with %q", i, last.Type)
		}
		if i == 0 {
			want = last.FullText
			continue
		}
		if last.FullText != want {
			return fmt.Errorf("client %d full text %q, want %q", i, last.FullText, want)
		}
	}
	return nil
}

func (testCtx *TestContext) theDocumentIsCached() error {
	if _, ok := testCtx.App.Cache.Lookup(context.Background(), document.HashBytes(testCtx.Data)); !ok {
		return errors.New("document is not cached")
	}
	return nil
}

func (testCtx *TestContext) theDocumentIsNotCached() error {
	if _, ok := testCtx.App.Cache.Lookup(context.Background(), document.HashBytes(testCtx.Data)); ok {
		return errors.New("document is cached")
	}
	return nil
}

func (testCtx *TestContext) theStreamFailsWithADocumentError() error {
	var docErr *pipeline.DocumentError
	if !errors.As(testCtx.LastError, &docErr) {
		return fmt.Errorf("expected a document error, got %v", testCtx.LastError)
	}
	if docErr.Hash != document.HashBytes(testCtx.Data) {
		return fmt.Errorf("document error carries hash %q", docErr.Hash)
	}
	if len(testCtx.LastEvents) != 0 {
		return fmt.Errorf("expected no events before the error, got %d", len(testCtx.LastEvents))
	}
	return nil
}
