package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mikeboe/report-engine/pkg/retriever"
	"github.com/mikeboe/report-engine/pkg/scraper"
	"github.com/mikeboe/report-engine/pkg/types"
	"github.com/mikeboe/report-engine/pkg/writer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePlanner struct {
	subQueries []types.SubQuery
	subtopics  []types.Subtopic
	followUps  []types.SubQuery
	reflects   int
}

func (p *fakePlanner) Plan(ctx context.Context, q types.Query, hint string, max int, rt types.ReportType) []types.SubQuery {
	if len(p.subQueries) > 0 {
		return p.subQueries
	}
	return []types.SubQuery{{Query: q.Query}}
}

func (p *fakePlanner) PlanSubtopics(ctx context.Context, q types.Query, hint string, max int) []types.Subtopic {
	return p.subtopics
}

func (p *fakePlanner) Reorganize(ctx context.Context, q types.Query, drafts []types.SubtopicHeaders) []types.SubtopicHeaders {
	return drafts
}

func (p *fakePlanner) Reflect(ctx context.Context, q types.Query, hint string, depth, total int) ([]types.SubQuery, bool) {
	p.reflects++
	if len(p.followUps) > 0 && depth < total {
		return p.followUps, true
	}
	return nil, false
}

type fakeRetriever struct {
	name     string
	results  []retriever.SearchResult
	complete bool
	delay    time.Duration
	mu       sync.Mutex
	queries  []string
}

func (r *fakeRetriever) Name() string { return r.name }

func (r *fakeRetriever) CompleteResults() bool { return r.complete }

func (r *fakeRetriever) Search(ctx context.Context, query string, max int) ([]retriever.SearchResult, error) {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	r.queries = append(r.queries, query)
	r.mu.Unlock()
	return r.results, nil
}

type fakeScraper struct {
	mu      sync.Mutex
	scraped []string
}

func (s *fakeScraper) Scrape(ctx context.Context, urls []string) []scraper.SourceDocument {
	s.mu.Lock()
	s.scraped = append(s.scraped, urls...)
	s.mu.Unlock()
	docs := make([]scraper.SourceDocument, len(urls))
	for i, u := range urls {
		docs[i] = scraper.SourceDocument{URL: u, Title: u, RawContent: "content of " + u}
	}
	return docs
}

type fakeCompressor struct{}

func (c *fakeCompressor) Compress(ctx context.Context, query string, docs []scraper.SourceDocument) (string, error) {
	var parts []string
	for _, d := range docs {
		parts = append(parts, fmt.Sprintf("compressed %s for %s", d.URL, query))
	}
	return strings.Join(parts, "\n"), nil
}

type fakeCurator struct {
	mu    sync.Mutex
	calls int
}

func (c *fakeCurator) Curate(ctx context.Context, query string, docs []scraper.SourceDocument) []scraper.SourceDocument {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return docs
}

// fakeWritten keeps every prior section, recording the topics it was asked
// about.
type fakeWritten struct {
	topics []string
}

func (f *fakeWritten) Relevant(ctx context.Context, topic string, sections []string) ([]string, error) {
	f.topics = append(f.topics, topic)
	return sections, nil
}

type fakeWriter struct {
	mu    sync.Mutex
	tasks []writer.SectionTask
}

func (w *fakeWriter) WriteIntroduction(ctx context.Context, q types.Query, rc string, allowed map[string]bool) string {
	return "Intro for " + q.Query + "."
}

func (w *fakeWriter) WriteSection(ctx context.Context, task writer.SectionTask) string {
	w.mu.Lock()
	w.tasks = append(w.tasks, task)
	w.mu.Unlock()
	return "## Findings: " + task.Query.Query + "\n\nBody text."
}

func (w *fakeWriter) WriteConclusion(ctx context.Context, q types.Query, body, gap string, allowed map[string]bool) string {
	return "## Conclusion\n\nDone."
}

func (w *fakeWriter) WriteResearchGap(ctx context.Context, q types.Query, rc string) string {
	return "gap"
}

func (w *fakeWriter) DraftHeaders(ctx context.Context, q types.Query, rc string) []string {
	return []string{"Overview of " + q.Query}
}

func testDeps(r retriever.Retriever) Deps {
	return Deps{
		Planner:    &fakePlanner{},
		Retrievers: []retriever.Retriever{r},
		Scraper:    &fakeScraper{},
		Compressor: &fakeCompressor{},
		Writer:     &fakeWriter{},
		Logger:     testLogger(),
	}
}

func TestVisitedIdempotence(t *testing.T) {
	s := NewState()
	urls := []string{"https://a.example", "https://b.example"}

	first := s.MarkVisited(urls)
	if len(first) != 2 {
		t.Fatalf("first pass marked %d urls, want 2", len(first))
	}
	second := s.MarkVisited(urls)
	if len(second) != 0 {
		t.Fatalf("second pass marked %d urls, want 0", len(second))
	}
	if got := len(s.VisitedURLs()); got != 2 {
		t.Errorf("visited set has %d entries, want 2", got)
	}
}

func TestContextMonotonicityUnderConcurrency(t *testing.T) {
	s := NewState()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.AddContext(fmt.Sprintf("block %d", i), "shared block")
		}(i)
	}
	wg.Wait()

	got := s.Context()
	seen := make(map[string]bool, len(got))
	for _, b := range got {
		seen[b] = true
	}
	for i := 0; i < 20; i++ {
		if !seen[fmt.Sprintf("block %d", i)] {
			t.Errorf("block %d lost under concurrent merge", i)
		}
	}
	shared := 0
	for _, b := range got {
		if b == "shared block" {
			shared++
		}
	}
	if shared != 1 {
		t.Errorf("shared block appears %d times, want exactly 1", shared)
	}
}

func TestRunStandardAssemblesReport(t *testing.T) {
	ret := &fakeRetriever{name: "web", results: []retriever.SearchResult{
		{Title: "Page", URL: "https://a.example/page"},
	}}
	deps := testDeps(ret)
	planner := &fakePlanner{subQueries: []types.SubQuery{{Query: "q one"}, {Query: "q two"}}}
	deps.Planner = planner

	var phases []Phase
	var mu sync.Mutex
	o, err := New(deps, Options{
		ReportType: types.ReportResearch,
		OnStateUpdate: func(p Phase) {
			mu.Lock()
			phases = append(phases, p)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	report, err := o.Run(context.Background(), types.Query{Query: "topic"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, want := range []string{"# topic", "Intro for topic.", "## Table of Contents", "## Findings: topic", "## Conclusion", "## References", "https://a.example/page"} {
		if !strings.Contains(report.Markdown, want) {
			t.Errorf("report missing %q:\n%s", want, report.Markdown)
		}
	}
	if len(report.VisitedURLs) != 1 {
		t.Errorf("VisitedURLs = %v, want one entry", report.VisitedURLs)
	}

	mu.Lock()
	defer mu.Unlock()
	if phases[0] != PhaseInit || phases[len(phases)-1] != PhaseDone {
		t.Errorf("phases = %v, want init first and done last", phases)
	}
}

func TestRunDedupesScrapes(t *testing.T) {
	ret := &fakeRetriever{name: "web", results: []retriever.SearchResult{
		{Title: "Same", URL: "https://same.example"},
	}}
	deps := testDeps(ret)
	deps.Planner = &fakePlanner{subQueries: []types.SubQuery{{Query: "a"}, {Query: "b"}, {Query: "c"}}}
	sc := deps.Scraper.(*fakeScraper)

	o, err := New(deps, Options{ReportType: types.ReportResearch})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Run(context.Background(), types.Query{Query: "topic"}); err != nil {
		t.Fatal(err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if len(sc.scraped) != 1 {
		t.Errorf("scraped %v, want the shared URL fetched exactly once", sc.scraped)
	}
}

func TestDetailedTimeoutDegradesToEmptyHeaders(t *testing.T) {
	slow := &fakeRetriever{name: "slow", delay: 500 * time.Millisecond, results: []retriever.SearchResult{
		{Title: "Late", URL: "https://late.example"},
	}}
	deps := testDeps(slow)
	planner := &fakePlanner{subtopics: []types.Subtopic{{Task: "slow subtopic"}}}
	deps.Planner = planner

	o, err := New(deps, Options{
		ReportType:      types.ReportDetailed,
		SubtopicTimeout: time.Millisecond,
		HeaderTimeout:   time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	var drafts []types.SubtopicHeaders
	go func() {
		defer close(done)
		drafts = o.draftSubtopics(context.Background(), types.Query{Query: "topic"}, planner.subtopics)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("draft phase hung on a slow retriever")
	}

	if len(drafts) != 1 {
		t.Fatalf("drafts = %v, want one entry", drafts)
	}
	if len(drafts[0].Headers) != 0 {
		t.Errorf("Headers = %v, want empty after timeout", drafts[0].Headers)
	}
}

func TestDeepDepthLoopTerminates(t *testing.T) {
	ret := &fakeRetriever{name: "web", results: []retriever.SearchResult{
		{Title: "Page", URL: "https://deep.example"},
	}}
	deps := testDeps(ret)
	planner := &fakePlanner{
		subQueries: []types.SubQuery{{Query: "level one"}},
		followUps:  []types.SubQuery{{Query: "follow up"}},
	}
	deps.Planner = planner

	o, err := New(deps, Options{ReportType: types.ReportDeep, TotalDepth: 3})
	if err != nil {
		t.Fatal(err)
	}
	report, err := o.Run(context.Background(), types.Query{Query: "topic"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Reflect fires once per completed level and always offers follow-ups,
	// so the depth bound is what stops the loop.
	if planner.reflects != 3 {
		t.Errorf("reflects = %d, want 3 (one per level)", planner.reflects)
	}
	ret.mu.Lock()
	levelQueries := len(ret.queries)
	ret.mu.Unlock()
	if levelQueries != 3 {
		t.Errorf("retriever saw %d queries, want 3 (one per level)", levelQueries)
	}
	if !strings.Contains(report.Markdown, "# topic") {
		t.Errorf("report missing title:\n%s", report.Markdown)
	}
}

func TestNewRejectsMissingConfiguration(t *testing.T) {
	_, err := New(Deps{
		Planner:    &fakePlanner{},
		Scraper:    &fakeScraper{},
		Compressor: &fakeCompressor{},
		Writer:     &fakeWriter{},
		Logger:     testLogger(),
	}, Options{})
	if err == nil {
		t.Fatal("New() accepted a config with no retrievers and no source URLs")
	}
	if !errors.Is(err, retriever.ErrNoRetrievers) {
		t.Errorf("New() error = %v, want ErrNoRetrievers in the chain", err)
	}
}

func TestStoredContentSkipsScraper(t *testing.T) {
	ret := &fakeRetriever{name: "vectorstore", complete: true, results: []retriever.SearchResult{
		{Title: "Stored chunk", URL: "https://origin.example/page", Content: "stored chunk about the topic"},
	}}
	deps := testDeps(ret)
	sc := deps.Scraper.(*fakeScraper)
	w := deps.Writer.(*fakeWriter)

	o, err := New(deps, Options{ReportType: types.ReportResearch})
	if err != nil {
		t.Fatal(err)
	}
	report, err := o.Run(context.Background(), types.Query{Query: "topic"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	sc.mu.Lock()
	scraped := append([]string{}, sc.scraped...)
	sc.mu.Unlock()
	if len(scraped) != 0 {
		t.Errorf("stored result with full content was sent to the scraper: %v", scraped)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.tasks) != 1 || !strings.Contains(w.tasks[0].Context, "https://origin.example/page") {
		t.Error("stored content never reached the research context")
	}
	if len(report.VisitedURLs) != 1 || report.VisitedURLs[0] != "https://origin.example/page" {
		t.Errorf("VisitedURLs = %v, want the stored source cited", report.VisitedURLs)
	}
}

func TestDetailedSectionsSeeRelevantWritten(t *testing.T) {
	ret := &fakeRetriever{name: "web", results: []retriever.SearchResult{
		{Title: "Page", URL: "https://a.example/page"},
	}}
	deps := testDeps(ret)
	deps.Planner = &fakePlanner{subtopics: []types.Subtopic{{Task: "first"}, {Task: "second"}}}
	written := &fakeWritten{}
	deps.Written = written
	w := deps.Writer.(*fakeWriter)

	o, err := New(deps, Options{ReportType: types.ReportDetailed})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Run(context.Background(), types.Query{Query: "topic"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	w.mu.Lock()
	var subTasks []writer.SectionTask
	for _, task := range w.tasks {
		if task.ReportType == types.ReportSubtopic {
			subTasks = append(subTasks, task)
		}
	}
	w.mu.Unlock()

	if len(subTasks) != 2 {
		t.Fatalf("got %d subtopic sections, want 2", len(subTasks))
	}
	if len(subTasks[0].RelevantWritten) != 0 {
		t.Errorf("first section got prior coverage %v, want none", subTasks[0].RelevantWritten)
	}
	if len(subTasks[1].RelevantWritten) != 1 || !strings.Contains(subTasks[1].RelevantWritten[0], "Findings: first") {
		t.Errorf("second section got prior coverage %v, want the first section", subTasks[1].RelevantWritten)
	}
	if len(written.topics) != 1 || written.topics[0] != "second" {
		t.Errorf("filter consulted for topics %v, want [second]", written.topics)
	}
}

func TestCuratingPhaseEmittedOncePerFanOut(t *testing.T) {
	ret := &fakeRetriever{name: "web", results: []retriever.SearchResult{
		{Title: "Page", URL: "https://a.example/page"},
	}}
	deps := testDeps(ret)
	deps.Planner = &fakePlanner{subQueries: []types.SubQuery{{Query: "a"}, {Query: "b"}, {Query: "c"}}}
	cur := &fakeCurator{}
	deps.Curator = cur

	var phases []Phase
	var mu sync.Mutex
	o, err := New(deps, Options{
		ReportType: types.ReportResearch,
		SourceURLs: []string{"https://pinned.example"},
		OnStateUpdate: func(p Phase) {
			mu.Lock()
			phases = append(phases, p)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Run(context.Background(), types.Query{Query: "topic"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	curating := -1
	planning := -1
	count := 0
	for i, p := range phases {
		switch p {
		case PhaseCurating:
			count++
			curating = i
		case PhasePlanning:
			planning = i
		case PhaseResearching:
			if curating >= 0 {
				t.Errorf("phases oscillate back to researching after curating: %v", phases)
			}
		}
	}
	if count != 1 {
		t.Fatalf("curating emitted %d times in %v, want exactly once", count, phases)
	}
	if curating < planning {
		t.Errorf("curating emitted before planning: %v", phases)
	}

	cur.mu.Lock()
	defer cur.mu.Unlock()
	if cur.calls == 0 {
		t.Error("curator never ran")
	}
}
