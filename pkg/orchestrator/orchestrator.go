package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mikeboe/report-engine/pkg/llm"
	"github.com/mikeboe/report-engine/pkg/retriever"
	"github.com/mikeboe/report-engine/pkg/scraper"
	"github.com/mikeboe/report-engine/pkg/types"
	"github.com/mikeboe/report-engine/pkg/writer"
)

// Phase is the orchestration state machine position, surfaced through the
// OnStateUpdate hook for progress reporting.
type Phase string

const (
	PhaseInit         Phase = "init"
	PhasePlanning     Phase = "planning"
	PhaseResearching  Phase = "researching"
	PhaseReorganizing Phase = "reorganizing"
	PhaseCurating     Phase = "curating"
	PhaseWriting      Phase = "writing"
	PhaseAssembling   Phase = "assembling"
	PhaseDone         Phase = "done"
)

// QueryPlanner covers every planning-stage LLM call.
type QueryPlanner interface {
	Plan(ctx context.Context, q types.Query, contextHint string, maxSubQueries int, rt types.ReportType) []types.SubQuery
	PlanSubtopics(ctx context.Context, q types.Query, contextHint string, maxSubtopics int) []types.Subtopic
	Reorganize(ctx context.Context, q types.Query, drafts []types.SubtopicHeaders) []types.SubtopicHeaders
	Reflect(ctx context.Context, q types.Query, researchContext string, currentDepth, totalDepth int) ([]types.SubQuery, bool)
}

type SourceScraper interface {
	Scrape(ctx context.Context, urls []string) []scraper.SourceDocument
}

type ContextCompressor interface {
	Compress(ctx context.Context, query string, docs []scraper.SourceDocument) (string, error)
}

type SourceCurator interface {
	Curate(ctx context.Context, query string, docs []scraper.SourceDocument) []scraper.SourceDocument
}

// SourceIndexer persists acquired sources for later reuse. Best-effort;
// implementations log their own failures.
type SourceIndexer interface {
	Index(ctx context.Context, query string, docs []scraper.SourceDocument)
}

// WrittenFilter narrows already-written sections down to the ones relevant
// to the next section's topic, so the writer sees prior coverage without the
// whole report in its prompt.
type WrittenFilter interface {
	Relevant(ctx context.Context, topic string, sections []string) ([]string, error)
}

type ReportWriter interface {
	WriteIntroduction(ctx context.Context, query types.Query, researchContext string, allowedURLs map[string]bool) string
	WriteSection(ctx context.Context, task writer.SectionTask) string
	WriteConclusion(ctx context.Context, query types.Query, reportBody, researchGap string, allowedURLs map[string]bool) string
	WriteResearchGap(ctx context.Context, query types.Query, researchContext string) string
	DraftHeaders(ctx context.Context, query types.Query, researchContext string) []string
}

// Deps are the pipeline stages. Curator, Indexer and Written are optional;
// everything else is required.
type Deps struct {
	Planner    QueryPlanner
	Retrievers []retriever.Retriever
	Scraper    SourceScraper
	Compressor ContextCompressor
	Curator    SourceCurator
	Indexer    SourceIndexer
	Written    WrittenFilter
	Writer     ReportWriter
	Logger     *slog.Logger

	// Ledger, when set, is the cost ledger the run reports from. Pass the
	// same ledger's callback into the planner, writer and curator so their
	// spend lands in the run totals.
	Ledger *llm.CostLedger
}

type Options struct {
	ReportType    types.ReportType
	Tone          types.Tone
	MaxSubQueries int
	MaxSubtopics  int
	MaxResults    int
	Concurrency   int
	TotalDepth    int

	// SourceURLs are caller-supplied URLs researched alongside retrieval.
	SourceURLs []string
	// Subtopics preempts subtopic planning for detailed reports.
	Subtopics []string

	SubtopicTimeout time.Duration
	HeaderTimeout   time.Duration

	OnStateUpdate func(Phase)
}

// Report is the orchestration result.
type Report struct {
	Markdown    string
	Costs       llm.Totals
	VisitedURLs []string
	Images      []string
}

// Orchestrator runs one research report end to end. It is single-use: state
// and ledger belong to one run.
type Orchestrator struct {
	deps   Deps
	opts   Options
	state  *State
	ledger *llm.CostLedger
	logger *slog.Logger
}

func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Planner == nil || deps.Scraper == nil || deps.Compressor == nil || deps.Writer == nil {
		return nil, fmt.Errorf("planner, scraper, compressor and writer are all required")
	}
	if len(deps.Retrievers) == 0 && len(opts.SourceURLs) == 0 {
		return nil, fmt.Errorf("%w and no source URLs provided", retriever.ErrNoRetrievers)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.MaxSubQueries < 1 {
		opts.MaxSubQueries = 3
	}
	if opts.MaxSubtopics < 1 {
		opts.MaxSubtopics = 5
	}
	if opts.MaxResults < 1 {
		opts.MaxResults = 5
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 3
	}
	if opts.TotalDepth < 1 {
		opts.TotalDepth = 2
	}
	ledger := deps.Ledger
	if ledger == nil {
		ledger = llm.NewCostLedger()
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		state:  NewState(),
		ledger: ledger,
		logger: deps.Logger,
	}, nil
}

// Ledger exposes the run's cost ledger; its callback is what callers should
// wire into the planner, writer and curator they construct.
func (o *Orchestrator) Ledger() *llm.CostLedger { return o.ledger }

func (o *Orchestrator) setPhase(p Phase) {
	o.logger.Info("Orchestration phase", "phase", string(p))
	if o.opts.OnStateUpdate != nil {
		o.opts.OnStateUpdate(p)
	}
}

func (o *Orchestrator) Run(ctx context.Context, q types.Query) (*Report, error) {
	if strings.TrimSpace(q.Query) == "" {
		return nil, fmt.Errorf("empty research query")
	}
	o.setPhase(PhaseInit)

	// Caller-supplied URLs are acquired once, up front, before any fan-out.
	if len(o.opts.SourceURLs) > 0 {
		o.acquireAndCompress(ctx, q.Query, o.opts.SourceURLs, nil)
	}

	switch o.opts.ReportType {
	case types.ReportDetailed:
		return o.runDetailed(ctx, q)
	case types.ReportDeep:
		return o.runDeep(ctx, q)
	default:
		return o.runStandard(ctx, q)
	}
}

// planQueries decomposes the query unless every backend is a tool server, in
// which case the tools reason over the raw query themselves.
func (o *Orchestrator) planQueries(ctx context.Context, q types.Query, rt types.ReportType) []types.SubQuery {
	if retriever.ToolOnly(o.deps.Retrievers) {
		return []types.SubQuery{{Query: q.Query}}
	}
	return o.deps.Planner.Plan(ctx, q, "", o.opts.MaxSubQueries, rt)
}

func (o *Orchestrator) runStandard(ctx context.Context, q types.Query) (*Report, error) {
	o.setPhase(PhasePlanning)
	subQueries := o.planQueries(ctx, q, o.opts.ReportType)

	o.setPhase(PhaseResearching)
	o.research(ctx, subQueries)

	o.setPhase(PhaseWriting)
	researchContext := strings.Join(o.state.Context(), "\n\n")
	allowed := o.state.AllowedURLs()

	gap := o.deps.Writer.WriteResearchGap(ctx, q, researchContext)
	intro := o.deps.Writer.WriteIntroduction(ctx, q, researchContext, allowed)
	body := o.deps.Writer.WriteSection(ctx, writer.SectionTask{
		Query:       q,
		Context:     researchContext,
		ReportType:  o.opts.ReportType,
		Tone:        o.opts.Tone,
		AllowedURLs: allowed,
	})
	conclusion := o.deps.Writer.WriteConclusion(ctx, q, body, gap, allowed)

	o.setPhase(PhaseAssembling)
	report := o.assemble(q, intro, []string{body}, conclusion)
	o.setPhase(PhaseDone)
	return report, nil
}

// research runs the retrieval fan-out for a set of sub-queries. Each
// sub-query's pipeline runs sequentially; sub-queries run concurrently under
// the worker limit. Failures degrade that sub-query to no contribution.
//
// The curating phase is announced here, once per fan-out, rather than from
// inside the concurrent pipelines where emissions would interleave.
func (o *Orchestrator) research(ctx context.Context, subQueries []types.SubQuery) {
	if o.deps.Curator != nil {
		o.setPhase(PhaseCurating)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, o.opts.Concurrency)

	for _, sq := range subQueries {
		wg.Add(1)
		go func(sq types.SubQuery) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			o.researchSubQuery(ctx, sq)
		}(sq)
	}
	wg.Wait()
}

func (o *Orchestrator) researchSubQuery(ctx context.Context, sq types.SubQuery) {
	var urls []string
	var inline []scraper.SourceDocument

	for _, r := range o.deps.Retrievers {
		results, err := r.Search(ctx, sq.Query, o.opts.MaxResults)
		if err != nil {
			o.logger.Warn("Retriever failed", "retriever", r.Name(), "query", sq.Query, "error", err)
			continue
		}
		complete := retriever.CompleteResults(r)
		for _, res := range results {
			// Results that already carry full content skip the scraper;
			// web results only carry a snippet and need the real page.
			// Complete-content backends keep their http source URLs as
			// provenance, so the backend capability decides, not the scheme.
			if res.Content != "" && (complete || !strings.HasPrefix(res.URL, "http")) {
				inline = append(inline, scraper.SourceDocument{
					URL: res.URL, Title: res.Title, RawContent: res.Content,
				})
				continue
			}
			urls = append(urls, res.URL)
		}
	}

	o.acquireAndCompress(ctx, sq.Query, urls, inline)
}

// acquireAndCompress scrapes the unvisited URLs, optionally curates, then
// compresses everything into the shared context.
func (o *Orchestrator) acquireAndCompress(ctx context.Context, query string, urls []string, inline []scraper.SourceDocument) {
	fresh := o.state.MarkVisited(urls)

	docs := inline
	if len(fresh) > 0 {
		docs = append(docs, o.deps.Scraper.Scrape(ctx, fresh)...)
	}
	for _, doc := range inline {
		o.state.MarkVisited([]string{doc.URL})
	}
	if len(docs) == 0 {
		o.logger.Warn("No sources acquired", "query", query)
		return
	}

	for _, doc := range docs {
		o.state.AddImages(doc.Images...)
	}

	if o.deps.Curator != nil {
		docs = o.deps.Curator.Curate(ctx, query, docs)
	}

	if o.deps.Indexer != nil {
		o.deps.Indexer.Index(ctx, query, docs)
	}

	compressed, err := o.deps.Compressor.Compress(ctx, query, docs)
	if err != nil {
		o.logger.Error("Context compression failed", "query", query, "error", err)
		return
	}
	o.state.AddContext(compressed)
}

// assemble concatenates the final document: title, introduction, table of
// contents, body sections, conclusion, references.
func (o *Orchestrator) assemble(q types.Query, intro string, sections []string, conclusion string) *Report {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", q.Query)

	if intro != "" {
		sb.WriteString(intro + "\n\n")
	}

	if toc := buildTOC(append(append([]string{}, sections...), conclusion)); toc != "" {
		sb.WriteString(toc + "\n\n")
	}

	for _, section := range sections {
		if section != "" {
			sb.WriteString(section + "\n\n")
		}
	}
	if conclusion != "" {
		sb.WriteString(conclusion + "\n\n")
	}

	visited := o.state.VisitedURLs()
	sort.Strings(visited)
	if len(visited) > 0 {
		sb.WriteString("## References\n\n")
		for _, u := range visited {
			fmt.Fprintf(&sb, "- %s\n", u)
		}
	}

	return &Report{
		Markdown:    strings.TrimSpace(sb.String()),
		Costs:       o.ledger.Totals(),
		VisitedURLs: visited,
		Images:      o.state.Images(),
	}
}

func buildTOC(sections []string) string {
	var entries []string
	for _, section := range sections {
		for _, line := range strings.Split(section, "\n") {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "## ") {
				entries = append(entries, strings.TrimPrefix(trimmed, "## "))
			}
		}
	}
	if len(entries) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Table of Contents\n\n")
	for i, e := range entries {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, e)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// withTimeout runs fn under a deadline. On timeout the fallback is returned
// and the abandoned work keeps its cancelled context, so it unwinds on its
// own; results arriving late are discarded.
func withTimeout[T any](ctx context.Context, d time.Duration, fallback T, fn func(context.Context) T) T {
	if d <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan T, 1)
	go func() { done <- fn(tctx) }()

	select {
	case v := <-done:
		return v
	case <-tctx.Done():
		return fallback
	}
}
