package orchestrator

import (
	"context"
	"strings"
	"sync"

	"github.com/mikeboe/report-engine/pkg/types"
	"github.com/mikeboe/report-engine/pkg/writer"
)

// runDetailed builds a multi-subtopic report. Each subtopic is researched
// concurrently and drafted headers-only first; one reorganization call then
// merges and orders the structure globally before any full section is paid
// for.
func (o *Orchestrator) runDetailed(ctx context.Context, q types.Query) (*Report, error) {
	o.setPhase(PhasePlanning)
	subQueries := o.planQueries(ctx, q, types.ReportResearch)

	o.setPhase(PhaseResearching)
	o.research(ctx, subQueries)

	subtopics := o.subtopicsFor(ctx, q)

	drafts := o.draftSubtopics(ctx, q, subtopics)

	o.setPhase(PhaseReorganizing)
	organized := o.deps.Planner.Reorganize(ctx, q, drafts)

	o.setPhase(PhaseWriting)
	researchContext := strings.Join(o.state.Context(), "\n\n")
	allowed := o.state.AllowedURLs()

	gap := o.deps.Writer.WriteResearchGap(ctx, q, researchContext)
	intro := o.deps.Writer.WriteIntroduction(ctx, q, researchContext, allowed)

	sections := make([]string, 0, len(organized))
	for _, sh := range organized {
		sections = append(sections, o.writeSubtopic(ctx, q, sh, sections))
	}

	conclusion := o.deps.Writer.WriteConclusion(ctx, q, strings.Join(sections, "\n\n"), gap, o.state.AllowedURLs())

	o.setPhase(PhaseAssembling)
	report := o.assemble(q, intro, sections, conclusion)
	o.setPhase(PhaseDone)
	return report, nil
}

func (o *Orchestrator) subtopicsFor(ctx context.Context, q types.Query) []types.Subtopic {
	if len(o.opts.Subtopics) > 0 {
		out := make([]types.Subtopic, len(o.opts.Subtopics))
		for i, task := range o.opts.Subtopics {
			out[i] = types.Subtopic{Task: task, Order: i}
		}
		return out
	}
	return o.deps.Planner.PlanSubtopics(ctx, q, strings.Join(o.state.Context(), "\n\n"), o.opts.MaxSubtopics)
}

// draftSubtopics researches every subtopic and extracts candidate headers,
// concurrently, each bounded by its own timeout. A subtopic that times out
// contributes empty headers and never blocks its siblings.
func (o *Orchestrator) draftSubtopics(ctx context.Context, q types.Query, subtopics []types.Subtopic) []types.SubtopicHeaders {
	drafts := make([]types.SubtopicHeaders, len(subtopics))

	var wg sync.WaitGroup
	sem := make(chan struct{}, o.opts.Concurrency)

	for i, st := range subtopics {
		wg.Add(1)
		go func(i int, st types.Subtopic) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			subQ := types.Query{Query: st.Task, ParentQuery: q.Query, QueryDomains: q.QueryDomains}

			researched := withTimeout(ctx, o.opts.SubtopicTimeout, false, func(tctx context.Context) bool {
				subQueries := o.planQueries(tctx, subQ, types.ReportSubtopic)
				o.research(tctx, subQueries)
				return true
			})

			var headers []string
			if researched {
				headers = withTimeout(ctx, o.opts.HeaderTimeout, nil, func(tctx context.Context) []string {
					return o.deps.Writer.DraftHeaders(tctx, subQ, strings.Join(o.state.Context(), "\n\n"))
				})
			} else {
				o.logger.Warn("Subtopic research timed out, skipping header draft", "subtopic", st.Task)
			}

			drafts[i] = types.SubtopicHeaders{Task: st.Task, Headers: headers}
		}(i, st)
	}
	wg.Wait()

	return drafts
}

// writeSubtopic writes one subtopic's full section. The sections already
// written are filtered for relevance and handed to the writer so it avoids
// repeating earlier coverage. A writer failure yields a placeholder section
// instead of aborting the report.
func (o *Orchestrator) writeSubtopic(ctx context.Context, q types.Query, sh types.SubtopicHeaders, written []string) string {
	subQ := types.Query{Query: sh.Task, ParentQuery: q.Query, QueryDomains: q.QueryDomains}

	var relevant []string
	if o.deps.Written != nil && len(written) > 0 {
		var err error
		relevant, err = o.deps.Written.Relevant(ctx, sh.Task, written)
		if err != nil {
			o.logger.Warn("Written-content filter failed", "subtopic", sh.Task, "error", err)
		}
	}

	section := o.deps.Writer.WriteSection(ctx, writer.SectionTask{
		Query:           subQ,
		Context:         strings.Join(o.state.Context(), "\n\n"),
		ReportType:      types.ReportSubtopic,
		Tone:            o.opts.Tone,
		ExistingHeaders: o.state.Headers(),
		RelevantWritten: relevant,
		AllowedURLs:     o.state.AllowedURLs(),
	})
	if strings.TrimSpace(section) == "" {
		o.logger.Error("Subtopic section write failed", "subtopic", sh.Task)
		return "# " + sh.Task + "\n\n*Error: section generation failed*"
	}

	o.state.AddHeaders(types.SubtopicHeaders{Task: sh.Task, Headers: sectionHeaders(section)})
	return section
}

func sectionHeaders(section string) []string {
	var out []string
	for _, line := range strings.Split(section, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			out = append(out, strings.TrimSpace(strings.TrimLeft(trimmed, "# ")))
		}
	}
	return out
}
