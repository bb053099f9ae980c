package orchestrator

import (
	"context"
	"strings"

	"github.com/mikeboe/report-engine/pkg/types"
	"github.com/mikeboe/report-engine/pkg/writer"
)

// runDeep researches in depth-bounded levels. Each level fans out its
// queries, then an explicit reflection step decides whether to descend with
// follow-up questions or finalize. The loop terminates at TotalDepth no
// matter what the reflection says.
func (o *Orchestrator) runDeep(ctx context.Context, q types.Query) (*Report, error) {
	o.setPhase(PhasePlanning)
	queries := o.planQueries(ctx, q, types.ReportDeep)

	for depth := 1; depth <= o.opts.TotalDepth; depth++ {
		o.logger.Info("Deep research level", "depth", depth, "total_depth", o.opts.TotalDepth, "queries", len(queries))

		o.setPhase(PhaseResearching)
		o.research(ctx, queries)

		followUps, descend := o.deps.Planner.Reflect(ctx, q, strings.Join(o.state.Context(), "\n\n"), depth, o.opts.TotalDepth)
		if !descend {
			break
		}
		if len(followUps) > o.opts.MaxSubQueries {
			followUps = followUps[:o.opts.MaxSubQueries]
		}
		queries = followUps
	}

	o.setPhase(PhaseWriting)
	researchContext := strings.Join(o.state.Context(), "\n\n")
	allowed := o.state.AllowedURLs()

	gap := o.deps.Writer.WriteResearchGap(ctx, q, researchContext)
	intro := o.deps.Writer.WriteIntroduction(ctx, q, researchContext, allowed)
	body := o.deps.Writer.WriteSection(ctx, writer.SectionTask{
		Query:       q,
		Context:     researchContext,
		ReportType:  types.ReportDeep,
		Tone:        o.opts.Tone,
		AllowedURLs: allowed,
	})
	conclusion := o.deps.Writer.WriteConclusion(ctx, q, body, gap, allowed)

	o.setPhase(PhaseAssembling)
	report := o.assemble(q, intro, []string{body}, conclusion)
	o.setPhase(PhaseDone)
	return report, nil
}
