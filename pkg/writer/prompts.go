package writer

import (
	"fmt"
	"strings"

	"github.com/mikeboe/report-engine/pkg/types"
)

const introductionSystemPrompt = `You are a research report writer. Write a concise introduction for a report on the given topic using only the provided research context.

Rules:
- Markdown format, no title heading, introduction text only.
- Two to three paragraphs framing the topic, its relevance, and what the report covers.
- Cite sources in-text as ([Source](url)) using only URLs that appear in the context.`

const conclusionSystemPrompt = `You are a research report writer. Write a conclusion for the report below.

Rules:
- Markdown format, begin with a "## Conclusion" heading.
- Summarize the key findings, then note remaining open questions from the research gap if one is provided.
- Do not introduce facts that are not in the report body.`

const researchGapSystemPrompt = `You are a research analyst. Given a research question and the gathered context, identify what the context does NOT answer.

List the two or three most important unanswered angles as short bullet points. Be specific; no preamble.`

// sectionPrompts maps each report type to its writing instructions. Subtopic
// reports demote headings so they nest under the parent document's title.
var sectionPrompts = map[types.ReportType]string{
	types.ReportResearch: `You are a research report writer. Write a detailed report body on the given question using only the provided research context.

Rules:
- Markdown format with "## " section headings. No document title and no introduction or conclusion; those are written separately.
- Ground every claim in the context and cite in-text as ([Source](url)).
- Prefer concrete facts, figures, and numbers over generalities.
- Minimum 1000 words when the context supports it.`,

	types.ReportResource: `You are a research librarian. Write an annotated resource report for the given topic using only the provided research context.

Rules:
- Markdown format. One "## " section per significant source.
- For each source: what it covers, why it is useful, and its key findings, with an in-text citation ([Source](url)).
- Do not invent sources that are not in the context.`,

	types.ReportOutline: `You are a research report writer. Produce a detailed outline for a report on the given topic using the provided research context.

Rules:
- Markdown format using "## " and "### " headings with one-line descriptions of each section's intended content.
- No prose paragraphs; this is a skeleton for a later full report.`,

	types.ReportCustom: `You are a research report writer. Follow the user's custom instructions exactly, using only the provided research context and citing in-text as ([Source](url)).`,

	types.ReportSubtopic: `You are a research report writer. Write one subtopic section of a larger report, using only the provided research context.

Rules:
- Markdown format. Headings must be one level below the parent document title: use "## " for the subtopic's own sections, never "# ".
- Do not write an introduction or conclusion for the whole report; cover this subtopic only.
- Cite in-text as ([Source](url)).
- Do not repeat content or reuse header text already covered elsewhere in the report; the headers and content to avoid are listed in the task.`,

	types.ReportDeep: `You are a research report writer. Write a comprehensive synthesis of deep, multi-level research on the given question, using only the provided research context.

Rules:
- Markdown format with "## " section headings.
- Integrate findings across research depths into one coherent narrative rather than listing them chronologically.
- Cite in-text as ([Source](url)) and prefer quantitative evidence.`,
}

func sectionPromptFor(rt types.ReportType) string {
	if p, ok := sectionPrompts[rt]; ok {
		return p
	}
	return sectionPrompts[types.ReportResearch]
}

func buildSectionPrompt(task SectionTask) string {
	var sb strings.Builder

	if task.Query.ParentQuery != "" {
		fmt.Fprintf(&sb, "Main report topic: %s\n", task.Query.ParentQuery)
		fmt.Fprintf(&sb, "Subtopic to write: %s\n\n", task.Query.Query)
	} else {
		fmt.Fprintf(&sb, "Research question: %s\n\n", task.Query.Query)
	}

	if task.Tone != "" {
		fmt.Fprintf(&sb, "Tone: write in a %s tone.\n\n", task.Tone)
	}

	if len(task.ExistingHeaders) > 0 {
		sb.WriteString("Headers already used elsewhere in this report. Do NOT reuse any of them verbatim:\n")
		for _, eh := range task.ExistingHeaders {
			for _, h := range eh.Headers {
				fmt.Fprintf(&sb, "- %s (under %q)\n", h, eh.Task)
			}
		}
		sb.WriteString("\n")
	}

	if len(task.RelevantWritten) > 0 {
		sb.WriteString("Content already written elsewhere in this report. Do NOT restate it:\n")
		for _, w := range task.RelevantWritten {
			fmt.Fprintf(&sb, "---\n%s\n", w)
		}
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "Research context:\n%s\n", task.Context)
	return sb.String()
}
