package types

// ReportType selects the prompt family and orchestration shape for a run.
type ReportType string

const (
	ReportResearch ReportType = "research_report"
	ReportResource ReportType = "resource_report"
	ReportOutline  ReportType = "outline_report"
	ReportCustom   ReportType = "custom_report"
	ReportSubtopic ReportType = "subtopic_report"
	ReportDetailed ReportType = "detailed_report"
	ReportDeep     ReportType = "deep_research"
)

// Tone adjusts the writing style of generated sections.
type Tone string

const (
	ToneObjective   Tone = "objective"
	ToneFormal      Tone = "formal"
	ToneAnalytical  Tone = "analytical"
	ToneInformative Tone = "informative"
	ToneCritical    Tone = "critical"
)

// ReportSource selects where research material comes from.
type ReportSource string

const (
	SourceWeb         ReportSource = "web"
	SourceLocal       ReportSource = "local"
	SourceHybrid      ReportSource = "hybrid"
	SourceVectorStore ReportSource = "vectorstore"
)

// Query is the immutable input to one orchestration run.
type Query struct {
	Query        string   `json:"query"`
	ParentQuery  string   `json:"parent_query,omitempty"`
	QueryDomains []string `json:"query_domains,omitempty"`
}

// SubQuery is one decomposed search query produced by the planner.
type SubQuery struct {
	Query        string `json:"query"`
	ResearchGoal string `json:"researchGoal,omitempty"`
}

// Subtopic is a named sub-section of a detailed report. Order controls the
// final section sequence, not completion order.
type Subtopic struct {
	Task  string `json:"task"`
	Order int    `json:"order"`
}

// SubtopicHeaders records the headers already written for one subtopic so
// later sections can avoid re-covering them.
type SubtopicHeaders struct {
	Task    string   `json:"subtopic_task"`
	Headers []string `json:"headers"`
}
