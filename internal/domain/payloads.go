package domain

import "encoding/json"

// Analysis is produced by the analyze node.
type Analysis struct {
	IssueSummary   string   `json:"issue_summary,omitempty"`
	Requirements   []string `json:"requirements,omitempty"`
	Complexity     float64  `json:"complexity,omitempty"`
	EstimatedHours float64  `json:"estimated_hours,omitempty"`
	RelevantFiles  []string `json:"relevant_files,omitempty"`
	TechStack      []string `json:"tech_stack,omitempty"`
	Guidelines     string   `json:"guidelines,omitempty"`
	StyleNotes     string   `json:"style_notes,omitempty"`
	Blockers       []string `json:"blockers,omitempty"`

	// Raw holds the upstream payload when it did not match the schema.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Recommendation values returned by the competition check.
const (
	RecommendProceed = "proceed"
	RecommendSkip    = "skip"
)

// CompetitionAnalysis is produced by the check_competition node.
type CompetitionAnalysis struct {
	CompetingCount int      `json:"competing_count"`
	Claimants      []string `json:"claimants,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}

// Plan is produced by the create_plan node.
type Plan struct {
	FilesToModify   []string `json:"files_to_modify,omitempty"`
	Changes         []string `json:"changes,omitempty"`
	Tests           []string `json:"tests,omitempty"`
	EstimatedLines  int      `json:"estimated_lines,omitempty"`
	Risks           []string `json:"risks,omitempty"`
	ApproachSummary string   `json:"approach_summary,omitempty"`

	Raw json.RawMessage `json:"raw,omitempty"`
}

// ExecutionResult is produced by the execute node.
type ExecutionResult struct {
	BranchName    string   `json:"branch_name,omitempty"`
	FilesChanged  []string `json:"files_changed,omitempty"`
	CommitMessage string   `json:"commit_message,omitempty"`
	PRTitle       string   `json:"pr_title,omitempty"`
	PRBody        string   `json:"pr_body,omitempty"`
	PRURL         string   `json:"pr_url,omitempty"`
	TestsAdded    []string `json:"tests_added,omitempty"`
	LintPassed    bool     `json:"lint_passed"`
	TestsPassed   bool     `json:"tests_passed"`

	Raw json.RawMessage `json:"raw,omitempty"`
}
