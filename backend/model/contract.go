package model

import (
	"time"
)

// Contract is a workspace placeholder for an uploaded file. Only the name is
// kept; the file contents are never read.
type Contract struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// ReviewResult is the set of findings shown by the workspace review panel.
type ReviewResult struct {
	MissingClauses  []string `json:"missing_clauses"`
	Risks           []string `json:"risks"`
	Recommendations []string `json:"recommendations"`
}

// StaticReview returns the example review shown for every workspace contract.
// A fresh copy is returned so callers can't mutate the shared lists.
func StaticReview() ReviewResult {
	return ReviewResult{
		MissingClauses: []string{
			"Data Protection Clause",
			"Termination for Convenience Clause",
		},
		Risks: []string{
			"Unlimited liability exposure for the service provider",
		},
		Recommendations: []string{
			"Add a GDPR-compliant data processing clause",
			"Cap liability at twelve months of fees",
		},
	}
}
