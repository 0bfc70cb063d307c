// internal/models/stage.go
package models

// Stage is an application's position in the pipeline workflow. It is a pure
// function of document ledger state plus the explicit send-to-lender and
// lender-response triggers; it is never hand-set except by staff override.
type Stage string

const (
	StageNew          Stage = "new"
	StageRequiresDocs Stage = "requires_docs"
	StageInReview     Stage = "in_review"
	StageOffToLender  Stage = "off_to_lender"
	StageAccepted     Stage = "accepted"
	StageDenied       Stage = "denied"
)

// Valid reports whether s is a known stage value.
func (s Stage) Valid() bool {
	switch s {
	case StageNew, StageRequiresDocs, StageInReview, StageOffToLender, StageAccepted, StageDenied:
		return true
	}
	return false
}

// Terminal reports whether the application has received a lender decision.
func (s Stage) Terminal() bool {
	return s == StageAccepted || s == StageDenied
}

// Rank orders stages by pipeline progress. Used to detect backward moves.
func (s Stage) Rank() int {
	switch s {
	case StageNew:
		return 0
	case StageRequiresDocs:
		return 1
	case StageInReview:
		return 2
	case StageOffToLender:
		return 3
	case StageAccepted, StageDenied:
		return 4
	default:
		return -1
	}
}
