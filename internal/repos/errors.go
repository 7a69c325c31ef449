package repos

import "errors"

// Invariants enforced at the storage layer. Services translate these into
// the API error taxonomy.
var (
	ErrSourceLimit    = errors.New("session already holds the maximum number of sources")
	ErrHourBudget     = errors.New("plan item hours would exceed the plan total")
	ErrQuestionLimit  = errors.New("subtopic already holds the maximum number of questions")
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicatePlan  = errors.New("plan already exists for session")
)
