package reconcile

import (
	"errors"
	"time"
)

// RunStatus is the import run state machine. Transitions are strictly
// forward: PARSING -> READY_FOR_REVIEW -> RESOLVING -> COMMITTED, with FAILED
// reachable from any non-terminal state.
type RunStatus string

const (
	// StatusParsing covers fetch, normalization and classification.
	StatusParsing RunStatus = "PARSING"
	// StatusReadyForReview means classification finished and conflicts, if
	// any, await human resolutions.
	StatusReadyForReview RunStatus = "READY_FOR_REVIEW"
	// StatusResolving means reviewer resolutions are being collected; the
	// run stays here until the commit lands.
	StatusResolving RunStatus = "RESOLVING"
	// StatusCommitted is terminal success.
	StatusCommitted RunStatus = "COMMITTED"
	// StatusFailed is terminal failure; the snapshot keeps the error.
	StatusFailed RunStatus = "FAILED"
)

// SourceKind names where a run's rows came from.
type SourceKind string

const (
	// SourceUpload is a CSV posted directly to the API.
	SourceUpload SourceKind = "upload"
	// SourceURL is a CSV fetched from a remote feed.
	SourceURL SourceKind = "url"
	// SourceScheduled is a worker-initiated fetch of the configured feed.
	SourceScheduled SourceKind = "scheduled"
)

// Summary is the per-run tally surfaced to reviewers.
type Summary struct {
	TotalRows          int `json:"totalRows"`
	Matched            int `json:"matched"`
	Conflicts          int `json:"conflicts"`
	Unmatched          int `json:"unmatched"`
	DimensionConflicts int `json:"dimensionConflicts"`
}

// CommitResult is the outcome of applying a run's writes.
type CommitResult struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Deleted int      `json:"deleted"`
	Errors  []string `json:"errors,omitempty"`
}

// Resolution is one reviewer decision, keyed by the conflicted row.
type Resolution struct {
	RowIndex int              `json:"rowIndex"`
	Action   ResolutionAction `json:"action"`
	// TargetID picks the candidate when a conflict carries several.
	TargetID string `json:"targetId,omitempty"`
	// UseCSVDimensions applies the row's dimensions even under keep_existing,
	// which is how a dimension conflict is settled without touching identity.
	UseCSVDimensions bool `json:"useCsvDimensions,omitempty"`
}

// Run is one reconciliation pass over a CSV source.
type Run struct {
	ID          string        `json:"id"`
	Source      SourceKind    `json:"source"`
	SourceRef   string        `json:"sourceRef,omitempty"`
	Status      RunStatus     `json:"status"`
	Summary     Summary       `json:"summary"`
	Outcomes    []RowOutcome  `json:"outcomes,omitempty"`
	Resolutions []Resolution  `json:"resolutions,omitempty"`
	Result      *CommitResult `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Conflicts returns the run's conflicted outcomes in row order.
func (r *Run) Conflicts() []Conflict {
	var out []Conflict
	for _, oc := range r.Outcomes {
		if oc.Kind == OutcomeConflicted && oc.Conflict != nil {
			out = append(out, *oc.Conflict)
		}
	}
	return out
}

// ErrRunNotFound indicates a missing import run.
var ErrRunNotFound = errors.New("reconcile: run not found")

// ErrRunNotReady indicates an operation that needs READY_FOR_REVIEW.
var ErrRunNotReady = errors.New("reconcile: run is not ready for review")

// ErrRunCommitted indicates a commit attempt on an already-terminal run.
var ErrRunCommitted = errors.New("reconcile: run already committed")

// ErrUnresolvedConflicts indicates a commit with pending conflicts lacking
// resolutions.
var ErrUnresolvedConflicts = errors.New("reconcile: unresolved conflicts remain")

// ErrUnknownAction indicates a resolution with an unrecognized action.
var ErrUnknownAction = errors.New("reconcile: unknown resolution action")

// ErrNoRows indicates a source that yielded no data rows.
var ErrNoRows = errors.New("reconcile: source contains no rows")
