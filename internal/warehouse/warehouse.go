package warehouse

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/campaignfin/internal/model"
	"github.com/sells-group/campaignfin/internal/snapshot"
)

// Build statuses recorded in the build log.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Build is one in-flight rebuild of a cycle. It holds the cycle lock until
// Publish or Discard. Staged rows are invisible to readers until Publish.
type Build interface {
	ID() string
	Cycle() int
	Stage(ctx context.Context, data snapshot.Cycle, quarantine []model.Quarantine) error
	Publish(ctx context.Context) error
	// Discard drops staged rows and releases the lock. Calling it after
	// Publish is a no-op.
	Discard(ctx context.Context) error
}

// Publication is the published pointer for one cycle.
type Publication struct {
	Cycle       int       `json:"cycle"`
	BuildID     string    `json:"build_id"`
	PublishedAt time.Time `json:"published_at"`
}

// BuildStats are the QA counters recorded with every build.
type BuildStats struct {
	Rows         map[string]int64 `json:"rows,omitempty"`
	Quarantined  int64            `json:"quarantined"`
	ByReason     map[string]int64 `json:"by_reason,omitempty"`
	Duplicates   int64            `json:"duplicates"`
	Superseded   int64            `json:"superseded"`
	Memo         int64            `json:"memo"`
	Unattributed int64            `json:"unattributed"`
	Candidates   int64            `json:"candidates"`
	Committees   int64            `json:"committees"`
	Links        int64            `json:"links"`
	// Unlinked counts candidates with zero linked committees.
	Unlinked     int64            `json:"unlinked"`
	Missing      []string         `json:"missing_tables,omitempty"`
}

// BuildEntry is one row of the build log.
type BuildEntry struct {
	ID          int64      `json:"id"`
	BuildID     string     `json:"build_id"`
	Cycle       int        `json:"cycle"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Stats       BuildStats `json:"stats"`
}

// Receipt page bounds.
const (
	DefaultReceiptLimit = 200
	MaxReceiptLimit     = 1000
)

// ReceiptQuery selects one page of a candidate's itemized receipts from the
// published builds. Empty Cycles means every published cycle.
type ReceiptQuery struct {
	CandidateID string `json:"candidate_id"`
	Cycles      []int  `json:"cycles,omitempty"`
	Limit       int    `json:"limit"`
	Page        int    `json:"page"`
}

// Normalize applies the default limit and first page and rejects
// out-of-range values.
func (q ReceiptQuery) Normalize() (ReceiptQuery, error) {
	if q.Limit == 0 {
		q.Limit = DefaultReceiptLimit
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > MaxReceiptLimit {
		return q, eris.Errorf("warehouse: receipt limit %d outside 1..%d", q.Limit, MaxReceiptLimit)
	}
	if q.Page < 1 {
		return q, eris.Errorf("warehouse: receipt page %d must be >= 1", q.Page)
	}
	return q, nil
}

// Offset is the number of rows skipped before the page.
func (q ReceiptQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// BuildLog records build attempts.
type BuildLog interface {
	StartBuild(ctx context.Context, buildID string, cycle int) (int64, error)
	CompleteBuild(ctx context.Context, id int64, stats BuildStats) error
	FailBuild(ctx context.Context, id int64, errMsg string, stats BuildStats) error
	ListBuilds(ctx context.Context, limit int) ([]BuildEntry, error)
}

// Store is the warehouse seen by the pipeline, the lookup server and the
// status command.
type Store interface {
	BuildLog
	// BeginBuild takes the cycle lock or fails with model.ErrBuildInProgress.
	BeginBuild(ctx context.Context, cycle int, buildID string) (Build, error)
	Published(ctx context.Context) ([]Publication, error)
	// Load reads every published cycle as one consistent snapshot. It
	// fails with model.ErrNoPublishedSnapshot when nothing is published.
	Load(ctx context.Context) (*snapshot.Snapshot, error)
	// Receipts reads one page of published itemized receipts, newest first.
	Receipts(ctx context.Context, q ReceiptQuery) ([]model.ItemizedReceipt, error)
}
