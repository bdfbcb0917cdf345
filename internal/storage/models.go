package storage

// Worker status values.
const (
	WorkerActive     = "active"
	WorkerBanned     = "banned"
	WorkerRestricted = "restricted"
)

// Claim status values.
const (
	ClaimActive   = "active"
	ClaimReleased = "released"
)

// Action event result values.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// Risk level bands, lowest to highest.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Worker is one automation identity (account + browser session).
type Worker struct {
	ID            string
	CreatedAt     int64
	Status        string
	TotalTasks    int
	TotalLikes    int
	TotalComments int
}

// Claim is an exclusivity grant on a (target, action type) pair. At most one
// active claim exists per pair; released claims are kept for audit.
type Claim struct {
	ID         string
	TargetKey  string
	ActionType string
	WorkerID   string
	Status     string
	CreatedAt  int64
	ReleasedAt int64 // zero while active
}

// ClaimOutcome is the typed result of a claim attempt. Contention is an
// expected outcome, not an error: Granted is false when another worker holds
// the target, and Owner identifies it.
type ClaimOutcome struct {
	Granted bool
	Owner   string
}

// ActionEvent is one completed unit of work a worker performed. Rows are
// append-only: never updated or deleted.
type ActionEvent struct {
	ID               string
	WorkerID         string
	Module           string
	ActionType       string
	Target           string // empty when the action had no target
	StartedAt        int64
	Duration         float64  // seconds
	IntervalFromLast *float64 // seconds since this worker's previous event; nil for the first
	Result           string
	Content          string // e.g. comment text
	IPAddress        string
	Device           string
}

// BanEvent records that a worker was penalized, with a snapshot of its
// activity at ban time for post-hoc analysis.
type BanEvent struct {
	ID             string
	WorkerID       string
	BanDate        int64
	BanType        string
	AccountAgeDays int     // -1 when the creation date is unknown
	BanDelayHours  float64 // -1 when the worker has no recorded events
	TotalActions   int
	ActionsLast24h int
	ActionsLast72h int
	LastModule     string
	LastAction     string
}

// RiskScore is one computed composite risk estimate for a worker. Rows are
// appended per computation so score history stays auditable; the current
// score is the most recent row.
type RiskScore struct {
	ID             string
	WorkerID       string
	ScoreDate      int64
	AgeScore       int
	FrequencyScore int
	PatternScore   int
	ContentScore   int
	IPScore        int
	TotalScore     int
	RiskLevel      string
}

// ThresholdRow holds adaptive activity limits for one action type and time
// window, mined from historical ledger and ban data. Upserted in place.
type ThresholdRow struct {
	ActionType       string
	TimeWindow       string
	SafeThreshold    int
	WarningThreshold int
	DangerThreshold  int
	BanThreshold     int
	SampleSize       int
	LastUpdated      int64
}
