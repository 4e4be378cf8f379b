// Package pipeline holds the core data model shared by every component of
// the AI processing pipeline: jobs, extracted text, fingerprints, results,
// cache entries, metric samples and health snapshots.
package pipeline

import "time"

// TaskKind enumerates the kinds of work a Job may carry.
type TaskKind string

const (
	TaskExtractText      TaskKind = "extract_text"
	TaskExtractTender    TaskKind = "extract_tender"
	TaskGenerateQuotation TaskKind = "generate_quotation"
	TaskAnalyzeRisk      TaskKind = "analyze_risk"
	TaskBatch            TaskKind = "batch"
)

// Priority orders jobs within the queue; higher values dequeue first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Tier is a model-size class behind the Model Client.
type Tier string

const (
	TierSmall    Tier = "small"
	TierBalanced Tier = "balanced"
	TierLarge    Tier = "large"
)

// ContentType is the declared or sniffed kind of a document blob.
type ContentType string

const (
	ContentPDF        ContentType = "pdf"
	ContentDOCX       ContentType = "docx"
	ContentPlainText  ContentType = "plain-text"
	ContentUnknown    ContentType = "unknown"
)

// Status is the sum-type lifecycle of a Job. Terminal states are write-once.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// InputRef points at the document to process: either a filesystem path or
// an in-memory blob, never both.
type InputRef struct {
	Path        string
	Blob        []byte
	ContentType ContentType
}

// Job is a unit of work submitted through the facade. It is immutable after
// submission except for its Status field, which only the scheduler mutates.
type Job struct {
	ID            string
	TaskKind      TaskKind
	Input         InputRef
	CorrelationID string
	Priority      Priority
	SubmittedAt   time.Time
	Deadline      *time.Time

	Status      Status
	StartedAt   *time.Time
	EndedAt     *time.Time
	ReasonCode  string

	// BatchChildren holds the child job IDs when TaskKind == TaskBatch.
	BatchChildren []string
	// BatchInnerKind is the task kind each child job executes.
	BatchInnerKind TaskKind
	// BatchInputs holds one InputRef per child job when TaskKind == TaskBatch.
	BatchInputs []InputRef
}

// HasDeadlinePassed reports whether the job's deadline, if any, is in the past
// relative to now.
func (j *Job) HasDeadlinePassed(now time.Time) bool {
	return j.Deadline != nil && now.After(*j.Deadline)
}

// ExtractionMethod records how text was obtained from a document.
type ExtractionMethod string

const (
	MethodNative ExtractionMethod = "native"
	MethodOCR    ExtractionMethod = "ocr"
)

// PageOffset marks where a page's text begins within ExtractedText.Text.
type PageOffset struct {
	Page       int
	ByteOffset int
}

// ExtractedText is the per-document artifact produced by the Text Extractor.
type ExtractedText struct {
	Text             string
	PageOffsets      []PageOffset
	LanguageCode     string
	Method           ExtractionMethod
	QualityScore     float64
	ByteLength       int
	TokenCountEstimate int
	Truncated        bool
}

// PromptFingerprint is a stable content-addressed key over
// (task, template version, tier, canonicalized inputs).
type PromptFingerprint string

// AIResult is the outcome of one model invocation.
type AIResult struct {
	TaskKind     TaskKind
	Tier         Tier
	RawResponse  string
	Parsed       any
	Confidence   float64
	TokensIn     int
	TokensOut    int
	Latency      time.Duration
	Fingerprint  PromptFingerprint
	CompletedAt  time.Time
}

// CacheEntry wraps a stored AIResult with insertion metadata.
type CacheEntry struct {
	Result      AIResult
	InsertedAt  time.Time
	TTL         time.Duration
	SizeBytes   int
}

// Expired reports whether the entry is past its TTL as of now.
func (c *CacheEntry) Expired(now time.Time) bool {
	return now.After(c.InsertedAt.Add(c.TTL))
}

// MetricSample is one recorded pipeline event.
type MetricSample struct {
	Operation   string
	TaskKind    TaskKind
	Tier        Tier
	OutcomeCode string
	LatencyMS   int64
	TokensIn    int
	TokensOut   int
	Timestamp   time.Time
}

// ModelAvailability describes one model the runtime knows about.
type ModelAvailability struct {
	Name   string
	Loaded bool
}

// HealthSnapshot is an immutable, versioned description of the model
// runtime's current readiness. Replaced atomically; never mutated in place.
type HealthSnapshot struct {
	Reachable      bool
	Models         []ModelAvailability
	LastError      string
	LastCheckedAt  time.Time
	Generation     uint64
}

// ModelReady reports whether the given tier's configured model is loaded and
// the runtime is reachable.
func (h *HealthSnapshot) ModelReady(modelName string) bool {
	if !h.Reachable {
		return false
	}
	for _, m := range h.Models {
		if m.Name == modelName {
			return m.Loaded
		}
	}
	return false
}
