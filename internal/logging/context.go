package logging

import "context"

type contextKey string

// JobIDKey is the context key under which the current job's id is stored,
// generalized from the teacher's HTTP request-id-in-context convention
// (internal/utils.RequestIDKey) to job ids.
const JobIDKey contextKey = "jobID"

// WithJobID returns a child context carrying jobID, retrievable via JobID.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// JobID retrieves the job id stashed by WithJobID, or "" if absent.
func JobID(ctx context.Context) string {
	id, ok := ctx.Value(JobIDKey).(string)
	if !ok {
		return ""
	}
	return id
}
