package contextkey

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID      key = "trace_id"
	UserID       key = "user_id"
	SubmissionID key = "submission_id"
	AssignmentID key = "assignment_id"
)
