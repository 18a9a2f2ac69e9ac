package output

// NotificationOutcome is what the cleanup policy knows about the email step.
type NotificationOutcome int

const (
	NotificationNotAttempted NotificationOutcome = iota
	NotificationSucceeded
	NotificationFailed
)

// CleanupDecision says whether an execution's permanent files should be
// deleted, and why (or why not).
type CleanupDecision struct {
	Delete bool
	Reason string
}

// DecideCleanup applies the retention rules, in priority order:
//
//  1. no files: nothing to clean
//  2. cleanup disabled: files are retained indefinitely for web download
//  3. cleanup enabled and the email was confirmed delivered: delete
//  4. cleanup enabled but the email failed or was never attempted: keep;
//     undelivered output is never deleted
func DecideCleanup(cleanupEnabled bool, outcome NotificationOutcome, fileCount int) CleanupDecision {
	switch {
	case fileCount == 0:
		return CleanupDecision{Delete: false, Reason: "no output files"}
	case !cleanupEnabled:
		return CleanupDecision{Delete: false, Reason: "cleanup disabled, files kept for download"}
	case outcome == NotificationSucceeded:
		return CleanupDecision{Delete: true, Reason: "results emailed, cleanup enabled"}
	default:
		return CleanupDecision{Delete: false, Reason: "notification not delivered, files kept"}
	}
}

// ApplyCleanup executes a decision against the store. Deleting an already
// deleted directory is success, so this is safe to call twice.
func ApplyCleanup(store *Store, decision CleanupDecision, executionID string) error {
	if !decision.Delete {
		return nil
	}
	return store.Remove(executionID)
}
