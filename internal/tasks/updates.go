package tasks

import (
	"fmt"

	"github.com/desertthunder/moviesnow/internal/mutation"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	DispatchRevocations Phase = iota
	RevokeSessions
	Summarize
)

func (p Phase) String() string {
	switch p {
	case DispatchRevocations:
		return "dispatch_revocations"
	case RevokeSessions:
		return "revoke_sessions"
	case Summarize:
		return "summarize"
	default:
		return ""
	}
}

func dispatchUpdate(step, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   DispatchRevocations,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Revoking %d sessions...", total),
	}
}

func revokedUpdate(step, total int, res RevokeResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RevokeSessions,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s", step, total, res.SessionID),
		Data:    res,
	}
}

func revokeFailedUpdate(step, total int, res RevokeResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RevokeSessions,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %s", step, total, res.SessionID, mutation.UserMessage(res.Err)),
		Data:    res,
	}
}

func summaryUpdate(result *BulkResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Summarize,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("%d revoked, %d failed", result.Succeeded, result.Failed),
		Data:    result,
	}
}
