// Package platform holds the display shapes of the automation backend and the
// small amount of state the console derives from them.
package platform

import "time"

// Job is a scheduled automation as reported by the backend.
type Job struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule,omitempty"`
	FlowGroup string     `json:"flowGroup,omitempty"`
	Status    string     `json:"status,omitempty"`
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`
}

// Run is a single execution of a job.
type Run struct {
	ID         string     `json:"id"`
	JobID      string     `json:"jobId"`
	Status     string     `json:"status"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Duration returns how long the run took, or has been running as of now.
func (r Run) Duration(now time.Time) time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	end := now
	if r.FinishedAt != nil {
		end = *r.FinishedAt
	}
	if end.Before(*r.StartedAt) {
		return 0
	}
	return end.Sub(*r.StartedAt)
}

// Connector is a messaging integration (telegram, whatsapp, ...).
type Connector struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

// Approval is a human gate raised by a run.
type Approval struct {
	ID          string     `json:"id"`
	JobID       string     `json:"jobId,omitempty"`
	RunID       string     `json:"runId,omitempty"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	RequestedAt *time.Time `json:"requestedAt,omitempty"`
	DecidedAt   *time.Time `json:"decidedAt,omitempty"`
}

// Approval statuses understood by the console.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// Agent is a worker process registered with the backend.
type Agent struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Status          string     `json:"status,omitempty"`
	LastHeartbeatAt *time.Time `json:"lastHeartbeatAt,omitempty"`
	CurrentTask     string     `json:"currentTask,omitempty"`
}

// JobDefinition is the payload accepted when creating a job.
type JobDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Schedule    string                 `json:"schedule"`
	FlowGroup   string                 `json:"flowGroup,omitempty"`
	Enabled     *bool                  `json:"enabled,omitempty"`
	Connector   string                 `json:"connector,omitempty"`
	Timeout     string                 `json:"timeout,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// Health is the backend health report.
type Health struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}
