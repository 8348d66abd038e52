package session

import (
	"time"

	"review-triage/internal/domain"
	"review-triage/internal/scan"
)

// Session status values. Archival flips only this flag; the document itself
// is untouched.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusArchived  = "archived"
)

// Metadata is the session header block.
type Metadata struct {
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Name        string    `json:"name,omitempty"`
	ProjectRoot string    `json:"project_root,omitempty"`
	Status      string    `json:"status"`
	Tags        []string  `json:"tags,omitempty"`
}

// Message is one conversation entry. The tool fields are only set for tool
// exchanges.
type Message struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	ToolName   string    `json:"tool_name,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// WorkflowEvent is one pipeline progress entry. Streamed thought/chunk events
// of the same stage coalesce on append so the document stays bounded.
type WorkflowEvent struct {
	Type      string         `json:"type"`
	Stage     string         `json:"stage,omitempty"`
	Content   string         `json:"content,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Session is the persisted record of one review run, resumable across
// restarts. The JSON form is the wire contract.
type Session struct {
	SessionID        string              `json:"session_id"`
	Metadata         Metadata            `json:"metadata"`
	Messages         []Message           `json:"messages"`
	WorkflowEvents   []WorkflowEvent     `json:"workflow_events"`
	DiffFiles        []string            `json:"diff_files,omitempty"`
	DiffUnits        []domain.ReviewUnit `json:"diff_units,omitempty"`
	StaticScanLinked *scan.LinkedIssues  `json:"static_scan_linked,omitempty"`
}
