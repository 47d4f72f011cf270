package models

import (
	"encoding/json"
	"time"
)

// ── Tasks ────────────────────────────────────────────────────

// Quadrant is one of the four urgency/importance buckets a task can live in.
type Quadrant string

const (
	QuadrantUrgentImportant       Quadrant = "urgent_important"
	QuadrantImportantNotUrgent    Quadrant = "important_not_urgent"
	QuadrantUrgentNotImportant    Quadrant = "urgent_not_important"
	QuadrantNotUrgentNotImportant Quadrant = "not_urgent_not_important"
)

// Task is the unit of work users manage. The relational CRUD surface around
// tasks lives elsewhere; the agent and the suggestion lifecycle only read it
// and mutate the specific fields named by approved suggestions.
type Task struct {
	ID          string     `json:"id" db:"id"`
	UserID      string     `json:"user_id" db:"user_id"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description,omitempty" db:"description"`
	Priority    int        `json:"priority" db:"priority"`
	Tags        []string   `json:"tags,omitempty" db:"tags"`
	Quadrant    Quadrant   `json:"quadrant,omitempty" db:"quadrant"`
	StartDate   *time.Time `json:"start_date,omitempty" db:"start_date"`
	Completed   bool       `json:"completed" db:"completed"`

	// Unsorted marks a task that has not been placed in a quadrant yet.
	// Approving a quadrant suggestion clears it.
	Unsorted bool `json:"unsorted" db:"unsorted"`

	// AnalyzedAt is set every time suggestion analysis runs for this task.
	AnalyzedAt *time.Time `json:"analyzed_at,omitempty" db:"analyzed_at"`

	// External sync metadata. ExternalID is empty when the task is not
	// linked to the external provider.
	ExternalID     string    `json:"external_id,omitempty" db:"external_id"`
	LastModifiedAt time.Time `json:"last_modified_at" db:"last_modified_at"`
	SyncVersion    int64     `json:"sync_version" db:"sync_version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ── Suggestions ──────────────────────────────────────────────

// SuggestionType names the single task field a suggestion proposes to change.
type SuggestionType string

const (
	SuggestionPriority  SuggestionType = "priority"
	SuggestionTags      SuggestionType = "tags"
	SuggestionQuadrant  SuggestionType = "quadrant"
	SuggestionStartDate SuggestionType = "start_date"
)

// KnownSuggestionType reports whether t is one of the closed enum values.
func KnownSuggestionType(t SuggestionType) bool {
	switch t {
	case SuggestionPriority, SuggestionTags, SuggestionQuadrant, SuggestionStartDate:
		return true
	}
	return false
}

// SuggestionStatus tracks the lifecycle of a suggestion.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "PENDING"
	SuggestionApproved SuggestionStatus = "APPROVED"
	SuggestionRejected SuggestionStatus = "REJECTED"
)

// Suggestion is one LLM-proposed field change awaiting a human decision.
// Current and suggested values are typed per suggestion type, carried as
// raw JSON so a single row shape covers ints, string lists and dates.
type Suggestion struct {
	ID             string           `json:"id" db:"id"`
	TaskID         string           `json:"task_id" db:"task_id"`
	Type           SuggestionType   `json:"type" db:"type"`
	CurrentValue   json.RawMessage  `json:"current_value,omitempty" db:"current_value"`
	SuggestedValue json.RawMessage  `json:"suggested_value" db:"suggested_value"`
	Reason         string           `json:"reason,omitempty" db:"reason"`
	Confidence     float64          `json:"confidence" db:"confidence"`
	Status         SuggestionStatus `json:"status" db:"status"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	ResolvedAt     *time.Time       `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedByUser bool             `json:"resolved_by_user" db:"resolved_by_user"`
}

// TaskAnalysis is the result of one analysis call for one task.
type TaskAnalysis struct {
	TaskID      string       `json:"task_id"`
	Analysis    string       `json:"analysis"`
	Suggestions []Suggestion `json:"suggestions"`
}

// BatchItem reports the outcome of one task inside an analyze-batch call.
type BatchItem struct {
	TaskID string        `json:"task_id"`
	Status string        `json:"status"` // "ok" or "error"
	Data   *TaskAnalysis `json:"data,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// BatchResult aggregates an analyze-batch call. Per-item failures never
// abort sibling items.
type BatchResult struct {
	Total      int         `json:"total"`
	Successful int         `json:"successful"`
	Failed     int         `json:"failed"`
	Results    []BatchItem `json:"results"`
}

// ApproveResult summarizes an approve call.
type ApproveResult struct {
	TaskID           string   `json:"task_id"`
	ApprovedCount    int      `json:"approved_count"`
	ApprovedTypes    []string `json:"approved_types"`
	SyncedToExternal bool     `json:"synced_to_external"`
	Message          string   `json:"message,omitempty"`
}

// RejectResult summarizes a reject call.
type RejectResult struct {
	TaskID        string   `json:"task_id"`
	RejectedCount int      `json:"rejected_count"`
	RejectedTypes []string `json:"rejected_types"`
	Message       string   `json:"message,omitempty"`
}

// ── Conversations ────────────────────────────────────────────

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a thread's append-only history. An assistant
// message's final Content is the concatenation, in arrival order, of all
// message-type event deltas for that turn.
type Message struct {
	ID        string                 `json:"id" db:"id"`
	ThreadID  string                 `json:"thread_id" db:"thread_id"`
	Role      Role                   `json:"role" db:"role"`
	Content   string                 `json:"content" db:"content"`
	Events    []AgentEvent           `json:"events,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"` // tool result data for UI rendering
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}

// PendingAction is a suspended, unconfirmed tool call. It exists only
// between a confirmation-required tool_request and the matching confirm or
// cancel. At most one per thread.
type PendingAction struct {
	Tool        string                 `json:"tool" db:"tool"`
	Args        map[string]interface{} `json:"args" db:"args"`
	TraceID     string                 `json:"trace_id" db:"trace_id"`
	RequestedAt time.Time              `json:"requested_at" db:"requested_at"`
}

// ConversationThread holds one user's conversation with the agent plus the
// resumable checkpoint (the pending action, if any).
type ConversationThread struct {
	ID        string         `json:"id" db:"id"`
	UserID    string         `json:"user_id" db:"user_id"`
	Messages  []Message      `json:"messages"`
	Pending   *PendingAction `json:"pending_action,omitempty"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// ── Agent Events ─────────────────────────────────────────────

// AgentEventType tags the variants of AgentEvent.
type AgentEventType string

const (
	EventThinking     AgentEventType = "thinking"
	EventStep         AgentEventType = "step"
	EventToolRequest  AgentEventType = "tool_request"
	EventToolResult   AgentEventType = "tool_result"
	EventMessage      AgentEventType = "message"
	EventMessageChunk AgentEventType = "message_chunk"
	EventDone         AgentEventType = "done"
	EventError        AgentEventType = "error"
)

// ToolResult is the outcome of one executed tool call.
type ToolResult struct {
	Summary string                 `json:"summary"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// AgentEvent is a single typed transition emitted by the agent loop.
// Exactly one done or error event terminates a turn; fields are populated
// per Type and omitted otherwise.
type AgentEvent struct {
	Type AgentEventType `json:"type"`

	// thinking, step
	Text string `json:"text,omitempty"`

	// tool_request, tool_result
	Tool                 string                 `json:"tool,omitempty"`
	Args                 map[string]interface{} `json:"args,omitempty"`
	ConfirmationRequired bool                   `json:"confirmation_required,omitempty"`
	TraceID              string                 `json:"trace_id,omitempty"`
	Result               *ToolResult            `json:"result,omitempty"`

	// message_chunk carries Delta; a complete message carries Message.
	Delta   string                 `json:"delta,omitempty"`
	Message string                 `json:"message,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`

	// error
	Reason string `json:"reason,omitempty"`
}

// ── Chat API shapes ──────────────────────────────────────────

// ChatRequest is the body for sending a user message to a thread.
type ChatRequest struct {
	Message string `json:"message"`
}

// ConfirmRequest resolves a pending action out-of-band. Confirm false
// cancels the action.
type ConfirmRequest struct {
	Tool    string                 `json:"tool"`
	Args    map[string]interface{} `json:"args"`
	TraceID string                 `json:"trace_id"`
	Confirm bool                   `json:"confirm"`
}

// ApproveRequest selects suggestion types to approve or reject.
// ["all"] matches every pending suggestion.
type ApproveRequest struct {
	SuggestionTypes []string `json:"suggestion_types"`
}
