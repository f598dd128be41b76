// Package types holds the data model shared by every core package:
// messages, conversations, checkpoints, snapshots, hooks and their
// approvals. Structs carry mapstructure, json, and yaml tags so they
// serialise identically whether they cross viper config, JSON snapshot
// files, or hook stdin/stdout documents.
package types

import "time"

// Role identifies who authored a Message.
type Role string

const (
	RoleSystem     Role = "system"
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolCall   Role = "tool_call"
	RoleToolResult Role = "tool_result"
)

// Mode is the operational persona of the agent.
type Mode string

const (
	ModeAssistant Mode = "assistant"
	ModeDeveloper Mode = "developer"
	ModeDebugger  Mode = "debugger"
	ModePlanning  Mode = "planning"
	ModeUser      Mode = "user"
)

// Tier is one of five discrete conversation-size classes, fixed for
// the life of a session.
type Tier int

const (
	TierMinimal Tier = iota + 1
	TierBasic
	TierStandard
	TierPremium
	TierUltra
)

// String renders the tier name used in logs and messages; template
// paths use the tier's number instead.
func (t Tier) String() string {
	switch t {
	case TierMinimal:
		return "Tier1_Minimal"
	case TierBasic:
		return "Tier2_Basic"
	case TierStandard:
		return "Tier3_Standard"
	case TierPremium:
		return "Tier4_Premium"
	case TierUltra:
		return "Tier5_Ultra"
	default:
		return "Tier_Unknown"
	}
}

// Part is one ordered piece of a Message's content.
type Part struct {
	Kind string `json:"kind" mapstructure:"kind" yaml:"kind"` // "text" or a structured kind
	Text string `json:"text,omitempty" mapstructure:"text,omitempty" yaml:"text,omitempty"`
}

// Message is one turn in a Conversation.
type Message struct {
	Role         Role   `json:"role" mapstructure:"role" yaml:"role"`
	Parts        []Part `json:"parts" mapstructure:"parts" yaml:"parts"`
	Timestamp    int64  `json:"timestamp" mapstructure:"timestamp" yaml:"timestamp"`
	TokenCount   int    `json:"token_count" mapstructure:"token_count" yaml:"token_count"`
	Preserved    bool   `json:"preserved" mapstructure:"preserved" yaml:"preserved"`
	CheckpointID string `json:"checkpoint_id,omitempty" mapstructure:"checkpoint_id,omitempty" yaml:"checkpoint_id,omitempty"`
}

// Text concatenates the text parts of a Message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		out += p.Text
	}
	return out
}

// CompressionEvent records one compression pass for Conversation.compression_history.
type CompressionEvent struct {
	At         time.Time `json:"at" mapstructure:"at" yaml:"at"`
	FromTokens int       `json:"from_tokens" mapstructure:"from_tokens" yaml:"from_tokens"`
	ToTokens   int       `json:"to_tokens" mapstructure:"to_tokens" yaml:"to_tokens"`
	Strategy   string    `json:"strategy" mapstructure:"strategy" yaml:"strategy"`
}

// Checkpoint is a compressor-authored summary replacing a contiguous
// span of non-preserved messages.
type Checkpoint struct {
	ID               string    `json:"id" mapstructure:"id" yaml:"id"`
	Level            int       `json:"level" mapstructure:"level" yaml:"level"`
	RangeFirst       int       `json:"range_first" mapstructure:"range_first" yaml:"range_first"`
	RangeLast        int       `json:"range_last" mapstructure:"range_last" yaml:"range_last"`
	SummaryMessage   string    `json:"summary_message" mapstructure:"summary_message" yaml:"summary_message"`
	OriginalTokens   int       `json:"original_tokens" mapstructure:"original_tokens" yaml:"original_tokens"`
	CurrentTokens    int       `json:"current_tokens" mapstructure:"current_tokens" yaml:"current_tokens"`
	CreatedAt        time.Time `json:"created_at" mapstructure:"created_at" yaml:"created_at"`
	LastAccessedAt   time.Time `json:"last_accessed_at" mapstructure:"last_accessed_at" yaml:"last_accessed_at"`
	KeyDecisions     []string  `json:"key_decisions,omitempty" mapstructure:"key_decisions,omitempty" yaml:"key_decisions,omitempty"`
	FilesModified    []string  `json:"files_modified,omitempty" mapstructure:"files_modified,omitempty" yaml:"files_modified,omitempty"`
	NextSteps        []string  `json:"next_steps,omitempty" mapstructure:"next_steps,omitempty" yaml:"next_steps,omitempty"`
}

// Conversation is the live, mutable state the Context Manager owns.
type Conversation struct {
	SessionID          string             `json:"session_id" mapstructure:"session_id" yaml:"session_id"`
	Messages           []Message          `json:"messages" mapstructure:"messages" yaml:"messages"`
	Checkpoints        []Checkpoint       `json:"checkpoints" mapstructure:"checkpoints" yaml:"checkpoints"`
	Mode               Mode               `json:"mode" mapstructure:"mode" yaml:"mode"`
	Tier               Tier               `json:"tier" mapstructure:"tier" yaml:"tier"`
	ModelID            string             `json:"model_id" mapstructure:"model_id" yaml:"model_id"`
	EffectiveCapTokens int                `json:"effective_cap_tokens" mapstructure:"effective_cap_tokens" yaml:"effective_cap_tokens"`
	CompressionHistory []CompressionEvent `json:"compression_history" mapstructure:"compression_history" yaml:"compression_history"`
}

// SnapshotTrigger names why a ContextSnapshot was created.
type SnapshotTrigger string

const (
	TriggerAuto85      SnapshotTrigger = "auto_85pct"
	TriggerAuto95      SnapshotTrigger = "auto_95pct"
	TriggerManual      SnapshotTrigger = "manual"
	TriggerPreRollover SnapshotTrigger = "pre_rollover"
)

// ContextSnapshot is an immutable, on-disk serialisation of a complete Conversation.
type ContextSnapshot struct {
	ID           string          `json:"id" mapstructure:"id" yaml:"id"`
	SessionID    string          `json:"session_id" mapstructure:"session_id" yaml:"session_id"`
	Conversation Conversation    `json:"conversation" mapstructure:"conversation" yaml:"conversation"`
	Trigger      SnapshotTrigger `json:"trigger" mapstructure:"trigger" yaml:"trigger"`
	CreatedAt    time.Time       `json:"created_at" mapstructure:"created_at" yaml:"created_at"`
}

// SnapshotMetadata is the lightweight, index-friendly view of a ContextSnapshot.
type SnapshotMetadata struct {
	ID        string          `json:"id" mapstructure:"id" yaml:"id"`
	SessionID string          `json:"session_id" mapstructure:"session_id" yaml:"session_id"`
	Trigger   SnapshotTrigger `json:"trigger" mapstructure:"trigger" yaml:"trigger"`
	CreatedAt time.Time       `json:"created_at" mapstructure:"created_at" yaml:"created_at"`
}

// HookSource names where a Hook was registered from; also its trust/priority class.
type HookSource string

const (
	HookSourceBuiltin    HookSource = "builtin"
	HookSourceUser       HookSource = "user"
	HookSourceWorkspace  HookSource = "workspace"
	HookSourceDownloaded HookSource = "downloaded"
	HookSourceExtension  HookSource = "extension"
)

// SourcePriority returns the dispatch ordering rank for a HookSource;
// lower values run first (builtin > user > workspace > downloaded > extension).
func (s HookSource) SourcePriority() int {
	switch s {
	case HookSourceBuiltin:
		return 0
	case HookSourceUser:
		return 1
	case HookSourceWorkspace:
		return 2
	case HookSourceDownloaded:
		return 3
	case HookSourceExtension:
		return 4
	default:
		return 5
	}
}

// HookEvent is one of the nine lifecycle events the Hook Runner dispatches.
type HookEvent string

const (
	EventSessionStart        HookEvent = "session_start"
	EventSessionEnd           HookEvent = "session_end"
	EventBeforeAgent          HookEvent = "before_agent"
	EventAfterAgent           HookEvent = "after_agent"
	EventBeforeModel          HookEvent = "before_model"
	EventAfterModel           HookEvent = "after_model"
	EventBeforeToolSelection  HookEvent = "before_tool_selection"
	EventBeforeTool           HookEvent = "before_tool"
	EventAfterTool            HookEvent = "after_tool"
)

// AllHookEvents lists every lifecycle event in dispatch-table order.
var AllHookEvents = []HookEvent{
	EventSessionStart, EventSessionEnd, EventBeforeAgent, EventAfterAgent,
	EventBeforeModel, EventAfterModel, EventBeforeToolSelection,
	EventBeforeTool, EventAfterTool,
}

// Hook is a registered external script invoked at a lifecycle event.
type Hook struct {
	ID            string     `json:"id" mapstructure:"id" yaml:"id"`
	Name          string     `json:"name" mapstructure:"name" yaml:"name"`
	Event         HookEvent  `json:"event" mapstructure:"event" yaml:"event"`
	Command       string     `json:"command" mapstructure:"command" yaml:"command"`
	Args          []string   `json:"args" mapstructure:"args" yaml:"args"`
	Source        HookSource `json:"source" mapstructure:"source" yaml:"source"`
	SourcePath    string     `json:"source_path,omitempty" mapstructure:"source_path,omitempty" yaml:"source_path,omitempty"`
	ExtensionName string     `json:"extension_name,omitempty" mapstructure:"extension_name,omitempty" yaml:"extension_name,omitempty"`
	RegisteredAt  int64      `json:"registered_at" mapstructure:"registered_at" yaml:"registered_at"`
}

// HookApproval records that a hook's current content hash has been trusted.
type HookApproval struct {
	Source     string    `json:"source" mapstructure:"source" yaml:"source"`
	Hash       string    `json:"hash" mapstructure:"hash" yaml:"hash"`
	ApprovedAt time.Time `json:"approvedAt" mapstructure:"approved_at" yaml:"approvedAt"`
	ApprovedBy string    `json:"approvedBy" mapstructure:"approved_by" yaml:"approvedBy"`
}

// HookOutput is the shape a hook process must emit as its single JSON document on stdout.
type HookOutput struct {
	Continue      bool                   `json:"continue"`
	SystemMessage *string                `json:"systemMessage,omitempty"`
	Data          map[string]interface{} `json:"data,omitempty"`
	Error         *string                `json:"error,omitempty"`
}

// HookInput is the JSON document fed to a hook process on stdin.
type HookInput struct {
	Event HookEvent   `json:"event"`
	Data  interface{} `json:"data"`
}

// AggregatedHookOutcome is the result of dispatching one event to all its hooks.
type AggregatedHookOutcome struct {
	Aborted        bool
	SystemMessages []string
	Data           map[string]interface{}
	Results        []HookRunResult
}

// HookRunResult pairs one hook invocation with its parsed output.
type HookRunResult struct {
	Hook   Hook
	Output HookOutput
	Err    error
}
