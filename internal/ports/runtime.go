package ports

import (
	"context"
	"encoding/json"
	"time"
)

// CheckpointConfig addresses a checkpoint. An empty CheckpointID means "latest".
type CheckpointConfig struct {
	ThreadID     string `json:"thread_id"`
	Namespace    string `json:"checkpoint_ns"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

// Checkpoint is a snapshot of workflow channel values.
type Checkpoint struct {
	ID            string                     `json:"id"`
	TS            time.Time                  `json:"ts"`
	ChannelValues map[string]json.RawMessage `json:"channel_values"`
}

// CheckpointMetadata describes where a checkpoint came from.
type CheckpointMetadata struct {
	Source string         `json:"source"`
	Step   int            `json:"step"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// PendingWrite is a channel write recorded against a checkpoint before the next one exists.
type PendingWrite struct {
	TaskID  string          `json:"task_id"`
	Channel string          `json:"channel"`
	Value   json.RawMessage `json:"value"`
}

// CheckpointTuple bundles a checkpoint with its addressing and writes.
type CheckpointTuple struct {
	Config        CheckpointConfig
	Checkpoint    Checkpoint
	Metadata      CheckpointMetadata
	ParentConfig  *CheckpointConfig
	PendingWrites []PendingWrite
}

// CheckpointListOptions bounds Checkpointer.List.
type CheckpointListOptions struct {
	Limit  int
	Before string
}

// Checkpointer persists workflow checkpoints.
type Checkpointer interface {
	Put(ctx context.Context, cfg CheckpointConfig, cp Checkpoint, md CheckpointMetadata) (CheckpointConfig, error)
	GetTuple(ctx context.Context, cfg CheckpointConfig) (CheckpointTuple, error)
	List(ctx context.Context, cfg CheckpointConfig, opts CheckpointListOptions) ([]CheckpointTuple, error)
	PutWrites(ctx context.Context, cfg CheckpointConfig, taskID string, writes []PendingWrite) error
	DeleteThread(ctx context.Context, threadID string) error
}

// ExecRequest asks the agent executor to run one prompt.
type ExecRequest struct {
	Prompt    string
	SessionID string
	Model     string
	Dir       string
}

// ExecResult is what the agent produced.
type ExecResult struct {
	SessionID string
	Reply     string
}

// AgentExecutor runs a coding agent.
type AgentExecutor interface {
	Execute(ctx context.Context, req ExecRequest) (ExecResult, error)
	// RunCommand runs a plain command in dir and returns combined output.
	RunCommand(ctx context.Context, dir, name string, args ...string) (string, error)
}

// Notification is a human-facing event about an agent run.
type Notification struct {
	RunID  string
	Status string
	Title  string
	Body   string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }
