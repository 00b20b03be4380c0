package compute

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// TaskRequest is the submission sent to the external GPU provider.
type TaskRequest struct {
	JobID      uuid.UUID
	ToolType   string
	Payload    json.RawMessage
	WebhookURL string
}

// TaskHandle is the provider's synchronous acknowledgement of a task.
type TaskHandle struct {
	// Ref is the opaque correlation reference (task id or long-running
	// operation name) completion signals will carry.
	Ref string
	// RequiresPoll is set when the provider will not push a webhook and the
	// operation must be polled instead.
	RequiresPoll bool
}

// Operation is a point-in-time view of an external task. Done=false means
// still processing; once Done, exactly one of OutputURL or Error is set.
type Operation struct {
	Done      bool
	Succeeded bool
	OutputURL string
	Error     string
	Raw       json.RawMessage
}

// Client is the abstract external compute provider: accepts a task, later
// reports completion via callback or via poll.
type Client interface {
	SubmitTask(ctx context.Context, req TaskRequest) (TaskHandle, error)
	CheckOperation(ctx context.Context, ref string) (Operation, error)
}
