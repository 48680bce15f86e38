package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// TaskTypeProcessScript is the asynq task type for queued script runs
const TaskTypeProcessScript = "mcq:process_script"

// ProcessScriptPayload is the task payload for a queued script run
type ProcessScriptPayload struct {
	JobID    string `json:"job_id"`
	ScriptID int    `json:"script_id"`
}

// NewProcessScriptTask builds the asynq task for a script run
func NewProcessScriptTask(jobID string, scriptID int) (*asynq.Task, error) {
	payload, err := json.Marshal(&ProcessScriptPayload{JobID: jobID, ScriptID: scriptID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}
	return asynq.NewTask(TaskTypeProcessScript, payload), nil
}
