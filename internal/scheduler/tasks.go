package scheduler

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
)

const TaskReplayCallEvent = "callevents.replay"

type ReplayCallEventPayload struct {
	ConversationID string `json:"conversationId"`
	RequestedBy    string `json:"requestedBy,omitempty"`
}

func NewReplayCallEventTask(payload ReplayCallEventPayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.ConversationID) == "" {
		return nil, fmt.Errorf("conversation id is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReplayCallEvent, data), nil
}

func ParseReplayCallEventPayload(task *asynq.Task) (ReplayCallEventPayload, error) {
	var payload ReplayCallEventPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ReplayCallEventPayload{}, err
	}
	if strings.TrimSpace(payload.ConversationID) == "" {
		return ReplayCallEventPayload{}, fmt.Errorf("replay payload missing conversation id")
	}
	return payload, nil
}
