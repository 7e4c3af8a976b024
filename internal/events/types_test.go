package events

import (
	"testing"
)

func TestDecodePayload(t *testing.T) {
	event := NewTaskDispatchEvent("dispatcher", TaskDispatch{
		TaskID:     "task-1",
		UserTaskID: "task-0",
		ProjectID:  "proj-1",
		AgentID:    "agent-1",
		Content:    "summarize the report",
		Metadata:   map[string]any{"channel": "api"},
	})

	payload, err := DecodePayload[TaskDispatch](event)
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if payload.TaskID != "task-1" || payload.UserTaskID != "task-0" {
		t.Errorf("Unexpected payload: %+v", payload)
	}
	if payload.ProjectID != "proj-1" || payload.AgentID != "agent-1" {
		t.Errorf("Unexpected payload: %+v", payload)
	}
	if payload.Content != "summarize the report" {
		t.Errorf("Content not carried: %+v", payload)
	}
	if payload.Metadata["channel"] != "api" {
		t.Errorf("Metadata not carried: %+v", payload)
	}
}

func TestDecodeTrainingDispatchPayload(t *testing.T) {
	event := NewTrainingDispatchEvent("dispatcher", TrainingDispatch{
		TrainingID:    "train-1",
		ProjectID:     "proj-1",
		ProjectName:   "Analytics",
		DataSourceIDs: []string{"ds-1", "ds-2"},
	})

	payload, err := DecodePayload[TrainingDispatch](event)
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if payload.TrainingID != "train-1" || payload.ProjectID != "proj-1" {
		t.Errorf("Unexpected payload: %+v", payload)
	}
	if payload.ProjectName != "Analytics" {
		t.Errorf("Project name not carried: %+v", payload)
	}
	if len(payload.DataSourceIDs) != 2 || payload.DataSourceIDs[0] != "ds-1" {
		t.Errorf("Data source ids not carried: %+v", payload)
	}
}
