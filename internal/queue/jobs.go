// Package queue defines the background export task and the ways to enqueue it.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// ExportPublicTask builds a public archive into the export sink.
	ExportPublicTask = "export:public"
)

// ExportPayload is serialized into the task payload so the worker knows
// which archive to produce.
type ExportPayload struct {
	Name        string `json:"name"`
	Tag         string `json:"tag,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// Enqueuer schedules export jobs.
type Enqueuer interface {
	EnqueueExport(ctx context.Context, payload ExportPayload) error
}

// NewExportTask builds the asynq task for payload.
func NewExportTask(payload ExportPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(ExportPublicTask, data), nil
}

// DecodeExport reads the payload of an export task.
func DecodeExport(task *asynq.Task) (ExportPayload, error) {
	var payload ExportPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ExportPayload{}, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

// AsynqEnqueuer sends export jobs to Redis for cmd/worker.
type AsynqEnqueuer struct {
	client *asynq.Client
}

// NewAsynqEnqueuer wraps an asynq client.
func NewAsynqEnqueuer(client *asynq.Client) *AsynqEnqueuer {
	return &AsynqEnqueuer{client: client}
}

// EnqueueExport implements Enqueuer. The archive name doubles as the task
// id, so a retried HTTP request cannot schedule the same archive twice.
func (e *AsynqEnqueuer) EnqueueExport(ctx context.Context, payload ExportPayload) error {
	task, err := NewExportTask(payload)
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task, asynq.MaxRetry(3), asynq.TaskID(payload.Name)); err != nil {
		return fmt.Errorf("enqueue export task: %w", err)
	}
	return nil
}
