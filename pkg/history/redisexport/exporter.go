// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package redisexport publishes history events to a Redis stream once the
// command that produced them committed.
package redisexport

import (
	"context"
	"strconv"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenpvm/pkg/command"
	"github.com/pbinitiative/zenpvm/pkg/history"
	backend "github.com/redis/go-redis/v9"
)

const DefaultStream = "zenpvm:history"

type sessionKey struct{}

// Exporter is a history.EventHandler. Events are buffered per command and
// published with XADD in a post-commit action, so rolled back commands
// publish nothing.
type Exporter struct {
	client *backend.Client
	stream string
	maxLen int64
	logger hclog.Logger
}

type Option func(*Exporter)

func WithStream(stream string) Option {
	return func(e *Exporter) {
		e.stream = stream
	}
}

// WithMaxLen trims the stream to about maxLen entries.
func WithMaxLen(maxLen int64) Option {
	return func(e *Exporter) {
		e.maxLen = maxLen
	}
}

func WithLogger(logger hclog.Logger) Option {
	return func(e *Exporter) {
		e.logger = logger
	}
}

func New(address, password string, db int, opts ...Option) *Exporter {
	return NewFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

func NewFromClient(client *backend.Client, opts ...Option) *Exporter {
	e := &Exporter{
		client: client,
		stream: DefaultStream,
		logger: hclog.Default().Named("history-redis"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Exporter) Close() error {
	return e.client.Close()
}

func (e *Exporter) HandleEvent(cc *command.Context, event *history.Event) error {
	buffered, ok := cc.Session(sessionKey{})
	if !ok {
		pending := &[]map[string]any{}
		cc.SetSession(sessionKey{}, pending)
		cc.AddPostCommitAction(func(ctx context.Context) {
			e.publish(ctx, *pending)
		})
		buffered = pending
	}
	pending := buffered.(*[]map[string]any)
	*pending = append(*pending, fields(event))
	return nil
}

// publish runs after commit. Failures are logged, the runtime change is
// already durable.
func (e *Exporter) publish(ctx context.Context, events []map[string]any) {
	pipe := e.client.Pipeline()
	for _, values := range events {
		args := &backend.XAddArgs{Stream: e.stream, Values: values}
		if e.maxLen > 0 {
			args.MaxLen = e.maxLen
			args.Approx = true
		}
		pipe.XAdd(ctx, args)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		e.logger.Error("failed to publish history events", "stream", e.stream, "events", len(events), "err", err)
	}
}

func fields(event *history.Event) map[string]any {
	res := map[string]any{
		"id":                event.ID,
		"type":              string(event.Type),
		"time":              event.Time.UnixMilli(),
		"processInstanceId": event.ProcessInstanceID,
	}
	optional := map[string]string{
		"processDefinitionId":  event.ProcessDefinitionID,
		"processDefinitionKey": event.ProcessDefinitionKey,
		"caseInstanceId":       event.CaseInstanceID,
		"executionId":          event.ExecutionID,
		"activityId":           event.ActivityID,
		"taskId":               event.TaskID,
		"tenantId":             event.TenantID,
		"deleteReason":         event.DeleteReason,
		"variableInstanceId":   event.VariableInstanceID,
		"variableName":         event.VariableName,
	}
	for k, v := range optional {
		if v != "" {
			res[k] = v
		}
	}
	if event.Canceled {
		res["canceled"] = strconv.FormatBool(event.Canceled)
	}
	if event.VariableInstanceID != "" {
		res["valueType"] = event.Value.Type
		if event.Value.IsLarge() {
			res["valueSize"] = len(event.Value.Large)
		} else {
			res["value"] = event.Value.Text
		}
	}
	return res
}
