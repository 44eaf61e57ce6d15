// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/gatekeeper/lib/commandqueue"
	"github.com/bureau-foundation/gatekeeper/lib/rpc"
	"github.com/bureau-foundation/gatekeeper/lib/security"
	"github.com/bureau-foundation/gatekeeper/lib/worker"
	"github.com/bureau-foundation/gatekeeper/lib/workerpool"
)

// Method names.
const (
	MethodSubmit          = "worker.submit"
	MethodList            = "worker.list"
	MethodOutput          = "worker.output"
	MethodResult          = "worker.result"
	MethodTerminate       = "worker.terminate"
	MethodTerminateAll    = "worker.terminateAll"
	MethodPendingCommands = "commands.pending"
	MethodSecurityCheck   = "security.check"
	MethodStatus          = "gateway.status"
	MethodMethods         = "gateway.methods"
)

func (g *Gateway) registerMethods() {
	g.router.Register(MethodSubmit, g.handleSubmit, true)
	g.router.Register(MethodList, g.handleList, true)
	g.router.Register(MethodOutput, g.handleOutput, true)
	g.router.Register(MethodResult, g.handleResult, true)
	g.router.Register(MethodTerminate, g.handleTerminate, true)
	g.router.Register(MethodTerminateAll, g.handleTerminateAll, true)
	g.router.Register(MethodPendingCommands, g.handlePendingCommands, true)
	g.router.Register(MethodSecurityCheck, g.handleSecurityCheck, true)
	g.router.Register(MethodStatus, g.handleStatus, true)
	g.router.Register(MethodMethods, g.handleMethods, false)
}

// SubmitParams are the params of worker.submit.
type SubmitParams struct {
	Command     string `json:"command"`
	SenderID    string `json:"senderId,omitempty"`
	Channel     string `json:"channel,omitempty"`
	ProjectPath string `json:"projectPath,omitempty"`

	// Session names the agent session that serializes commands. Empty
	// derives one from channel and sender, falling back to the
	// connection.
	Session string `json:"session,omitempty"`
	TaskID  string `json:"taskId,omitempty"`
	Type    string `json:"type,omitempty"`

	// TimeoutMs is clamped to the guard's maximum worker duration;
	// zero selects that maximum.
	TimeoutMs       int64    `json:"timeoutMs,omitempty"`
	Orchestration   bool     `json:"orchestration,omitempty"`
	SuccessCriteria []string `json:"successCriteria,omitempty"`
	DependsOn       []string `json:"dependsOn,omitempty"`

	// Approved acknowledges that a command matching an
	// approval-required pattern has been approved upstream.
	Approved bool `json:"approved,omitempty"`
	// NoQueue fails with AGENT_BUSY instead of queueing behind a busy
	// session.
	NoQueue bool `json:"noQueue,omitempty"`
}

func (g *Gateway) handleSubmit(ctx context.Context, request rpc.Request, session *rpc.Session) (any, error) {
	params, err := rpc.DecodeParams[SubmitParams](request.Params)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Command) == "" {
		return nil, rpc.Errorf(rpc.CodeInvalidParams, "command is required")
	}

	decision := g.guard.ValidateCommand(params.Command)
	if !decision.Allowed {
		g.logger.Warn("command blocked",
			"session_id", session.ID,
			"sender_id", params.SenderID,
			"pattern", decision.Pattern,
		)
		return nil, rpc.Errorf(rpc.CodeCommandBlocked, "%s", decision.Reason).WithDetails(decision)
	}
	if g.guard.RequiresApproval(params.Command) && !params.Approved {
		return nil, rpc.Errorf(rpc.CodeApprovalRequired, "command requires approval before it can run").
			WithDetails(map[string]bool{"requiresApproval": true})
	}

	kind := g.defaultKind
	if params.Type != "" {
		kind, err = worker.ParseKind(params.Type)
		if err != nil {
			return nil, rpc.Errorf(rpc.CodeInvalidParams, "%v", err)
		}
	}

	taskID := params.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	workingDirectory := params.ProjectPath
	if workingDirectory == "" {
		workingDirectory = g.defaultWorkingDirectory
	}
	task := worker.Task{
		ID:               taskID,
		Kind:             kind,
		Prompt:           params.Command,
		WorkingDirectory: workingDirectory,
		DependsOn:        params.DependsOn,
		Timeout:          g.guard.ClampTimeout(time.Duration(params.TimeoutMs) * time.Millisecond),
		Orchestration:    params.Orchestration,
		SuccessCriteria:  params.SuccessCriteria,
	}

	command := commandqueue.Command{
		Text:        params.Command,
		SenderID:    params.SenderID,
		Channel:     params.Channel,
		ProjectPath: params.ProjectPath,
		TaskID:      taskID,
	}
	agentSession := sessionKey(params, session)
	g.logger.Info("command accepted",
		"worker_id", taskID,
		"kind", kind,
		"agent_session", agentSession,
		"timeout", task.Timeout,
	)

	result, err := g.dispatcher.Submit(ctx, agentSession, command, params.NoQueue, func(ctx context.Context) worker.Result {
		return g.pool.Execute(ctx, task)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func sessionKey(params SubmitParams, session *rpc.Session) string {
	switch {
	case params.Session != "":
		return params.Session
	case params.SenderID != "":
		return params.Channel + "/" + params.SenderID
	default:
		return "connection/" + session.ID
	}
}

// ListResult is the result of worker.list.
type ListResult struct {
	Workers []workerpool.Info `json:"workers"`
	Active  int               `json:"active"`
	Queued  int               `json:"queued"`
}

func (g *Gateway) handleList(ctx context.Context, request rpc.Request, session *rpc.Session) (any, error) {
	params, err := rpc.DecodeParams[struct {
		PreviewLength int `json:"previewLength"`
	}](request.Params)
	if err != nil {
		return nil, err
	}
	if params.PreviewLength <= 0 {
		params.PreviewLength = DefaultPreviewLength
	}
	workers := g.pool.List(params.PreviewLength)
	result := ListResult{Workers: workers}
	for _, info := range workers {
		if info.Queued {
			result.Queued++
		} else {
			result.Active++
		}
	}
	return result, nil
}

type workerIDParams struct {
	ID string `json:"id"`
}

func decodeWorkerID(params rpc.Params) (string, error) {
	decoded, err := rpc.DecodeParams[workerIDParams](params)
	if err != nil {
		return "", err
	}
	if decoded.ID == "" {
		return "", rpc.Errorf(rpc.CodeInvalidParams, "id is required")
	}
	return decoded.ID, nil
}

// OutputResult is the result of worker.output.
type OutputResult struct {
	ID     string        `json:"id"`
	Output string        `json:"output"`
	Offset uint64        `json:"offset"`
	Total  uint64        `json:"total"`
	Status worker.Status `json:"status"`
}

func (g *Gateway) handleOutput(ctx context.Context, request rpc.Request, session *rpc.Session) (any, error) {
	params, err := rpc.DecodeParams[struct {
		ID     string `json:"id"`
		Offset uint64 `json:"offset"`
		Limit  int    `json:"limit"`
	}](request.Params)
	if err != nil {
		return nil, err
	}
	if params.ID == "" {
		return nil, rpc.Errorf(rpc.CodeInvalidParams, "id is required")
	}
	if params.Limit < 0 {
		return nil, rpc.Errorf(rpc.CodeInvalidParams, "limit must not be negative")
	}
	chunk, ok := g.pool.ReadOutput(params.ID, params.Offset, params.Limit)
	if !ok {
		return nil, rpc.Errorf(rpc.CodeWorkerNotFound, "worker %q not found", params.ID)
	}
	return OutputResult{
		ID:     params.ID,
		Output: chunk.Data,
		Offset: chunk.Offset,
		Total:  chunk.Total,
		Status: chunk.Status,
	}, nil
}

func (g *Gateway) handleResult(ctx context.Context, request rpc.Request, session *rpc.Session) (any, error) {
	id, err := decodeWorkerID(request.Params)
	if err != nil {
		return nil, err
	}
	result, ok := g.pool.Result(id)
	if !ok {
		return nil, rpc.Errorf(rpc.CodeWorkerNotFound, "no finished result for worker %q", id)
	}
	return result, nil
}

func (g *Gateway) handleTerminate(ctx context.Context, request rpc.Request, session *rpc.Session) (any, error) {
	id, err := decodeWorkerID(request.Params)
	if err != nil {
		return nil, err
	}
	terminated := g.pool.Terminate(id)
	g.logger.Info("terminate requested", "worker_id", id, "terminated", terminated, "session_id", session.ID)
	return map[string]bool{"terminated": terminated}, nil
}

func (g *Gateway) handleTerminateAll(ctx context.Context, request rpc.Request, session *rpc.Session) (any, error) {
	count := g.pool.TerminateAll()
	g.logger.Info("terminate all requested", "count", count, "session_id", session.ID)
	return map[string]int{"terminated": count}, nil
}

func (g *Gateway) handlePendingCommands(ctx context.Context, request rpc.Request, session *rpc.Session) (any, error) {
	return map[string][]SessionQueue{"sessions": g.dispatcher.Pending()}, nil
}

// CheckResult is the result of security.check.
type CheckResult struct {
	security.Decision
	RequiresApproval bool `json:"requiresApproval"`
}

func (g *Gateway) handleSecurityCheck(ctx context.Context, request rpc.Request, session *rpc.Session) (any, error) {
	params, err := rpc.DecodeParams[struct {
		Command string `json:"command"`
	}](request.Params)
	if err != nil {
		return nil, err
	}
	return CheckResult{
		Decision:         g.guard.ValidateCommand(params.Command),
		RequiresApproval: g.guard.RequiresApproval(params.Command),
	}, nil
}

// StatusResult is the result of gateway.status.
type StatusResult struct {
	Version           string           `json:"version"`
	UptimeSeconds     float64          `json:"uptimeSeconds"`
	Pool              workerpool.Stats `json:"pool"`
	BusySessions      int              `json:"busySessions"`
	QueuedCommands    int              `json:"queuedCommands"`
	Connections       int              `json:"connections"`
	NonceAuth         bool             `json:"nonceAuth"`
	MaxWorkerDuration string           `json:"maxWorkerDuration"`
}

func (g *Gateway) handleStatus(ctx context.Context, request rpc.Request, session *rpc.Session) (any, error) {
	busy, queued := g.dispatcher.Counts()
	return StatusResult{
		Version:           g.version,
		UptimeSeconds:     g.clock.Now().Sub(g.startedAt).Seconds(),
		Pool:              g.pool.Stats(),
		BusySessions:      busy,
		QueuedCommands:    queued,
		Connections:       g.ConnectionCount(),
		NonceAuth:         g.nonces.Enabled(),
		MaxWorkerDuration: g.guard.MaxWorkerDuration().String(),
	}, nil
}

func (g *Gateway) handleMethods(ctx context.Context, request rpc.Request, session *rpc.Session) (any, error) {
	return map[string][]string{"methods": g.router.Methods()}, nil
}
