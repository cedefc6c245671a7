// Package transport implements the worker's connection to the Master: a
// streaming driver (preferred), a request/response driver (fallback), a
// resilience wrapper around the streaming driver, and the CommunicationManager
// that arbitrates between them. See spec §4.2.
package transport

import (
	"context"

	"github.com/pithecene-io/workernode/types"
)

// TaskDispatchFunc is invoked for each dispatched task.
type TaskDispatchFunc func(types.TaskMessage)

// TaskCancelFunc is invoked for each cancel/kill control message.
type TaskCancelFunc func(types.ControlMessage)

// ConfigUpdateFunc is invoked for each config_update control message.
type ConfigUpdateFunc func(types.ConfigUpdate)

// RuntimeManageFunc is invoked for each runtime_manage control message.
type RuntimeManageFunc func(types.RuntimeManageRequest)

// Protocol is the single interface both drivers and the resilience wrapper
// satisfy. The CommunicationManager only ever talks to this interface.
type Protocol interface {
	Connect(ctx context.Context, cfg types.ConnectionConfig) error
	Disconnect(ctx context.Context) error

	SendHeartbeat(ctx context.Context, hb types.Heartbeat) error
	SendLogs(ctx context.Context, batch types.LogBatch) error
	SendTaskStatus(ctx context.Context, status types.TaskStatus) error
	SendTaskAck(ctx context.Context, taskID string, accepted bool, reason string) error
	SendCancelAck(ctx context.Context, taskID string, ok bool, reason string) error
	SendControlResult(ctx context.Context, result types.ControlResult) error

	OnTaskDispatch(fn TaskDispatchFunc)
	OnTaskCancel(fn TaskCancelFunc)
	OnConfigUpdate(fn ConfigUpdateFunc)
	OnRuntimeManage(fn RuntimeManageFunc)

	IsConnected() bool
	Metrics() DriverMetrics
}

// ErrorCode classifies a send failure using gRPC-style codes, matching
// spec §4.2's "error count with gRPC-style codes" metric even though the
// streaming driver here runs over framed TCP rather than literal gRPC.
type ErrorCode string

// ErrorCode constants, named after the gRPC status codes they mirror.
const (
	CodeOK                ErrorCode = "OK"
	CodeUnavailable       ErrorCode = "UNAVAILABLE"
	CodeDeadlineExceeded  ErrorCode = "DEADLINE_EXCEEDED"
	CodeInvalidArgument   ErrorCode = "INVALID_ARGUMENT"
	CodeInternal          ErrorCode = "INTERNAL"
	CodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	CodeUnauthenticated   ErrorCode = "UNAUTHENTICATED"
)
