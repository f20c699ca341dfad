package contract

import "github.com/cuemby/xnode/pkg/types"

// Envelope wraps every response body as {"response": ...}
type Envelope[T any] struct {
	Response T `json:"response"`
}

// Wrap puts v in a response envelope
func Wrap[T any](v T) Envelope[T] {
	return Envelope[T]{Response: v}
}

// NodeInfo describes the node agent itself
type NodeInfo struct {
	Version *string `json:"version"`
}

// StartResponse answers a start request
type StartResponse struct {
	IsStarted  bool              `json:"isStarted"`
	Version    *string           `json:"version"`
	Error      *string           `json:"error"`
	SystemInfo *types.SystemInfo `json:"systemInfo"`
	NodeInfo   NodeInfo          `json:"nodeInfo"`
}

// StopResponse answers a stop request
type StopResponse struct {
	IsStopped bool `json:"isStopped"`
}

// StatusResponse answers a status request
type StatusResponse struct {
	IsRunning bool    `json:"isRunning"`
	Version   *string `json:"version"`
}

// NodeHealthResponse answers a node health check
type NodeHealthResponse struct {
	IsAlive                  bool    `json:"isAlive"`
	XrayInternalStatusCached bool    `json:"xrayInternalStatusCached"`
	XrayVersion              *string `json:"xrayVersion"`
	NodeVersion              string  `json:"nodeVersion"`
}

// MutationResponse answers every user mutation
type MutationResponse struct {
	Success bool    `json:"success"`
	Error   *string `json:"error"`
}

// InboundUsersResponse lists the users of an inbound
type InboundUsersResponse struct {
	Users []types.EngineUser `json:"users"`
}

// InboundUsersCountResponse counts the users of an inbound
type InboundUsersCountResponse struct {
	Count int64 `json:"count"`
}

// ErrorResponse is returned for failures outside the normal result shapes
type ErrorResponse struct {
	Code    string `json:"errorCode"`
	Message string `json:"message"`
}

// NewErrorResponse builds an ErrorResponse from a known error
func NewErrorResponse(e *KnownError) ErrorResponse {
	return ErrorResponse{Code: e.Code, Message: e.Message}
}

// Nullable returns nil for the empty string
func Nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ErrorString renders err as a nullable string
func ErrorString(err error) *string {
	if err == nil {
		return nil
	}
	return Nullable(err.Error())
}
