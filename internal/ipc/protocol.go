// Package ipc implements the daemon's request/response boundary (§4.10,
// §6.2): a line-delimited JSON protocol served over Unix-domain sockets,
// one socket per session at a deterministic path, plus a small bootstrap
// listener for requests that precede a session's existence.
package ipc

import (
	"encoding/json"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/qorvex/qorvex/internal/action"
	"github.com/qorvex/qorvex/internal/session"
	"github.com/qorvex/qorvex/internal/simctl"
)

// RequestType tags a Request's variant, mirroring the flattened
// tag-field JSON convention used throughout the wire/action packages.
type RequestType string

const (
	ReqStartSession      RequestType = "StartSession"
	ReqEndSession        RequestType = "EndSession"
	ReqExecute           RequestType = "Execute"
	ReqSubscribe         RequestType = "Subscribe"
	ReqGetState          RequestType = "GetState"
	ReqGetLog            RequestType = "GetLog"
	ReqGetSessionInfo    RequestType = "GetSessionInfo"
	ReqListDevices       RequestType = "ListDevices"
	ReqUseDevice         RequestType = "UseDevice"
	ReqBootDevice        RequestType = "BootDevice"
	ReqStartAgent        RequestType = "StartAgent"
	ReqStopAgent         RequestType = "StopAgent"
	ReqConnect           RequestType = "Connect"
	ReqSetTarget         RequestType = "SetTarget"
	ReqSetTimeout        RequestType = "SetTimeout"
	ReqGetTimeout        RequestType = "GetTimeout"
	ReqStartWatcher      RequestType = "StartWatcher"
	ReqStopWatcher       RequestType = "StopWatcher"
	ReqShutdown          RequestType = "Shutdown"
	ReqStartTarget       RequestType = "StartTarget"
	ReqStopTarget        RequestType = "StopTarget"
	ReqGetCompletionData RequestType = "GetCompletionData"
	ReqDescribeProtocol  RequestType = "DescribeProtocol"
)

// Request is the single decoded shape for every line read from a
// connection; only the fields relevant to Type are populated (§4.10's
// request catalogue).
type Request struct {
	Type RequestType `json:"type"`

	Action *action.Action `json:"action,omitempty"`
	Tag    *string        `json:"tag,omitempty"`

	DeviceID   string `json:"device_id,omitempty"`
	UDID       string `json:"udid,omitempty"`
	ProjectDir string `json:"project_dir,omitempty"`

	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	BundleID string `json:"bundle_id,omitempty"`

	TimeoutMs  uint64 `json:"timeout_ms,omitempty"`
	IntervalMs int    `json:"interval_ms,omitempty"`
}

// ResponseType tags a Response's variant (§6.2).
type ResponseType string

const (
	RespActionResult     ResponseType = "ActionResult"
	RespState            ResponseType = "State"
	RespLog              ResponseType = "Log"
	RespEvent            ResponseType = "Event"
	RespCommandResult    ResponseType = "CommandResult"
	RespDeviceList       ResponseType = "DeviceList"
	RespSessionInfo      ResponseType = "SessionInfo"
	RespTimeoutValue     ResponseType = "TimeoutValue"
	RespCompletionData   ResponseType = "CompletionData"
	RespShutdownAck      ResponseType = "ShutdownAck"
	RespProtocolSchema   ResponseType = "ProtocolSchema"
	RespError            ResponseType = "Error"
)

// Response is the single encoded shape written back for every request
// (streamed repeatedly for Subscribe).
type Response struct {
	Type ResponseType `json:"type"`

	Success    bool            `json:"success,omitempty"`
	Message    string          `json:"message,omitempty"`
	Screenshot *string         `json:"screenshot,omitempty"`
	Data       *string         `json:"data,omitempty"`
	Elements   json.RawMessage `json:"elements,omitempty"`

	Log []action.Log `json:"log,omitempty"`

	Event *EventPayload `json:"event,omitempty"`

	Devices []simctl.Device `json:"devices,omitempty"`

	SessionID  string    `json:"session_id,omitempty"`
	DeviceID   string    `json:"device_id,omitempty"`
	SocketPath string    `json:"socket_path,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`

	TimeoutMs uint64 `json:"timeout_ms,omitempty"`

	Completion *CompletionData `json:"completion,omitempty"`

	Schema any `json:"schema,omitempty"`

	Error string `json:"error,omitempty"`
}

// EventPayload is the JSON-safe projection of a session.Event: images are
// base64-encoded since JSON has no binary type.
type EventPayload struct {
	Kind      session.EventKind `json:"kind"`
	Action    *action.Log       `json:"action,omitempty"`
	Image     *string           `json:"image,omitempty"`
	Elements  json.RawMessage   `json:"elements,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
}

// CompletionData bundles the device list and current element tree for
// shell-completion style clients (SPEC_FULL supplemented feature).
type CompletionData struct {
	Devices     []simctl.Device `json:"devices"`
	Elements    json.RawMessage `json:"elements,omitempty"`
	CurrentUDID string          `json:"current_udid,omitempty"`
}

func errorResponse(format string, err error) Response {
	msg := format
	if err != nil {
		msg = format + ": " + err.Error()
	}
	return Response{Type: RespError, Error: msg}
}

// describeProtocol reflects Request and Response into JSON Schema for
// the DescribeProtocol request, letting a client introspect the
// protocol without a hand-maintained doc (SPEC_FULL domain stack).
func describeProtocol() (any, error) {
	reqSchema, err := jsonschema.For[Request](nil)
	if err != nil {
		return nil, err
	}
	respSchema, err := jsonschema.For[Response](nil)
	if err != nil {
		return nil, err
	}
	return map[string]*jsonschema.Schema{
		"request":  reqSchema,
		"response": respSchema,
	}, nil
}
