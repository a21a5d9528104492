package ipc

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/qorvex/qorvex/internal/action"
	"github.com/qorvex/qorvex/internal/agentdriver"
	"github.com/qorvex/qorvex/internal/audit"
	"github.com/qorvex/qorvex/internal/driver"
	"github.com/qorvex/qorvex/internal/executor"
	"github.com/qorvex/qorvex/internal/lifecycle"
	"github.com/qorvex/qorvex/internal/metrics"
	"github.com/qorvex/qorvex/internal/qconfig"
	"github.com/qorvex/qorvex/internal/qlog"
	"github.com/qorvex/qorvex/internal/session"
	"github.com/qorvex/qorvex/internal/simctl"
	"github.com/qorvex/qorvex/internal/validation"
	"github.com/qorvex/qorvex/internal/watcher"
)

// selectorRequiredTypes lists the action types whose Selector field the
// executor actually dereferences (internal/executor); actions like
// GetScreenshot or LogComment carry no selector and must not be rejected
// for lacking one.
var selectorRequiredTypes = map[action.Type]bool{
	action.Tap:        true,
	action.WaitFor:    true,
	action.WaitForNot: true,
	action.GetValue:   true,
}

// sessionState is the operational state the IPC layer tracks alongside
// a session.Handle: the chosen device, the target bundle, the
// configured default timeout, and a lock serializing mutation of the
// handle's Driver/Lifecycle/StopWatcher fields across connections
// (§4.10: multiple client connections may address the same session
// socket over its lifetime).
type sessionState struct {
	mu        sync.Mutex
	handle    *session.Handle
	udid      string
	bundleID  string
	timeoutMs uint64
}

func (st *sessionState) getDriver() driver.Driver {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.handle.Driver
}

func (st *sessionState) setDriver(d driver.Driver, lc session.Closer) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.handle.Driver = d
	st.handle.Lifecycle = lc
}

func (st *sessionState) clearDriver() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.handle.Lifecycle != nil {
		st.handle.Lifecycle.Close()
	}
	st.handle.Driver = nil
	st.handle.Lifecycle = nil
}

func (st *sessionState) setWatcher(stop func()) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.handle.StopWatcher = stop
}

func (st *sessionState) stopWatcher() {
	st.mu.Lock()
	stop := st.handle.StopWatcher
	st.handle.StopWatcher = nil
	st.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Server is one qorvexd daemon's IPC boundary: a bootstrap listener for
// session-free requests, and one additional listener per active session
// at its deterministic socket path.
type Server struct {
	mgr     *session.Manager
	cfg     qconfig.Config
	sim     *simctl.Tool
	limiter *RateLimiter

	mu       sync.Mutex
	sessions map[string]*sessionState
	cancels  map[string]context.CancelFunc
}

// New builds a Server. sim may be nil in tests that never exercise
// device operations.
func New(mgr *session.Manager, cfg qconfig.Config, sim *simctl.Tool) *Server {
	return &Server{
		mgr:      mgr,
		cfg:      cfg,
		sim:      sim,
		limiter:  DefaultRateLimiter(),
		sessions: make(map[string]*sessionState),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Serve runs the bootstrap listener until ctx is cancelled or a Shutdown
// request is received. It blocks.
func (s *Server) Serve(ctx context.Context) error {
	path := qconfig.ControlSocketPath()
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("ipc: listen %s: %w", path, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	qlog.Printf("ipc: bootstrap socket listening at %s", path)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleBootstrap(ctx, conn)
	}
}

// Close tears down every active session (and its socket). The session
// manager and its index stay open; their owner closes them.
func (s *Server) Close() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.endSession(id)
	}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = conn.Write(b)
	return err
}

func peerIdentity(conn net.Conn) string {
	creds, err := GetPeerCredentials(conn)
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return creds.IdentityKey()
}

func (s *Server) handleBootstrap(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	key := peerIdentity(conn)
	metrics.IPCConnections.Inc()
	defer metrics.IPCConnections.Dec()

	dec := json.NewDecoder(bufio.NewReader(conn))
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		if !s.limiter.Allow(key) {
			_ = s.writeResponse(conn, errorResponse("rate limit exceeded", nil))
			continue
		}

		resp := s.dispatchBootstrap(ctx, &req)
		if err := s.writeResponse(conn, resp); err != nil {
			return
		}
		if req.Type == ReqShutdown {
			return
		}
	}
}

func (s *Server) dispatchBootstrap(ctx context.Context, req *Request) Response {
	switch req.Type {
	case ReqStartSession:
		return s.handleStartSession(req)
	case ReqListDevices:
		return s.handleListDevices(ctx)
	case ReqDescribeProtocol:
		return s.handleDescribeProtocol()
	case ReqShutdown:
		s.Close()
		return Response{Type: RespShutdownAck, Success: true, Message: "qorvexd shutting down"}
	default:
		return errorResponse(fmt.Sprintf("%s must be sent on a session's own socket", req.Type), nil)
	}
}

func (s *Server) handleStartSession(req *Request) Response {
	h, err := s.mgr.Create(req.DeviceID)
	if err != nil {
		return errorResponse("start_session failed", err)
	}

	st := &sessionState{handle: h, udid: req.DeviceID, timeoutMs: s.cfg.DefaultTimeoutMs}
	id := h.Session.Name

	sessCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.sessions[id] = st
	s.cancels[id] = cancel
	s.mu.Unlock()

	if err := s.startSessionSocket(sessCtx, st); err != nil {
		cancel()
		s.mu.Lock()
		delete(s.sessions, id)
		delete(s.cancels, id)
		s.mu.Unlock()
		s.mgr.End(id)
		return errorResponse("start_session: could not open session socket", err)
	}

	return Response{
		Type:       RespSessionInfo,
		Success:    true,
		SessionID:  id,
		DeviceID:   req.DeviceID,
		SocketPath: qconfig.SocketPath(id),
		CreatedAt:  h.Session.CreatedAt,
	}
}

func (s *Server) startSessionSocket(ctx context.Context, st *sessionState) error {
	id := st.handle.Session.Name
	path := qconfig.SocketPath(id)
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	go func() {
		defer ln.Close()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.handleSessionConn(ctx, st, conn)
		}
	}()
	return nil
}

// endSession ends sessionID's manager handle, closes its socket, and
// removes it from the server's bookkeeping.
func (s *Server) endSession(id string) {
	s.mu.Lock()
	st, ok := s.sessions[id]
	cancel := s.cancels[id]
	delete(s.sessions, id)
	delete(s.cancels, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	if cancel != nil {
		cancel()
	}
	st.stopWatcher()
	st.clearDriver()
	s.mgr.End(id)
	_ = os.Remove(qconfig.SocketPath(id))
}

func (s *Server) handleSessionConn(ctx context.Context, st *sessionState, conn net.Conn) {
	defer conn.Close()
	key := peerIdentity(conn)
	metrics.IPCConnections.Inc()
	defer metrics.IPCConnections.Dec()

	dec := json.NewDecoder(bufio.NewReader(conn))
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		if !s.limiter.Allow(key) {
			_ = s.writeResponse(conn, errorResponse("rate limit exceeded", nil))
			continue
		}

		if req.Type == ReqSubscribe {
			s.handleSubscribe(ctx, st, conn)
			return
		}

		resp := s.dispatchSession(ctx, st, &req)
		if err := s.writeResponse(conn, resp); err != nil {
			return
		}
		if req.Type == ReqShutdown || req.Type == ReqEndSession {
			return
		}
	}
}

// handleSubscribe switches the connection into a streaming producer: it
// forwards every session.Event until the subscriber channel closes
// (session ended) or the write fails (client disconnected) (§4.10).
func (s *Server) handleSubscribe(ctx context.Context, st *sessionState, conn net.Conn) {
	ch, id := st.handle.Session.Subscribe()
	defer st.handle.Session.Unsubscribe(id)

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := s.writeResponse(conn, Response{Type: RespEvent, Event: toEventPayload(ev)}); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func toEventPayload(ev session.Event) *EventPayload {
	p := &EventPayload{Kind: ev.Kind, Action: ev.Action, Elements: ev.Elements, SessionID: ev.SessionID}
	if ev.Image != nil {
		enc := base64.StdEncoding.EncodeToString(ev.Image)
		p.Image = &enc
	}
	return p
}

func (s *Server) dispatchSession(ctx context.Context, st *sessionState, req *Request) Response {
	st.handle.Session.Touch()

	switch req.Type {
	case ReqExecute:
		return s.handleExecute(ctx, st, req)
	case ReqGetState:
		return s.handleGetState(st)
	case ReqGetLog:
		return Response{Type: RespLog, Log: st.handle.Session.GetActionLog()}
	case ReqGetSessionInfo:
		return Response{
			Type:       RespSessionInfo,
			Success:    true,
			SessionID:  st.handle.Session.Name,
			DeviceID:   st.handle.Session.DeviceID,
			SocketPath: qconfig.SocketPath(st.handle.Session.Name),
			CreatedAt:  st.handle.Session.CreatedAt,
		}
	case ReqListDevices:
		return s.handleListDevices(ctx)
	case ReqUseDevice:
		if err := validation.ValidateUDID(req.UDID); err != nil {
			return errorResponse("use_device: invalid UDID", err)
		}
		st.mu.Lock()
		st.udid = req.UDID
		st.mu.Unlock()
		return Response{Type: RespCommandResult, Success: true, Message: "device selected"}
	case ReqBootDevice:
		return s.handleBootDevice(ctx, req)
	case ReqStartAgent:
		return s.handleStartAgent(ctx, st, req)
	case ReqStopAgent:
		st.clearDriver()
		audit.Log(&audit.Event{Operation: audit.OpAgentStop, SessionID: st.handle.Session.Name, Success: true})
		return Response{Type: RespCommandResult, Success: true, Message: "agent stopped"}
	case ReqConnect:
		return s.handleConnect(ctx, st, req)
	case ReqSetTarget:
		return s.handleSetTarget(ctx, st, req)
	case ReqSetTimeout:
		st.mu.Lock()
		st.timeoutMs = req.TimeoutMs
		st.mu.Unlock()
		return Response{Type: RespCommandResult, Success: true}
	case ReqGetTimeout:
		st.mu.Lock()
		ms := st.timeoutMs
		st.mu.Unlock()
		return Response{Type: RespTimeoutValue, TimeoutMs: ms}
	case ReqStartWatcher:
		return s.handleStartWatcher(st, req)
	case ReqStopWatcher:
		st.stopWatcher()
		return Response{Type: RespCommandResult, Success: true, Message: "watcher stopped"}
	case ReqStartTarget:
		return s.handleStartTarget(ctx, st)
	case ReqStopTarget:
		return s.handleStopTarget(ctx, st)
	case ReqGetCompletionData:
		return s.handleGetCompletionData(ctx, st)
	case ReqEndSession:
		s.endSession(st.handle.Session.Name)
		return Response{Type: RespCommandResult, Success: true, Message: "session ended"}
	case ReqShutdown:
		s.endSession(st.handle.Session.Name)
		return Response{Type: RespShutdownAck, Success: true}
	case ReqDescribeProtocol:
		return s.handleDescribeProtocol()
	default:
		return errorResponse(fmt.Sprintf("unknown request type %q", req.Type), nil)
	}
}

func (s *Server) handleExecute(ctx context.Context, st *sessionState, req *Request) Response {
	if req.Action == nil {
		return errorResponse("execute: action is required", nil)
	}
	if selectorRequiredTypes[req.Action.Type] {
		if err := validation.ValidateSelector(req.Action.Selector); err != nil {
			return errorResponse("execute: invalid selector", err)
		}
	}
	if st.getDriver() == nil {
		if err := s.autostart(ctx, st, s.cfg.AgentSourceDir); err != nil {
			return errorResponse("execute: no driver connected", err)
		}
	}

	a := *req.Action
	if a.TimeoutMs == nil {
		st.mu.Lock()
		ms := st.timeoutMs
		st.mu.Unlock()
		if ms > 0 {
			a.TimeoutMs = &ms
		}
	}

	exec := executor.New(st.getDriver(), true)
	start := time.Now()
	result := exec.Execute(ctx, a)
	durationMs := uint64(time.Since(start).Milliseconds())

	var screenshot []byte
	if result.Screenshot != nil {
		if b, err := base64.StdEncoding.DecodeString(*result.Screenshot); err == nil {
			screenshot = b
		}
	}
	actionResult := action.Result{Success: result.Success, Message: result.Message}
	st.handle.Session.LogAction(a, actionResult, screenshot, &durationMs, req.Tag)
	metrics.RecordAction(string(a.Type), result.Success, time.Since(start).Seconds())

	return Response{Type: RespActionResult, Success: result.Success, Message: result.Message, Screenshot: result.Screenshot, Data: result.Data}
}

func (s *Server) handleGetState(st *sessionState) Response {
	elements := st.handle.Session.GetCurrentElements()
	shot := st.handle.Session.GetScreenshot()
	var screenshotB64 *string
	if shot != nil {
		enc := base64.StdEncoding.EncodeToString(shot)
		screenshotB64 = &enc
	}
	return Response{Type: RespState, Elements: elements, Screenshot: screenshotB64}
}

func (s *Server) handleListDevices(ctx context.Context) Response {
	if s.sim == nil {
		return errorResponse("list_devices: simulator control unavailable", nil)
	}
	devices, err := s.sim.List(ctx)
	if err != nil {
		return errorResponse("list_devices failed", err)
	}
	return Response{Type: RespDeviceList, Devices: devices}
}

func (s *Server) handleBootDevice(ctx context.Context, req *Request) Response {
	if s.sim == nil {
		return errorResponse("boot_device: simulator control unavailable", nil)
	}
	if err := validation.ValidateUDID(req.UDID); err != nil {
		return errorResponse("boot_device: invalid UDID", err)
	}
	err := s.sim.Boot(ctx, req.UDID)
	audit.Log(&audit.Event{Operation: audit.OpDeviceBoot, DeviceID: req.UDID, Success: err == nil, Error: errString(err)})
	if err != nil {
		return errorResponse("boot_device failed", err)
	}
	return Response{Type: RespCommandResult, Success: true, Message: "device booted"}
}

func (s *Server) handleStartAgent(ctx context.Context, st *sessionState, req *Request) Response {
	projectDir := req.ProjectDir
	if projectDir == "" {
		projectDir = s.cfg.AgentSourceDir
	}
	if err := s.autostart(ctx, st, projectDir); err != nil {
		return errorResponse("start_agent failed", err)
	}
	return Response{Type: RespCommandResult, Success: true, Message: "agent ready"}
}

// autostart builds a lifecycle manager for projectDir, ensures the
// native agent is built/spawned/ready, and connects an agent-backed
// driver with crash recovery attached (§4.10's autostart policy).
func (s *Server) autostart(ctx context.Context, st *sessionState, projectDir string) error {
	if projectDir == "" {
		return fmt.Errorf("no project_dir given and no agent_source_dir configured")
	}

	st.mu.Lock()
	udid := st.udid
	st.mu.Unlock()

	destination := s.cfg.AgentDestination
	if udid != "" {
		destination = fmt.Sprintf("platform=iOS Simulator,id=%s", udid)
	}

	lc := lifecycle.NewManager(lifecycle.Config{
		ProjectPath:    projectDir,
		Scheme:         s.cfg.AgentScheme,
		Destination:    destination,
		Port:           s.cfg.AgentPort,
		StartupTimeout: 30 * time.Second,
		MaxRetries:     3,
	})

	if err := lc.EnsureAgentReady(ctx); err != nil {
		audit.Log(&audit.Event{Operation: audit.OpAgentStart, SessionID: st.handle.Session.Name, Success: false, Error: err.Error()})
		return err
	}

	d := agentdriver.New(driver.NewAgentConfig("127.0.0.1", s.cfg.AgentPort), lc)
	if err := d.Connect(ctx); err != nil {
		audit.Log(&audit.Event{Operation: audit.OpAgentStart, SessionID: st.handle.Session.Name, Success: false, Error: err.Error()})
		return err
	}

	st.setDriver(d, lc)
	audit.Log(&audit.Event{Operation: audit.OpAgentStart, SessionID: st.handle.Session.Name, Success: true})
	return nil
}

func (s *Server) handleConnect(ctx context.Context, st *sessionState, req *Request) Response {
	d := agentdriver.New(driver.NewAgentConfig(req.Host, req.Port), nil)
	if err := d.Connect(ctx); err != nil {
		return errorResponse("connect failed", err)
	}
	st.setDriver(d, nil)
	return Response{Type: RespCommandResult, Success: true, Message: "connected"}
}

func (s *Server) handleSetTarget(ctx context.Context, st *sessionState, req *Request) Response {
	if err := validation.ValidateBundleID(req.BundleID); err != nil {
		return errorResponse("set_target: invalid bundle ID", err)
	}
	d := st.getDriver()
	if d == nil {
		return errorResponse("set_target: no driver connected", nil)
	}
	if err := d.SetTarget(ctx, req.BundleID); err != nil {
		audit.Log(&audit.Event{Operation: audit.OpSetTarget, SessionID: st.handle.Session.Name, Success: false, Error: err.Error()})
		return errorResponse("set_target failed", err)
	}
	st.mu.Lock()
	st.bundleID = req.BundleID
	st.mu.Unlock()
	audit.Log(&audit.Event{Operation: audit.OpSetTarget, SessionID: st.handle.Session.Name, Success: true})
	return Response{Type: RespCommandResult, Success: true, Message: fmt.Sprintf("target set to %s", req.BundleID)}
}

func (s *Server) handleStartWatcher(st *sessionState, req *Request) Response {
	d := st.getDriver()
	if d == nil {
		return errorResponse("start_watcher: no driver connected", nil)
	}
	interval := req.IntervalMs
	if interval <= 0 {
		interval = s.cfg.WatcherIntervalMs
	}
	cfg := watcher.DefaultConfig()
	cfg.IntervalMs = interval
	h := watcher.Start(d, st.handle.Session, st.handle.Session.Name, cfg)
	st.setWatcher(h.Stop)
	return Response{Type: RespCommandResult, Success: true, Message: "watcher started"}
}

func (s *Server) handleStartTarget(ctx context.Context, st *sessionState) Response {
	if s.sim == nil {
		return errorResponse("start_target: simulator control unavailable", nil)
	}
	st.mu.Lock()
	udid, bundleID := st.udid, st.bundleID
	st.mu.Unlock()
	if udid == "" || bundleID == "" {
		return errorResponse("start_target: device and bundle must be selected first", nil)
	}
	if err := s.sim.Launch(ctx, udid, bundleID); err != nil {
		return errorResponse("start_target failed", err)
	}
	return Response{Type: RespCommandResult, Success: true, Message: "target started"}
}

func (s *Server) handleStopTarget(ctx context.Context, st *sessionState) Response {
	if s.sim == nil {
		return errorResponse("stop_target: simulator control unavailable", nil)
	}
	st.mu.Lock()
	udid, bundleID := st.udid, st.bundleID
	st.mu.Unlock()
	if udid == "" || bundleID == "" {
		return errorResponse("stop_target: device and bundle must be selected first", nil)
	}
	if err := s.sim.Terminate(ctx, udid, bundleID); err != nil {
		return errorResponse("stop_target failed", err)
	}
	return Response{Type: RespCommandResult, Success: true, Message: "target stopped"}
}

func (s *Server) handleGetCompletionData(ctx context.Context, st *sessionState) Response {
	var devices []simctl.Device
	if s.sim != nil {
		devices, _ = s.sim.List(ctx)
	}
	st.mu.Lock()
	udid := st.udid
	st.mu.Unlock()
	return Response{
		Type: RespCompletionData,
		Completion: &CompletionData{
			Devices:     devices,
			Elements:    st.handle.Session.GetCurrentElements(),
			CurrentUDID: udid,
		},
	}
}

func (s *Server) handleDescribeProtocol() Response {
	schema, err := describeProtocol()
	if err != nil {
		return errorResponse("describe_protocol failed", err)
	}
	return Response{Type: RespProtocolSchema, Schema: schema}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
