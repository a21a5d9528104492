// Package agentdriver implements the driver contract over a live agent
// client: every call encodes a wire.Request, sends it, and maps the
// response (or error) back into driver semantics, with an optional
// lifecycle-backed crash-recovery wrapper around connection failures.
package agentdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/qorvex/qorvex/internal/agentclient"
	"github.com/qorvex/qorvex/internal/driver"
	"github.com/qorvex/qorvex/internal/element"
	"github.com/qorvex/qorvex/internal/metrics"
	"github.com/qorvex/qorvex/internal/usbtunnel"
	"github.com/qorvex/qorvex/internal/wire"
)

// recoveryBackend is the slice of *lifecycle.Manager the crash-recovery
// wrapper needs: terminate, respawn without rebuilding, and wait for
// readiness. Depending on this narrow interface rather than the concrete
// manager lets tests substitute a fake.
type recoveryBackend interface {
	TerminateAgent(ctx context.Context) error
	SpawnAgent(ctx context.Context) error
	WaitForReady(ctx context.Context) error
}

// AgentDriver implements driver.Driver by speaking the wire protocol to a
// connected agent. The driver's own lock guards only the stored client
// pointer; the client's internal lock is held for the duration of one
// request/response round trip, so concurrent callers serialize there.
type AgentDriver struct {
	driver.BaseDriver

	cfg       driver.Config
	lifecycle recoveryBackend // nil disables crash recovery
	resolver  *usbtunnel.Resolver

	mu         sync.Mutex
	client     *agentclient.Client
	recoveries uint64

	// dialFunc overrides dial in tests so recovery can be exercised
	// without a real TCP connection or USB tunnel.
	dialFunc func(ctx context.Context) (*agentclient.Client, error)
}

// New constructs an AgentDriver for cfg. lc may be nil to disable
// crash-recovery (the driver then surfaces connection errors unchanged).
func New(cfg driver.Config, lc recoveryBackend) *AgentDriver {
	d := &AgentDriver{cfg: cfg, lifecycle: lc, resolver: usbtunnel.NewResolver()}
	d.Self = d
	d.dialFunc = d.dial
	return d
}

// Recoveries reports how many crash-recovery attempts have succeeded.
func (d *AgentDriver) Recoveries() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recoveries
}

// Connect dials the configured agent, via TCP for a simulator/host target
// or via the USB tunnel for a wired device.
func (d *AgentDriver) Connect(ctx context.Context) error {
	client, err := d.dialFunc(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.client = client
	d.mu.Unlock()
	return nil
}

func (d *AgentDriver) dial(ctx context.Context) (*agentclient.Client, error) {
	if d.cfg.IsDevice() {
		conn, err := d.resolver.Open(ctx, d.cfg.UDID, d.cfg.DevicePort)
		if err != nil {
			return nil, driver.New(driver.UsbTunnel, err.Error())
		}
		return agentclient.FromStream(conn), nil
	}
	client, err := agentclient.Connect(d.cfg.Host, d.cfg.Port)
	if err != nil {
		return nil, mapClientErr(err)
	}
	return client, nil
}

// IsConnected reports whether the driver currently holds a live client.
func (d *AgentDriver) IsConnected() bool {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()
	return client != nil && client.IsConnected()
}

// send performs one request/response round trip, running a single
// lifecycle-backed recovery attempt if the client reports a
// connection-classified error and a lifecycle handle is attached.
func (d *AgentDriver) send(ctx context.Context, req wire.Request) (wire.Response, error) {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()

	if client == nil {
		return nil, driver.New(driver.NotConnected, "")
	}

	resp, err := client.Send(req)
	if err == nil {
		return resp, nil
	}

	derr := mapClientErr(err)
	if d.lifecycle == nil || !driver.IsConnectionClass(derr) {
		return nil, derr
	}

	if recErr := d.recover(ctx); recErr != nil {
		return nil, derr
	}

	d.mu.Lock()
	client = d.client
	d.mu.Unlock()
	if client == nil {
		return nil, derr
	}
	resp, err = client.Send(req)
	if err != nil {
		return nil, mapClientErr(err)
	}

	d.mu.Lock()
	d.recoveries++
	d.mu.Unlock()
	metrics.RecordAgentRecovery()
	return resp, nil
}

// recover terminates the agent, respawns it without rebuilding, waits for
// readiness, and replaces the stored client with a fresh connection.
func (d *AgentDriver) recover(ctx context.Context) error {
	if err := d.lifecycle.TerminateAgent(ctx); err != nil {
		return err
	}
	if err := d.lifecycle.SpawnAgent(ctx); err != nil {
		return err
	}
	if err := d.lifecycle.WaitForReady(ctx); err != nil {
		return err
	}
	client, err := d.dialFunc(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	if d.client != nil {
		d.client.Close()
	}
	d.client = client
	d.mu.Unlock()
	return nil
}

func mapClientErr(err error) error {
	ce, ok := err.(*agentclient.Error)
	if !ok {
		return driver.New(driver.Io, err.Error())
	}
	switch ce.Kind {
	case agentclient.NotConnected:
		return driver.New(driver.NotConnected, ce.Message)
	case agentclient.ConnectionFailed:
		return driver.New(driver.ConnectionLost, ce.Message)
	case agentclient.Io:
		return driver.New(driver.Io, ce.Message)
	case agentclient.Protocol:
		return driver.New(driver.CommandFailed, ce.Message)
	case agentclient.AgentError:
		return driver.New(driver.CommandFailed, ce.Message)
	case agentclient.Timeout:
		return driver.New(driver.Timeout, ce.Message)
	default:
		return driver.New(driver.Io, ce.Message)
	}
}

func expectOk(resp wire.Response, err error) error {
	if err != nil {
		return err
	}
	if _, ok := resp.(wire.Ok); !ok {
		return driver.New(driver.CommandFailed, fmt.Sprintf("unexpected response %T", resp))
	}
	return nil
}

func (d *AgentDriver) TapElement(ctx context.Context, id string) error {
	return expectOk(d.send(ctx, wire.TapElement{Selector: id}))
}

func (d *AgentDriver) TapElementWithTimeout(ctx context.Context, id string, timeout time.Duration) error {
	ms := durationMs(timeout)
	return expectOk(d.send(ctx, wire.TapElement{Selector: id, TimeoutMs: &ms}))
}

func (d *AgentDriver) TapByLabel(ctx context.Context, label string) error {
	return expectOk(d.send(ctx, wire.TapByLabel{Label: label}))
}

func (d *AgentDriver) TapByLabelWithTimeout(ctx context.Context, label string, timeout time.Duration) error {
	ms := durationMs(timeout)
	return expectOk(d.send(ctx, wire.TapByLabel{Label: label, TimeoutMs: &ms}))
}

func (d *AgentDriver) TapWithType(ctx context.Context, selector string, byLabel bool, elementType string) error {
	return expectOk(d.send(ctx, wire.TapWithType{Selector: selector, ByLabel: byLabel, ElementType: elementType}))
}

func (d *AgentDriver) TapWithTypeWithTimeout(ctx context.Context, selector string, byLabel bool, elementType string, timeout time.Duration) error {
	ms := durationMs(timeout)
	return expectOk(d.send(ctx, wire.TapWithType{Selector: selector, ByLabel: byLabel, ElementType: elementType, TimeoutMs: &ms}))
}

func (d *AgentDriver) TapLocation(ctx context.Context, x, y int32) error {
	return expectOk(d.send(ctx, wire.TapCoord{X: x, Y: y}))
}

func (d *AgentDriver) Swipe(ctx context.Context, start, end driver.Point, duration *time.Duration) error {
	var secs *float64
	if duration != nil {
		s := duration.Seconds()
		secs = &s
	}
	return expectOk(d.send(ctx, wire.Swipe{
		StartX: start.X, StartY: start.Y,
		EndX: end.X, EndY: end.Y,
		DurationSecs: secs,
	}))
}

func (d *AgentDriver) LongPress(ctx context.Context, x, y int32, duration time.Duration) error {
	return expectOk(d.send(ctx, wire.LongPress{X: x, Y: y, DurationSecs: duration.Seconds()}))
}

func (d *AgentDriver) TypeText(ctx context.Context, text string) error {
	return expectOk(d.send(ctx, wire.TypeText{Text: text}))
}

func (d *AgentDriver) GetElementValue(ctx context.Context, selector string, byLabel bool, elementType *string) (*string, error) {
	resp, err := d.send(ctx, wire.GetValue{Selector: selector, ByLabel: byLabel, ElementType: elementType})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(wire.Value)
	if !ok {
		return nil, driver.New(driver.CommandFailed, fmt.Sprintf("unexpected response %T", resp))
	}
	return v.Value, nil
}

func (d *AgentDriver) GetElementValueWithTimeout(ctx context.Context, selector string, byLabel bool, elementType *string, timeout time.Duration) (*string, error) {
	ms := durationMs(timeout)
	resp, err := d.send(ctx, wire.GetValue{Selector: selector, ByLabel: byLabel, ElementType: elementType, TimeoutMs: &ms})
	if err != nil {
		return nil, err
	}
	v, ok := resp.(wire.Value)
	if !ok {
		return nil, driver.New(driver.CommandFailed, fmt.Sprintf("unexpected response %T", resp))
	}
	return v.Value, nil
}

func (d *AgentDriver) DumpTree(ctx context.Context) ([]element.UIElement, error) {
	resp, err := d.send(ctx, wire.DumpTree{})
	if err != nil {
		return nil, err
	}
	tree, ok := resp.(wire.Tree)
	if !ok {
		return nil, driver.New(driver.CommandFailed, fmt.Sprintf("unexpected response %T", resp))
	}
	var roots []element.UIElement
	if err := json.Unmarshal([]byte(tree.JSON), &roots); err != nil {
		return nil, driver.New(driver.JsonParse, err.Error())
	}
	return roots, nil
}

func (d *AgentDriver) FindElement(ctx context.Context, selector string, byLabel bool, elementType *string) (*element.UIElement, error) {
	resp, err := d.send(ctx, wire.FindElement{Selector: selector, ByLabel: byLabel, ElementType: elementType})
	if err != nil {
		return nil, err
	}
	return decodeElementResp(resp)
}

func (d *AgentDriver) FindElementWithTimeout(ctx context.Context, selector string, byLabel bool, elementType *string, timeout time.Duration) (*element.UIElement, error) {
	ms := durationMs(timeout)
	resp, err := d.send(ctx, wire.FindElement{Selector: selector, ByLabel: byLabel, ElementType: elementType, TimeoutMs: &ms})
	if err != nil {
		return nil, err
	}
	return decodeElementResp(resp)
}

func decodeElementResp(resp wire.Response) (*element.UIElement, error) {
	el, ok := resp.(wire.Element)
	if !ok {
		return nil, driver.New(driver.CommandFailed, fmt.Sprintf("unexpected response %T", resp))
	}
	if el.JSON == "" || el.JSON == "null" {
		return nil, nil
	}
	var parsed element.UIElement
	if err := json.Unmarshal([]byte(el.JSON), &parsed); err != nil {
		return nil, driver.New(driver.JsonParse, err.Error())
	}
	return &parsed, nil
}

func (d *AgentDriver) Screenshot(ctx context.Context) ([]byte, error) {
	resp, err := d.send(ctx, wire.Screenshot{})
	if err != nil {
		return nil, err
	}
	s, ok := resp.(wire.ScreenshotResp)
	if !ok {
		return nil, driver.New(driver.CommandFailed, fmt.Sprintf("unexpected response %T", resp))
	}
	return s.Data, nil
}

func (d *AgentDriver) SetTarget(ctx context.Context, bundleID string) error {
	return expectOk(d.send(ctx, wire.SetTarget{BundleID: bundleID}))
}

func durationMs(d time.Duration) uint64 {
	return uint64(d.Milliseconds())
}
