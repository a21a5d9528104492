package agentdriver

import (
	"context"
	"net"
	"testing"

	"github.com/qorvex/qorvex/internal/agentclient"
	"github.com/qorvex/qorvex/internal/driver"
	"github.com/qorvex/qorvex/internal/wire"
)

// scriptedAgent serves one response per request over conn and closes the
// connection once the responses are exhausted (or on a read/write error).
func scriptedAgent(conn net.Conn, responses []wire.Response) {
	go func() {
		defer conn.Close()
		for _, resp := range responses {
			payload, err := wire.ReadFrame(conn)
			if err != nil {
				return
			}
			if _, err := wire.DecodeRequest(payload); err != nil {
				return
			}
			if _, err := conn.Write(wire.EncodeResponse(resp)); err != nil {
				return
			}
		}
	}()
}

func newTestDriver(t *testing.T, lc recoveryBackend) (*AgentDriver, net.Conn) {
	t.Helper()
	clientConn, agentConn := net.Pipe()
	d := New(driver.NewAgentConfig("127.0.0.1", 0), lc)
	d.client = agentclient.FromStream(clientConn)
	return d, agentConn
}

func TestTapElementHappyPath(t *testing.T) {
	d, agentConn := newTestDriver(t, nil)
	scriptedAgent(agentConn, []wire.Response{wire.Ok{}})

	if err := d.TapElement(context.Background(), "login-button"); err != nil {
		t.Fatalf("TapElement: %v", err)
	}
}

func TestTapElementAgentErrorMapsToCommandFailed(t *testing.T) {
	d, agentConn := newTestDriver(t, nil)
	scriptedAgent(agentConn, []wire.Response{wire.Error{Message: "element not found"}})

	err := d.TapElement(context.Background(), "missing")
	de, ok := err.(*driver.Error)
	if !ok || de.Kind != driver.CommandFailed || de.Message != "element not found" {
		t.Fatalf("expected CommandFailed(element not found), got %v", err)
	}
}

func TestScreenshotDecodesBytes(t *testing.T) {
	d, agentConn := newTestDriver(t, nil)
	scriptedAgent(agentConn, []wire.Response{wire.ScreenshotResp{Data: []byte{0x89, 0x50, 0x4E, 0x47}}})

	data, err := d.Screenshot(context.Background())
	if err != nil {
		t.Fatalf("Screenshot: %v", err)
	}
	if len(data) != 4 || data[0] != 0x89 {
		t.Fatalf("unexpected screenshot bytes: %v", data)
	}
}

func TestDumpTreeParsesJSON(t *testing.T) {
	d, agentConn := newTestDriver(t, nil)
	tree := `[{"AXUniqueId":"btn1","AXLabel":"Login","type":"Button","frame":{"x":10,"y":20,"width":100,"height":44},"children":[]}]`
	scriptedAgent(agentConn, []wire.Response{wire.Tree{JSON: tree}})

	roots, err := d.DumpTree(context.Background())
	if err != nil {
		t.Fatalf("DumpTree: %v", err)
	}
	if len(roots) != 1 || roots[0].Identifier == nil || *roots[0].Identifier != "btn1" {
		t.Fatalf("unexpected tree: %#v", roots)
	}
}

func TestFindElementNilOnNullJSON(t *testing.T) {
	d, agentConn := newTestDriver(t, nil)
	scriptedAgent(agentConn, []wire.Response{wire.Element{JSON: "null"}})

	el, err := d.FindElement(context.Background(), "nope", false, nil)
	if err != nil {
		t.Fatalf("FindElement: %v", err)
	}
	if el != nil {
		t.Fatalf("expected nil element, got %#v", el)
	}
}

func TestWithoutLifecycleConnectionErrorPropagatesUnchanged(t *testing.T) {
	clientConn, agentConn := net.Pipe()
	agentConn.Close() // immediately broken

	d := New(driver.NewAgentConfig("127.0.0.1", 0), nil)
	d.client = agentclient.FromStream(clientConn)

	err := d.TapElement(context.Background(), "x")
	de, ok := err.(*driver.Error)
	if !ok {
		t.Fatalf("expected driver.Error, got %v", err)
	}
	if !driver.IsConnectionClass(err) {
		t.Fatalf("expected connection-class error, got %v", de.Kind)
	}
}

// fakeLifecycle implements recoveryBackend without shelling out, so the
// crash-recovery path can be exercised deterministically.
type fakeLifecycle struct {
	terminated, spawned, waited int
	newConn                     net.Conn
}

func (f *fakeLifecycle) TerminateAgent(ctx context.Context) error {
	f.terminated++
	return nil
}

func (f *fakeLifecycle) SpawnAgent(ctx context.Context) error {
	f.spawned++
	return nil
}

func (f *fakeLifecycle) WaitForReady(ctx context.Context) error {
	f.waited++
	return nil
}

func TestCrashRecoveryRetriesExactlyOnce(t *testing.T) {
	brokenClientConn, brokenAgentConn := net.Pipe()
	brokenAgentConn.Close()

	freshClientConn, freshAgentConn := net.Pipe()
	scriptedAgent(freshAgentConn, []wire.Response{wire.Ok{}})

	lc := &fakeLifecycle{}
	d := New(driver.NewAgentConfig("127.0.0.1", 0), lc)
	d.client = agentclient.FromStream(brokenClientConn)
	d.dialFunc = func(ctx context.Context) (*agentclient.Client, error) {
		return agentclient.FromStream(freshClientConn), nil
	}

	if err := d.TapElement(context.Background(), "login-button"); err != nil {
		t.Fatalf("expected recovery to succeed, got %v", err)
	}
	if lc.terminated != 1 || lc.spawned != 1 || lc.waited != 1 {
		t.Fatalf("expected exactly one recovery attempt, got %+v", lc)
	}
	if d.Recoveries() != 1 {
		t.Fatalf("expected recoveries counter to be 1, got %d", d.Recoveries())
	}
}
