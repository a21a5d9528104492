// qorvex-smoke is a minimal IPC client used to exercise a running
// qorvexd daemon end-to-end: start a session, execute one action, print
// the response, end the session. It is not the project's CLI/TUI
// (those are out of scope, §1) — it exists to smoke-test the protocol
// from a real client connection.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/qorvex/qorvex/internal/action"
	"github.com/qorvex/qorvex/internal/ipc"
	"github.com/qorvex/qorvex/internal/qconfig"
)

// Exit codes per §6.5.
const (
	exitSuccess       = 0
	exitActionFailed  = 1
	exitConnectionErr = 2
	exitProtocolErr   = 3
	exitIOErr         = 4
)

func main() {
	deviceID := flag.String("device", "", "device id to bind the session to")
	selector := flag.String("selector", "", "accessibility identifier to tap (skips Execute if empty)")
	byLabel := flag.Bool("by-label", false, "match selector against the accessibility label instead of the identifier")
	timeoutMs := flag.Uint64("timeout-ms", 5000, "default timeout for WaitFor-backed operations")
	flag.Parse()

	conn, err := net.DialTimeout("unix", qconfig.ControlSocketPath(), 5*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qorvex-smoke: connect: %v\n", err)
		os.Exit(exitConnectionErr)
	}
	defer conn.Close()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	startResp, err := roundTrip(rw, ipc.Request{Type: ipc.ReqStartSession, DeviceID: *deviceID})
	if err != nil {
		fmt.Fprintf(os.Stderr, "qorvex-smoke: start_session: %v\n", err)
		os.Exit(exitIOErr)
	}
	if startResp.Type == ipc.RespError {
		fmt.Fprintf(os.Stderr, "qorvex-smoke: start_session failed: %s\n", startResp.Error)
		os.Exit(exitProtocolErr)
	}
	fmt.Printf("session started: %s (socket %s)\n", startResp.SessionID, startResp.SocketPath)

	sessConn, err := net.DialTimeout("unix", startResp.SocketPath, 5*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qorvex-smoke: connect session socket: %v\n", err)
		os.Exit(exitConnectionErr)
	}
	defer sessConn.Close()
	sessRW := bufio.NewReadWriter(bufio.NewReader(sessConn), bufio.NewWriter(sessConn))

	exitCode := exitSuccess

	if *selector != "" {
		a := &action.Action{Type: action.Tap, Selector: *selector, ByLabel: *byLabel, TimeoutMs: timeoutMs}
		execResp, err := roundTrip(sessRW, ipc.Request{Type: ipc.ReqExecute, Action: a})
		if err != nil {
			fmt.Fprintf(os.Stderr, "qorvex-smoke: execute: %v\n", err)
			exitCode = exitIOErr
		} else {
			fmt.Printf("execute: success=%v message=%q\n", execResp.Success, execResp.Message)
			if !execResp.Success {
				exitCode = exitActionFailed
			}
		}
	}

	if _, err := roundTrip(sessRW, ipc.Request{Type: ipc.ReqEndSession}); err != nil {
		fmt.Fprintf(os.Stderr, "qorvex-smoke: end_session: %v\n", err)
	}

	os.Exit(exitCode)
}

func roundTrip(rw *bufio.ReadWriter, req ipc.Request) (ipc.Response, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return ipc.Response{}, err
	}
	b = append(b, '\n')
	if _, err := rw.Write(b); err != nil {
		return ipc.Response{}, err
	}
	if err := rw.Flush(); err != nil {
		return ipc.Response{}, err
	}

	line, err := rw.ReadString('\n')
	if err != nil {
		return ipc.Response{}, err
	}
	var resp ipc.Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return ipc.Response{}, err
	}
	return resp, nil
}
