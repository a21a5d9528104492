package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/qorvex/qorvex/internal/action"
	"github.com/qorvex/qorvex/internal/driver"
	"github.com/qorvex/qorvex/internal/element"
)

func solidPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: 128})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// fakeDriver is a minimal driver.Driver implementation for executor tests.
// Each method reads from and appends to small scripted slices/counters so
// tests can assert on call sequencing without a real agent.
type fakeDriver struct {
	driver.BaseDriver

	tapElementErr error
	tapLocationErr error
	swipeErr       error
	longPressErr   error
	typeTextErr    error
	setTargetErr   error

	screenshotData []byte
	screenshotErr  error

	listElementsResult []element.UIElement
	listElementsErr    error

	getValueResult *string
	getValueErr    error

	findElementScript []findElementCall
	findElementIdx    int
}

type findElementCall struct {
	el  *element.UIElement
	err error
}

func newFakeDriver() *fakeDriver {
	d := &fakeDriver{}
	d.Self = d
	return d
}

func (f *fakeDriver) Connect(ctx context.Context) error { return nil }
func (f *fakeDriver) IsConnected() bool                 { return true }

func (f *fakeDriver) TapElement(ctx context.Context, id string) error { return f.tapElementErr }
func (f *fakeDriver) TapByLabel(ctx context.Context, label string) error { return f.tapElementErr }
func (f *fakeDriver) TapWithType(ctx context.Context, selector string, byLabel bool, elementType string) error {
	return f.tapElementErr
}

func (f *fakeDriver) GetElementValue(ctx context.Context, selector string, byLabel bool, elementType *string) (*string, error) {
	return f.getValueResult, f.getValueErr
}
func (f *fakeDriver) GetElementValueWithTimeout(ctx context.Context, selector string, byLabel bool, elementType *string, timeout time.Duration) (*string, error) {
	return f.getValueResult, f.getValueErr
}

func (f *fakeDriver) TapLocation(ctx context.Context, x, y int32) error { return f.tapLocationErr }
func (f *fakeDriver) Swipe(ctx context.Context, start, end driver.Point, duration *time.Duration) error {
	return f.swipeErr
}
func (f *fakeDriver) LongPress(ctx context.Context, x, y int32, duration time.Duration) error {
	return f.longPressErr
}

func (f *fakeDriver) TypeText(ctx context.Context, text string) error { return f.typeTextErr }

func (f *fakeDriver) DumpTree(ctx context.Context) ([]element.UIElement, error) {
	return f.listElementsResult, f.listElementsErr
}
func (f *fakeDriver) ListElements(ctx context.Context) ([]element.UIElement, error) {
	return f.listElementsResult, f.listElementsErr
}
func (f *fakeDriver) FindElement(ctx context.Context, selector string, byLabel bool, elementType *string) (*element.UIElement, error) {
	if f.findElementIdx >= len(f.findElementScript) {
		return nil, errors.New("script exhausted")
	}
	call := f.findElementScript[f.findElementIdx]
	f.findElementIdx++
	return call.el, call.err
}
func (f *fakeDriver) FindElementWithTimeout(ctx context.Context, selector string, byLabel bool, elementType *string, timeout time.Duration) (*element.UIElement, error) {
	return f.FindElement(ctx, selector, byLabel, elementType)
}
func (f *fakeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	return f.screenshotData, f.screenshotErr
}

func (f *fakeDriver) SetTarget(ctx context.Context, bundleID string) error { return f.setTargetErr }

func strp(s string) *string { return &s }

func TestTapLocationRejectsNegativeCoordinates(t *testing.T) {
	e := New(newFakeDriver(), false)
	res := e.Execute(context.Background(), action.Action{Type: action.TapLocation, X: -1, Y: 5})
	if res.Success {
		t.Fatal("expected failure for negative coordinates")
	}
}

func TestSwipeDirectionTranslatesToEndpoints(t *testing.T) {
	e := New(newFakeDriver(), false)
	res := e.Execute(context.Background(), action.Action{Type: action.SwipeAction, Direction: "up"})
	if !res.Success {
		t.Fatalf("expected success, got %s", res.Message)
	}
}

func TestSwipeUnknownDirectionFails(t *testing.T) {
	e := New(newFakeDriver(), false)
	res := e.Execute(context.Background(), action.Action{Type: action.SwipeAction, Direction: "diagonal"})
	if res.Success {
		t.Fatal("expected failure for unsupported direction")
	}
}

func TestGetScreenshotBase64EncodesBothFields(t *testing.T) {
	d := newFakeDriver()
	d.screenshotData = []byte{0x89, 0x50, 0x4E, 0x47}
	e := New(d, false)

	res := e.Execute(context.Background(), action.Action{Type: action.GetScreenshot})
	if !res.Success || res.Screenshot == nil || res.Data == nil || *res.Screenshot != *res.Data {
		t.Fatalf("unexpected result: %+v", res)
	}
	if *res.Screenshot != "iVBORw==" {
		t.Fatalf("unexpected base64: %s", *res.Screenshot)
	}
}

func TestGetScreenshotDataIncludesDimensionsWhenSniffable(t *testing.T) {
	d := newFakeDriver()
	d.screenshotData = solidPNG(t, 390, 844)
	e := New(d, false)

	res := e.Execute(context.Background(), action.Action{Type: action.GetScreenshot})
	if !res.Success || res.Data == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	var payload struct {
		Width  int    `json:"width"`
		Height int    `json:"height"`
		Image  string `json:"image"`
	}
	if err := json.Unmarshal([]byte(*res.Data), &payload); err != nil {
		t.Fatalf("expected dimension payload JSON, got %s: %v", *res.Data, err)
	}
	if payload.Width != 390 || payload.Height != 844 {
		t.Fatalf("unexpected dimensions: %+v", payload)
	}
	if payload.Image != *res.Screenshot {
		t.Fatalf("expected embedded image to match Screenshot field")
	}
}

func TestGetScreenInfoContainsElementFields(t *testing.T) {
	d := newFakeDriver()
	d.listElementsResult = []element.UIElement{{
		Identifier: strp("btn1"),
		Label:      strp("Login"),
		Type:       strp("Button"),
	}}
	d.screenshotData = solidPNG(t, 320, 480)
	e := New(d, false)

	res := e.Execute(context.Background(), action.Action{Type: action.GetScreenInfo})
	if !res.Success || res.Data == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	for _, want := range []string{"btn1", "Login", "Button"} {
		if !strings.Contains(*res.Data, want) {
			t.Fatalf("expected data to contain %q, got %s", want, *res.Data)
		}
	}

	var payload struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if err := json.Unmarshal([]byte(*res.Data), &payload); err != nil {
		t.Fatalf("expected valid JSON payload, got %s: %v", *res.Data, err)
	}
	if payload.Width != 320 || payload.Height != 480 {
		t.Fatalf("unexpected dimensions: %+v", payload)
	}
}

func TestGetValueNullReportsSuccessWithNullData(t *testing.T) {
	e := New(newFakeDriver(), false)
	res := e.Execute(context.Background(), action.Action{Type: action.GetValue, Selector: "field"})
	if !res.Success || res.Data == nil || *res.Data != "null" {
		t.Fatalf("expected success with null data, got %+v", res)
	}
}

func TestLogCommentAlwaysSucceeds(t *testing.T) {
	e := New(newFakeDriver(), false)
	res := e.Execute(context.Background(), action.Action{Type: action.LogComment, Message: "checkpoint"})
	if !res.Success || res.Message != "checkpoint" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSessionManagementActionsRejected(t *testing.T) {
	e := New(newFakeDriver(), false)
	for _, typ := range []action.Type{action.StartSession, action.EndSession, action.Quit} {
		res := e.Execute(context.Background(), action.Action{Type: typ})
		if res.Success {
			t.Fatalf("expected %s to be rejected by the executor", typ)
		}
	}
}

func TestWaitForSucceedsOnThirdStablePoll(t *testing.T) {
	d := newFakeDriver()
	frame := &element.Frame{X: 1, Y: 2, Width: 3, Height: 4}
	el := &element.UIElement{Identifier: strp("target"), Frame: frame}
	d.findElementScript = []findElementCall{{el: el}, {el: el}, {el: el}}

	timeout := uint64(5000)
	e := New(d, false)
	res := e.Execute(context.Background(), action.Action{Type: action.WaitFor, Selector: "target", TimeoutMs: &timeout})
	if !res.Success {
		t.Fatalf("expected success, got %s", res.Message)
	}
	if d.findElementIdx != 3 {
		t.Fatalf("expected exactly 3 polls, got %d", d.findElementIdx)
	}
}

func TestWaitForResetsOnFrameChangeThenStabilises(t *testing.T) {
	d := newFakeDriver()
	f1 := &element.Frame{X: 1, Y: 1, Width: 1, Height: 1}
	f2 := &element.Frame{X: 2, Y: 2, Width: 2, Height: 2}
	el1 := &element.UIElement{Identifier: strp("t"), Frame: f1}
	el2 := &element.UIElement{Identifier: strp("t"), Frame: f2}
	// Frame changes on the second poll, then stabilises for 3 more.
	d.findElementScript = []findElementCall{
		{el: el1}, {el: el2}, {el: el2}, {el: el2}, {el: el2},
	}

	timeout := uint64(5000)
	e := New(d, false)
	res := e.Execute(context.Background(), action.Action{Type: action.WaitFor, Selector: "t", TimeoutMs: &timeout})
	if !res.Success {
		t.Fatalf("expected success, got %s", res.Message)
	}
	if d.findElementIdx != 4 {
		t.Fatalf("expected success no earlier than 3 polls after stabilisation (4 total), got %d", d.findElementIdx)
	}
}

func TestWaitForTimesOutReportingElapsed(t *testing.T) {
	d := newFakeDriver()
	// Always "not found" — never stabilises.
	for i := 0; i < 10; i++ {
		d.findElementScript = append(d.findElementScript, findElementCall{el: nil})
	}
	timeout := uint64(150)
	e := New(d, false)
	res := e.Execute(context.Background(), action.Action{Type: action.WaitFor, Selector: "missing", TimeoutMs: &timeout})
	if res.Success {
		t.Fatal("expected timeout failure")
	}
	var payload map[string]int64
	if err := json.Unmarshal([]byte(*res.Data), &payload); err != nil {
		t.Fatalf("expected elapsed_ms JSON, got %s: %v", *res.Data, err)
	}
	if _, ok := payload["elapsed_ms"]; !ok {
		t.Fatalf("expected elapsed_ms key, got %v", payload)
	}
}

func TestWaitForNotSucceedsWhenElementAbsent(t *testing.T) {
	d := newFakeDriver()
	d.findElementScript = []findElementCall{{el: nil}, {el: nil}, {el: nil}}
	timeout := uint64(5000)
	e := New(d, false)
	res := e.Execute(context.Background(), action.Action{Type: action.WaitForNot, Selector: "gone", TimeoutMs: &timeout})
	if !res.Success {
		t.Fatalf("expected success, got %s", res.Message)
	}
}
