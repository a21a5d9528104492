// Package executor dispatches action.Action values onto a driver.Driver
// and converts every outcome, including driver errors, into a
// human-readable Result — it never panics and never returns a Go error,
// matching the "session code never throws" propagation policy.
package executor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/qorvex/qorvex/internal/action"
	"github.com/qorvex/qorvex/internal/driver"
	"github.com/qorvex/qorvex/internal/element"
	"github.com/qorvex/qorvex/internal/screenhash"
)

// Result is the outcome of one executed action.
type Result struct {
	Success    bool
	Message    string
	Screenshot *string
	Data       *string
}

func ok(message string) Result   { return Result{Success: true, Message: message} }
func fail(message string) Result { return Result{Success: false, Message: message} }

const (
	waitPollInterval  = 100 * time.Millisecond
	stabilityRequired = 3
	defaultWaitMs     = 5000
	swipeDuration     = 300 * time.Millisecond
)

// swipeEndpoints maps a direction name to its fixed start/end screen
// points (§4.7).
var swipeEndpoints = map[string][2]driver.Point{
	"up":    {{X: 195, Y: 600}, {X: 195, Y: 300}},
	"down":  {{X: 195, Y: 300}, {X: 195, Y: 600}},
	"left":  {{X: 300, Y: 420}, {X: 90, Y: 420}},
	"right": {{X: 90, Y: 420}, {X: 300, Y: 420}},
}

// Executor holds a single driver handle and a screenshot-capture flag. It
// is otherwise stateless.
type Executor struct {
	Driver            driver.Driver
	CaptureScreenshot bool
}

// New builds an Executor bound to d.
func New(d driver.Driver, captureScreenshot bool) *Executor {
	return &Executor{Driver: d, CaptureScreenshot: captureScreenshot}
}

// Execute dispatches a per its Type. Session-management actions
// (StartSession/EndSession/Quit) are rejected; the session manager
// handles those directly.
func (e *Executor) Execute(ctx context.Context, a action.Action) Result {
	switch a.Type {
	case action.StartSession, action.EndSession, action.Quit:
		return fail(fmt.Sprintf("%s must be handled by the session manager, not the executor", a.Type))
	}

	result := e.dispatch(ctx, a)

	if result.Success && a.Type != action.GetScreenshot && e.CaptureScreenshot {
		if shot, err := e.Driver.Screenshot(ctx); err == nil {
			encoded := base64.StdEncoding.EncodeToString(shot)
			result.Screenshot = &encoded
		}
	}
	return result
}

func (e *Executor) dispatch(ctx context.Context, a action.Action) Result {
	switch a.Type {
	case action.Tap:
		return e.tap(ctx, a)
	case action.TapLocation:
		return e.tapLocation(ctx, a)
	case action.SwipeAction:
		return e.swipe(ctx, a)
	case action.LongPress:
		return e.longPress(ctx, a)
	case action.SendKeys:
		return e.sendKeys(ctx, a)
	case action.WaitFor:
		return e.waitFor(ctx, a, false)
	case action.WaitForNot:
		return e.waitFor(ctx, a, true)
	case action.GetScreenshot:
		return e.getScreenshot(ctx)
	case action.GetScreenInfo:
		return e.getScreenInfo(ctx)
	case action.GetValue:
		return e.getValue(ctx, a)
	case action.SetTarget:
		return e.setTarget(ctx, a)
	case action.LogComment:
		return ok(a.Message)
	default:
		return fail(fmt.Sprintf("unknown action type %q", a.Type))
	}
}

func (e *Executor) tap(ctx context.Context, a action.Action) Result {
	var err error
	if a.ElementType != nil {
		err = e.Driver.TapWithType(ctx, a.Selector, a.ByLabel, *a.ElementType)
	} else if a.ByLabel {
		err = e.Driver.TapByLabel(ctx, a.Selector)
	} else {
		err = e.Driver.TapElement(ctx, a.Selector)
	}
	if err != nil {
		return fail(err.Error())
	}
	return ok(fmt.Sprintf("tapped %q", a.Selector))
}

func (e *Executor) tapLocation(ctx context.Context, a action.Action) Result {
	if a.X < 0 || a.Y < 0 {
		return fail(fmt.Sprintf("negative coordinates (%d, %d) are not valid", a.X, a.Y))
	}
	if err := e.Driver.TapLocation(ctx, a.X, a.Y); err != nil {
		return fail(err.Error())
	}
	return ok(fmt.Sprintf("tapped location (%d, %d)", a.X, a.Y))
}

func (e *Executor) swipe(ctx context.Context, a action.Action) Result {
	endpoints, ok2 := swipeEndpoints[a.Direction]
	if !ok2 {
		return fail(fmt.Sprintf("unsupported swipe direction %q", a.Direction))
	}
	d := swipeDuration
	if err := e.Driver.Swipe(ctx, endpoints[0], endpoints[1], &d); err != nil {
		return fail(err.Error())
	}
	return ok(fmt.Sprintf("swiped %s", a.Direction))
}

func (e *Executor) longPress(ctx context.Context, a action.Action) Result {
	if err := e.Driver.LongPress(ctx, a.X, a.Y, time.Duration(a.DurationSecs*float64(time.Second))); err != nil {
		return fail(err.Error())
	}
	return ok(fmt.Sprintf("long-pressed (%d, %d)", a.X, a.Y))
}

func (e *Executor) sendKeys(ctx context.Context, a action.Action) Result {
	if err := e.Driver.TypeText(ctx, a.Text); err != nil {
		return fail(err.Error())
	}
	return ok(fmt.Sprintf("typed %d characters", len(a.Text)))
}

func (e *Executor) getScreenshot(ctx context.Context) Result {
	shot, err := e.Driver.Screenshot(ctx)
	if err != nil {
		return fail(err.Error())
	}
	encoded := base64.StdEncoding.EncodeToString(shot)
	data := encoded
	if w, h, ok := screenhash.Dimensions(shot); ok {
		b, err := json.Marshal(struct {
			Width  int    `json:"width"`
			Height int    `json:"height"`
			Image  string `json:"image"`
		}{w, h, encoded})
		if err == nil {
			data = string(b)
		}
	}
	return Result{Success: true, Message: "captured screenshot", Screenshot: &encoded, Data: &data}
}

func (e *Executor) getScreenInfo(ctx context.Context) Result {
	elements, err := e.Driver.ListElements(ctx)
	if err != nil {
		return fail(err.Error())
	}
	elementsJSON, err := json.Marshal(elements)
	if err != nil {
		return fail(err.Error())
	}

	payload := struct {
		Elements json.RawMessage `json:"elements"`
		Width    int             `json:"width,omitempty"`
		Height   int             `json:"height,omitempty"`
	}{Elements: elementsJSON}

	if shot, err := e.Driver.Screenshot(ctx); err == nil {
		if w, h, ok := screenhash.Dimensions(shot); ok {
			payload.Width, payload.Height = w, h
		}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fail(err.Error())
	}
	data := string(b)
	return Result{Success: true, Message: fmt.Sprintf("%d elements", len(elements)), Data: &data}
}

func (e *Executor) getValue(ctx context.Context, a action.Action) Result {
	var value *string
	var err error
	if a.TimeoutMs != nil {
		value, err = e.Driver.GetElementValueWithTimeout(ctx, a.Selector, a.ByLabel, a.ElementType, time.Duration(*a.TimeoutMs)*time.Millisecond)
	} else {
		value, err = e.Driver.GetElementValue(ctx, a.Selector, a.ByLabel, a.ElementType)
	}
	if err != nil {
		return fail(err.Error())
	}
	data := "null"
	if value != nil {
		b, _ := json.Marshal(*value)
		data = string(b)
	}
	return Result{Success: true, Message: "fetched value", Data: &data}
}

func (e *Executor) setTarget(ctx context.Context, a action.Action) Result {
	if err := e.Driver.SetTarget(ctx, a.BundleID); err != nil {
		return fail(err.Error())
	}
	return ok(fmt.Sprintf("target set to %s", a.BundleID))
}

// waitFor implements both WaitFor (invert=false, success on presence) and
// WaitForNot (invert=true, success on absence), each requiring 3
// consecutive stable polls at 100ms before declaring success.
func (e *Executor) waitFor(ctx context.Context, a action.Action, invert bool) Result {
	timeoutMs := defaultWaitMs
	if a.TimeoutMs != nil {
		timeoutMs = int(*a.TimeoutMs)
	}
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	start := time.Now()

	var lastFrame *element.Frame
	stableCount := 0
	absentCount := 0

	for {
		el, err := e.Driver.FindElement(ctx, a.Selector, a.ByLabel, a.ElementType)
		elapsed := time.Since(start).Milliseconds()

		if invert {
			if err != nil || el == nil {
				absentCount++
				if absentCount >= stabilityRequired {
					data := fmt.Sprintf(`{"elapsed_ms":%d}`, elapsed)
					return Result{Success: true, Message: "element absent", Data: &data}
				}
			} else {
				absentCount = 0
			}
		} else {
			if err == nil && el != nil {
				if lastFrame != nil && framesEqual(lastFrame, el.Frame) {
					stableCount++
				} else {
					stableCount = 1
					lastFrame = el.Frame
				}
				if stableCount >= stabilityRequired {
					data := fmt.Sprintf(`{"elapsed_ms":%d,"frame":%s}`, elapsed, frameJSON(el.Frame))
					return Result{Success: true, Message: "element stable", Data: &data}
				}
			} else {
				stableCount = 0
				lastFrame = nil
			}
		}

		if time.Now().After(deadline) {
			elapsed = time.Since(start).Milliseconds()
			data := fmt.Sprintf(`{"elapsed_ms":%d}`, elapsed)
			msg := "timed out waiting for element"
			if invert {
				msg = "timed out waiting for element to disappear"
			}
			return Result{Success: false, Message: msg, Data: &data}
		}

		select {
		case <-ctx.Done():
			data := fmt.Sprintf(`{"elapsed_ms":%d}`, time.Since(start).Milliseconds())
			return Result{Success: false, Message: ctx.Err().Error(), Data: &data}
		case <-time.After(waitPollInterval):
		}
	}
}

func framesEqual(a, b *element.Frame) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func frameJSON(f *element.Frame) string {
	if f == nil {
		return "null"
	}
	b, err := json.Marshal(f)
	if err != nil {
		return "null"
	}
	return string(b)
}
