package driver

import (
	"context"
	"testing"
	"time"

	"github.com/qorvex/qorvex/internal/element"
)

// fakeDriver is a minimal Driver implementation used only to exercise
// BaseDriver's default delegation logic.
type fakeDriver struct {
	BaseDriver
	tapElementCalls int
	dumpTree        []element.UIElement
	dumpErr         error
}

func newFakeDriver(tree []element.UIElement) *fakeDriver {
	f := &fakeDriver{dumpTree: tree}
	f.Self = f
	return f
}

func (f *fakeDriver) Connect(ctx context.Context) error { return nil }
func (f *fakeDriver) IsConnected() bool                 { return true }
func (f *fakeDriver) TapElement(ctx context.Context, id string) error {
	f.tapElementCalls++
	return nil
}
func (f *fakeDriver) TapByLabel(ctx context.Context, label string) error { return nil }
func (f *fakeDriver) TapWithType(ctx context.Context, selector string, byLabel bool, elementType string) error {
	return nil
}
func (f *fakeDriver) GetElementValue(ctx context.Context, selector string, byLabel bool, elementType *string) (*string, error) {
	return nil, nil
}
func (f *fakeDriver) TapLocation(ctx context.Context, x, y int32) error { return nil }
func (f *fakeDriver) Swipe(ctx context.Context, start, end Point, duration *time.Duration) error {
	return nil
}
func (f *fakeDriver) LongPress(ctx context.Context, x, y int32, duration time.Duration) error {
	return nil
}
func (f *fakeDriver) TypeText(ctx context.Context, text string) error { return nil }
func (f *fakeDriver) DumpTree(ctx context.Context) ([]element.UIElement, error) {
	return f.dumpTree, f.dumpErr
}
func (f *fakeDriver) Screenshot(ctx context.Context) ([]byte, error)   { return nil, nil }
func (f *fakeDriver) SetTarget(ctx context.Context, bundleID string) error { return nil }

var _ Driver = (*fakeDriver)(nil)

func TestBaseDriverTapElementWithTimeoutDelegates(t *testing.T) {
	f := newFakeDriver(nil)
	if err := f.TapElementWithTimeout(context.Background(), "btn", time.Second); err != nil {
		t.Fatalf("TapElementWithTimeout: %v", err)
	}
	if f.tapElementCalls != 1 {
		t.Errorf("tapElementCalls = %d, want 1", f.tapElementCalls)
	}
}

func TestBaseDriverListElementsFlattensTree(t *testing.T) {
	id := "root-child"
	tree := []element.UIElement{
		{Identifier: &id, Children: []element.UIElement{{Identifier: &id}}},
	}
	f := newFakeDriver(tree)

	got, err := f.ListElements(context.Background())
	if err != nil {
		t.Fatalf("ListElements: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListElements returned %d elements, want 2", len(got))
	}
}

func TestBaseDriverListElementsPropagatesDumpTreeError(t *testing.T) {
	f := newFakeDriver(nil)
	f.dumpErr = New(Timeout, "dump timed out")

	_, err := f.ListElements(context.Background())
	if err == nil {
		t.Fatalf("expected error from ListElements")
	}
}

func TestBaseDriverFindElementSearchesDumpedTree(t *testing.T) {
	id := "login-button"
	tree := []element.UIElement{{Identifier: &id}}
	f := newFakeDriver(tree)

	found, err := f.FindElement(context.Background(), "login-button", false, nil)
	if err != nil {
		t.Fatalf("FindElement: %v", err)
	}
	if found == nil {
		t.Fatalf("expected a match")
	}
}

func TestBaseDriverFindElementWithTimeoutDelegates(t *testing.T) {
	id := "login-button"
	tree := []element.UIElement{{Identifier: &id}}
	f := newFakeDriver(tree)

	found, err := f.FindElementWithTimeout(context.Background(), "login-button", false, nil, time.Second)
	if err != nil {
		t.Fatalf("FindElementWithTimeout: %v", err)
	}
	if found == nil {
		t.Fatalf("expected a match")
	}
}
