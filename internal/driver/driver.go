package driver

import (
	"context"
	"time"

	"github.com/qorvex/qorvex/internal/element"
)

// Point is a screen-point coordinate pair, used for swipe endpoints.
type Point struct {
	X, Y int32
}

// Driver is the capability contract every automation backend implements:
// connection lifecycle, element operations, location operations, keyboard
// input, inspection, and target selection. Methods take no receiver
// mutability constraint beyond what an implementation needs internally —
// per the design notes (§9), an implementation that owns an exclusive
// stream serializes callers at its own internal lock.
type Driver interface {
	Connect(ctx context.Context) error
	IsConnected() bool

	TapElement(ctx context.Context, id string) error
	TapElementWithTimeout(ctx context.Context, id string, timeout time.Duration) error
	TapByLabel(ctx context.Context, label string) error
	TapByLabelWithTimeout(ctx context.Context, label string, timeout time.Duration) error
	TapWithType(ctx context.Context, selector string, byLabel bool, elementType string) error
	TapWithTypeWithTimeout(ctx context.Context, selector string, byLabel bool, elementType string, timeout time.Duration) error

	GetElementValue(ctx context.Context, selector string, byLabel bool, elementType *string) (*string, error)
	GetElementValueWithTimeout(ctx context.Context, selector string, byLabel bool, elementType *string, timeout time.Duration) (*string, error)

	TapLocation(ctx context.Context, x, y int32) error
	Swipe(ctx context.Context, start, end Point, duration *time.Duration) error
	LongPress(ctx context.Context, x, y int32, duration time.Duration) error

	TypeText(ctx context.Context, text string) error

	DumpTree(ctx context.Context) ([]element.UIElement, error)
	ListElements(ctx context.Context) ([]element.UIElement, error)
	FindElement(ctx context.Context, selector string, byLabel bool, elementType *string) (*element.UIElement, error)
	FindElementWithTimeout(ctx context.Context, selector string, byLabel bool, elementType *string, timeout time.Duration) (*element.UIElement, error)
	Screenshot(ctx context.Context) ([]byte, error)

	SetTarget(ctx context.Context, bundleID string) error
}

// BaseDriver can be embedded by concrete Driver implementations to provide
// the spec's "default" behaviors (§4.5): _with_timeout variants that
// ignore the timeout and delegate to the timeout-free method, and a
// dump-tree-then-walk default search strategy. Agent-backed drivers embed
// BaseDriver but define their own _with_timeout methods (and FindElement),
// which push the timeout into the wire request and shadow these defaults.
type BaseDriver struct {
	Self Driver
}

func (b BaseDriver) TapElementWithTimeout(ctx context.Context, id string, _ time.Duration) error {
	return b.Self.TapElement(ctx, id)
}

func (b BaseDriver) TapByLabelWithTimeout(ctx context.Context, label string, _ time.Duration) error {
	return b.Self.TapByLabel(ctx, label)
}

func (b BaseDriver) TapWithTypeWithTimeout(ctx context.Context, selector string, byLabel bool, elementType string, _ time.Duration) error {
	return b.Self.TapWithType(ctx, selector, byLabel, elementType)
}

func (b BaseDriver) GetElementValueWithTimeout(ctx context.Context, selector string, byLabel bool, elementType *string, _ time.Duration) (*string, error) {
	return b.Self.GetElementValue(ctx, selector, byLabel, elementType)
}

func (b BaseDriver) FindElementWithTimeout(ctx context.Context, selector string, byLabel bool, elementType *string, _ time.Duration) (*element.UIElement, error) {
	return b.Self.FindElement(ctx, selector, byLabel, elementType)
}

// ListElements is the default search strategy: dump the tree and flatten
// it depth-first, pre-order.
func (b BaseDriver) ListElements(ctx context.Context) ([]element.UIElement, error) {
	tree, err := b.Self.DumpTree(ctx)
	if err != nil {
		return nil, err
	}
	return element.ListElements(tree), nil
}

// FindElement is the default search strategy: dump the tree and walk it
// depth-first, returning the first match.
func (b BaseDriver) FindElement(ctx context.Context, selector string, byLabel bool, elementType *string) (*element.UIElement, error) {
	tree, err := b.Self.DumpTree(ctx)
	if err != nil {
		return nil, err
	}
	return element.FindElement(tree, selector, byLabel, elementType), nil
}
