package wire

// Request is any value that can be encoded as a request frame payload.
type Request interface {
	OpCode() byte
	encodePayload(*encBuf)
}

// Encode serializes req into a complete frame: 4-byte little-endian length
// header followed by the opcode byte and opcode-specific payload.
func Encode(req Request) []byte {
	body := newEncBuf()
	body.writeByte(req.OpCode())
	req.encodePayload(body)
	return frame(body.Bytes())
}

// --- Request payload types ---

type Heartbeat struct{}

func (Heartbeat) OpCode() byte          { return OpHeartbeat }
func (Heartbeat) encodePayload(*encBuf) {}

type TapCoord struct {
	X, Y int32
}

func (TapCoord) OpCode() byte { return OpTapCoord }
func (r TapCoord) encodePayload(b *encBuf) {
	b.writeI32(r.X)
	b.writeI32(r.Y)
}

type TapElement struct {
	Selector  string
	TimeoutMs *uint64
}

func (TapElement) OpCode() byte { return OpTapElement }
func (r TapElement) encodePayload(b *encBuf) {
	b.writeStr(r.Selector)
	b.writeOptU64(r.TimeoutMs)
}

type TapByLabel struct {
	Label     string
	TimeoutMs *uint64
}

func (TapByLabel) OpCode() byte { return OpTapByLabel }
func (r TapByLabel) encodePayload(b *encBuf) {
	b.writeStr(r.Label)
	b.writeOptU64(r.TimeoutMs)
}

type TapWithType struct {
	Selector    string
	ByLabel     bool
	ElementType string
	TimeoutMs   *uint64
}

func (TapWithType) OpCode() byte { return OpTapWithType }
func (r TapWithType) encodePayload(b *encBuf) {
	b.writeStr(r.Selector)
	b.writeBool(r.ByLabel)
	b.writeStr(r.ElementType)
	b.writeOptU64(r.TimeoutMs)
}

type TypeText struct {
	Text string
}

func (TypeText) OpCode() byte { return OpTypeText }
func (r TypeText) encodePayload(b *encBuf) {
	b.writeStr(r.Text)
}

type Swipe struct {
	StartX, StartY, EndX, EndY int32
	DurationSecs               *float64
}

func (Swipe) OpCode() byte { return OpSwipe }
func (r Swipe) encodePayload(b *encBuf) {
	b.writeI32(r.StartX)
	b.writeI32(r.StartY)
	b.writeI32(r.EndX)
	b.writeI32(r.EndY)
	b.writeOptF64(r.DurationSecs)
}

type GetValue struct {
	Selector    string
	ByLabel     bool
	ElementType *string
	TimeoutMs   *uint64
}

func (GetValue) OpCode() byte { return OpGetValue }
func (r GetValue) encodePayload(b *encBuf) {
	b.writeStr(r.Selector)
	b.writeBool(r.ByLabel)
	b.writeOptStr(r.ElementType)
	b.writeOptU64(r.TimeoutMs)
}

type LongPress struct {
	X, Y         int32
	DurationSecs float64
}

func (LongPress) OpCode() byte { return OpLongPress }
func (r LongPress) encodePayload(b *encBuf) {
	b.writeI32(r.X)
	b.writeI32(r.Y)
	b.writeF64(r.DurationSecs)
}

type DumpTree struct{}

func (DumpTree) OpCode() byte          { return OpDumpTree }
func (DumpTree) encodePayload(*encBuf) {}

type Screenshot struct{}

func (Screenshot) OpCode() byte          { return OpScreenshot }
func (Screenshot) encodePayload(*encBuf) {}

type SetTarget struct {
	BundleID string
}

func (SetTarget) OpCode() byte { return OpSetTarget }
func (r SetTarget) encodePayload(b *encBuf) {
	b.writeStr(r.BundleID)
}

type FindElement struct {
	Selector    string
	ByLabel     bool
	ElementType *string
	TimeoutMs   *uint64
}

func (FindElement) OpCode() byte { return OpFindElement }
func (r FindElement) encodePayload(b *encBuf) {
	b.writeStr(r.Selector)
	b.writeBool(r.ByLabel)
	b.writeOptStr(r.ElementType)
	b.writeOptU64(r.TimeoutMs)
}

// DecodeRequest parses a request payload (opcode + body, no length header).
func DecodeRequest(payload []byte) (Request, error) {
	c := newCursor(payload)
	op, err := c.byte()
	if err != nil {
		return nil, err
	}
	switch op {
	case OpHeartbeat:
		return Heartbeat{}, nil
	case OpTapCoord:
		x, err := c.i32()
		if err != nil {
			return nil, err
		}
		y, err := c.i32()
		if err != nil {
			return nil, err
		}
		return TapCoord{X: x, Y: y}, nil
	case OpTapElement:
		s, err := c.str()
		if err != nil {
			return nil, err
		}
		t, err := c.optU64()
		if err != nil {
			return nil, err
		}
		return TapElement{Selector: s, TimeoutMs: t}, nil
	case OpTapByLabel:
		l, err := c.str()
		if err != nil {
			return nil, err
		}
		t, err := c.optU64()
		if err != nil {
			return nil, err
		}
		return TapByLabel{Label: l, TimeoutMs: t}, nil
	case OpTapWithType:
		s, err := c.str()
		if err != nil {
			return nil, err
		}
		byLabel, err := c.boolean()
		if err != nil {
			return nil, err
		}
		et, err := c.str()
		if err != nil {
			return nil, err
		}
		t, err := c.optU64()
		if err != nil {
			return nil, err
		}
		return TapWithType{Selector: s, ByLabel: byLabel, ElementType: et, TimeoutMs: t}, nil
	case OpTypeText:
		s, err := c.str()
		if err != nil {
			return nil, err
		}
		return TypeText{Text: s}, nil
	case OpSwipe:
		sx, err := c.i32()
		if err != nil {
			return nil, err
		}
		sy, err := c.i32()
		if err != nil {
			return nil, err
		}
		ex, err := c.i32()
		if err != nil {
			return nil, err
		}
		ey, err := c.i32()
		if err != nil {
			return nil, err
		}
		d, err := c.optF64()
		if err != nil {
			return nil, err
		}
		return Swipe{StartX: sx, StartY: sy, EndX: ex, EndY: ey, DurationSecs: d}, nil
	case OpGetValue:
		s, err := c.str()
		if err != nil {
			return nil, err
		}
		byLabel, err := c.boolean()
		if err != nil {
			return nil, err
		}
		et, err := c.optStr()
		if err != nil {
			return nil, err
		}
		t, err := c.optU64()
		if err != nil {
			return nil, err
		}
		return GetValue{Selector: s, ByLabel: byLabel, ElementType: et, TimeoutMs: t}, nil
	case OpLongPress:
		x, err := c.i32()
		if err != nil {
			return nil, err
		}
		y, err := c.i32()
		if err != nil {
			return nil, err
		}
		d, err := c.f64()
		if err != nil {
			return nil, err
		}
		return LongPress{X: x, Y: y, DurationSecs: d}, nil
	case OpDumpTree:
		return DumpTree{}, nil
	case OpScreenshot:
		return Screenshot{}, nil
	case OpSetTarget:
		s, err := c.str()
		if err != nil {
			return nil, err
		}
		return SetTarget{BundleID: s}, nil
	case OpFindElement:
		s, err := c.str()
		if err != nil {
			return nil, err
		}
		byLabel, err := c.boolean()
		if err != nil {
			return nil, err
		}
		et, err := c.optStr()
		if err != nil {
			return nil, err
		}
		t, err := c.optU64()
		if err != nil {
			return nil, err
		}
		return FindElement{Selector: s, ByLabel: byLabel, ElementType: et, TimeoutMs: t}, nil
	default:
		return nil, errInvalidOpCode(op)
	}
}
