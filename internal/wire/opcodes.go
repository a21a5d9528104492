package wire

// Request opcodes.
const (
	OpHeartbeat    byte = 0x01
	OpTapCoord     byte = 0x02
	OpTapElement   byte = 0x03
	OpTapByLabel   byte = 0x04
	OpTapWithType  byte = 0x05
	OpTypeText     byte = 0x06
	OpSwipe        byte = 0x07
	OpGetValue     byte = 0x08
	OpLongPress    byte = 0x09
	OpDumpTree     byte = 0x10
	OpScreenshot   byte = 0x11
	OpSetTarget    byte = 0x12
	OpFindElement  byte = 0x13
	OpBareError    byte = 0x99
	OpResponse     byte = 0xA0
)

// Response envelope sub-type bytes, carried inside OpResponse.
const (
	RespOk         byte = 0x00
	RespError      byte = 0x01
	RespTree       byte = 0x02
	RespScreenshot byte = 0x03
	RespValue      byte = 0x04
	RespElement    byte = 0x05
)
