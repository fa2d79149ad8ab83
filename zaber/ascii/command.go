package ascii

import "fmt"

// AsciiCommand models a single command in Zaber's ASCII protocol: a framed
// "/<device> <axis> [<msg_id>] <data>\r\n" line.
type AsciiCommand struct {
	DeviceAddress int
	AxisNumber    int
	MessageID     *int // nil means no message ID
	Data          string
}

// NewCommand builds a command targeting a specific device/axis, optionally
// tagged with a message ID (pass -1 to omit one).
func NewCommand(device, axis int, messageID int, data string) AsciiCommand {
	c := AsciiCommand{DeviceAddress: device, AxisNumber: axis, Data: data}
	if messageID >= 0 {
		id := messageID
		c.MessageID = &id
	}
	return c
}

// Encode returns the fully-formed wire command, per Zaber's ASCII Protocol
// Manual grammar.
func (c AsciiCommand) Encode() string {
	if c.MessageID != nil {
		if c.Data != "" {
			return fmt.Sprintf("/%d %d %d %s\r\n", c.DeviceAddress, c.AxisNumber, *c.MessageID, c.Data)
		}
		return fmt.Sprintf("/%d %d %d\r\n", c.DeviceAddress, c.AxisNumber, *c.MessageID)
	}
	if c.Data != "" {
		return fmt.Sprintf("/%d %d %s\r\n", c.DeviceAddress, c.AxisNumber, c.Data)
	}
	return fmt.Sprintf("/%d %d\r\n", c.DeviceAddress, c.AxisNumber)
}

// EncodeWithChecksum returns the command with a trailing ":XX" LRC
// checksum, computed over every byte after the leading '/' (the device
// address included).
func (c AsciiCommand) EncodeWithChecksum() string {
	body := c.Encode()
	trimmed := body[:len(body)-2] // drop "\r\n"
	return trimmed + ":" + checksum(trimmed) + "\r\n"
}
