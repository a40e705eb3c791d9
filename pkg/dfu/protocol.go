package dfu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/robbym/nrf-dfu/pkg/slip"
)

// Transport is the framed byte stream a Conn drives. It is satisfied by
// pkg/device.Device; kept narrow here so pkg/dfu does not need to import
// pkg/device.
type Transport interface {
	io.Reader
	io.Writer
}

// Conn serializes DFU requests onto a Transport and parses the matching
// replies, handling the §4.2 opcode-aliasing quirk for ObjectWrite. One Conn
// owns exclusive use of its Transport for the lifetime of an update
// session (§5).
type Conn struct {
	t Transport
}

// NewConn wraps t in a Conn. t is borrowed, not owned; closing it remains
// the caller's responsibility.
func NewConn(t Transport) *Conn {
	return &Conn{t: t}
}

func (c *Conn) writeRequest(opcode Opcode, payload []byte) error {
	req := make([]byte, 0, 1+len(payload))
	req = append(req, byte(opcode))
	req = append(req, payload...)
	if _, err := slip.Encode(c.t, req); err != nil {
		return newIOError(fmt.Sprintf("write %v", opcode), err)
	}
	return nil
}

// readResponse decodes one frame and validates it against want, per
// property 4: success iff the first decoded byte equals want and the
// second equals 0x01. Returns the payload (bytes 2..) on success.
func (c *Conn) readResponse(op string, want Opcode) ([]byte, error) {
	frame, err := slip.Decode(c.t)
	if err != nil {
		var framingErr *slip.FramingError
		if errorsAsFraming(err, &framingErr) {
			return nil, newFramingError(op, err)
		}
		return nil, newIOError(op, err)
	}
	if len(frame) < 2 {
		return nil, newIOError(op, fmt.Errorf("short response frame (%d bytes)", len(frame)))
	}
	if Opcode(frame[0]) != want {
		return nil, newDfuError(op, StatusInvalidOpcode)
	}
	status := DfuStatus(frame[1])
	if status != StatusSuccess {
		return nil, newDfuError(op, status)
	}
	return frame[2:], nil
}

// errorsAsFraming is a tiny local stand-in for errors.As, used by
// readResponse's single call site. It matches only an unwrapped
// *slip.FramingError, which is what slip.Decode returns.
func errorsAsFraming(err error, target **slip.FramingError) bool {
	fe, ok := err.(*slip.FramingError)
	if ok {
		*target = fe
	}
	return ok
}

// ProtocolVersion sends OpProtocolVersion and returns the device's
// protocol version byte.
func (c *Conn) ProtocolVersion() (byte, error) {
	if err := c.writeRequest(OpProtocolVersion, nil); err != nil {
		return 0, err
	}
	payload, err := c.readResponse("protocol-version", OpProtocolVersion)
	if err != nil {
		return 0, err
	}
	if len(payload) < 1 {
		return 0, newIOError("protocol-version", fmt.Errorf("short payload"))
	}
	return payload[0], nil
}

// ObjectCreate opens a fresh object window of the given kind and size.
func (c *Conn) ObjectCreate(kind ObjectKind, size uint32) error {
	payload := make([]byte, 5)
	payload[0] = byte(kind)
	binary.LittleEndian.PutUint32(payload[1:], size)
	if err := c.writeRequest(OpObjectCreate, payload); err != nil {
		return err
	}
	_, err := c.readResponse("object-create", OpObjectCreate)
	return err
}

// ReceiptNotifySet negotiates the PRN interval. A zero target disables
// acknowledged writes.
func (c *Conn) ReceiptNotifySet(target uint16) error {
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, target)
	if err := c.writeRequest(OpReceiptNotifySet, payload); err != nil {
		return err
	}
	_, err := c.readResponse("receipt-notify-set", OpReceiptNotifySet)
	return err
}

// CrcReceipt is the {offset, crc} pair carried by both CrcGet's own
// response and the opcode-aliased ObjectWrite acknowledgement.
type CrcReceipt struct {
	Offset uint32
	Crc    uint32
}

func parseCrcReceipt(op string, payload []byte) (CrcReceipt, error) {
	var r CrcReceipt
	if len(payload) < 8 {
		return r, newIOError(op, fmt.Errorf("short payload (%d bytes)", len(payload)))
	}
	r.Offset = binary.LittleEndian.Uint32(payload[0:4])
	r.Crc = binary.LittleEndian.Uint32(payload[4:8])
	return r, nil
}

// CrcGet requests the device's current offset/CRC for the object in
// progress.
func (c *Conn) CrcGet() (CrcReceipt, error) {
	if err := c.writeRequest(OpCrcGet, nil); err != nil {
		return CrcReceipt{}, err
	}
	payload, err := c.readResponse("crc-get", OpCrcGet)
	if err != nil {
		return CrcReceipt{}, err
	}
	return parseCrcReceipt("crc-get", payload)
}

// ObjectExecute commits the current object window to flash.
func (c *Conn) ObjectExecute() error {
	if err := c.writeRequest(OpObjectExecute, nil); err != nil {
		return err
	}
	_, err := c.readResponse("object-execute", OpObjectExecute)
	return err
}

// SelectResponse is the device's view of the current object window.
type SelectResponse struct {
	MaxSize uint32
	Offset  uint32
	Crc     uint32
}

// ObjectSelect asks the device which object window (Command or Data) is
// current and how much of it has already been accepted.
func (c *Conn) ObjectSelect(kind ObjectKind) (SelectResponse, error) {
	if err := c.writeRequest(OpObjectSelect, []byte{byte(kind)}); err != nil {
		return SelectResponse{}, err
	}
	payload, err := c.readResponse("object-select", OpObjectSelect)
	if err != nil {
		return SelectResponse{}, err
	}
	if len(payload) < 12 {
		return SelectResponse{}, newIOError("object-select", fmt.Errorf("short payload (%d bytes)", len(payload)))
	}
	return SelectResponse{
		MaxSize: binary.LittleEndian.Uint32(payload[0:4]),
		Offset:  binary.LittleEndian.Uint32(payload[4:8]),
		Crc:     binary.LittleEndian.Uint32(payload[8:12]),
	}, nil
}

// MtuGet returns the negotiated link MTU in bytes.
func (c *Conn) MtuGet() (uint16, error) {
	if err := c.writeRequest(OpMtuGet, nil); err != nil {
		return 0, err
	}
	payload, err := c.readResponse("mtu-get", OpMtuGet)
	if err != nil {
		return 0, err
	}
	if len(payload) < 2 {
		return 0, newIOError("mtu-get", fmt.Errorf("short payload"))
	}
	return binary.LittleEndian.Uint16(payload), nil
}

// ObjectWriteUnacknowledged sends one ObjectWrite chunk without reading a
// response, per §4.2's unacknowledged submode.
func (c *Conn) ObjectWriteUnacknowledged(chunk []byte) error {
	return c.writeRequest(OpObjectWrite, chunk)
}

// ObjectWriteAcknowledged sends one ObjectWrite chunk and reads the
// unsolicited CrcGet-shaped receipt the device sends in its place — the
// opcode-aliasing quirk in §4.2: the request goes out tagged 0x08, but the
// reply is tagged 0x03, as if a CrcGet had been issued.
func (c *Conn) ObjectWriteAcknowledged(chunk []byte) (CrcReceipt, error) {
	if err := c.writeRequest(OpObjectWrite, chunk); err != nil {
		return CrcReceipt{}, err
	}
	payload, err := c.readResponse("object-write-ack", OpCrcGet)
	if err != nil {
		return CrcReceipt{}, err
	}
	return parseCrcReceipt("object-write-ack", payload)
}

// Ping sends id and expects it echoed back.
func (c *Conn) Ping(id byte) (byte, error) {
	if err := c.writeRequest(OpPing, []byte{id}); err != nil {
		return 0, err
	}
	payload, err := c.readResponse("ping", OpPing)
	if err != nil {
		return 0, err
	}
	if len(payload) < 1 {
		return 0, newIOError("ping", fmt.Errorf("short payload"))
	}
	return payload[0], nil
}

// HardwareVersion reports the device's hardware identification fields.
type HardwareVersion struct {
	Part        uint32
	Variant     uint32
	RomSize     uint32
	RamSize     uint32
	RomPageSize uint32
}

// HardwareVersion queries OpHardwareVersion.
func (c *Conn) HardwareVersion() (HardwareVersion, error) {
	if err := c.writeRequest(OpHardwareVersion, nil); err != nil {
		return HardwareVersion{}, err
	}
	payload, err := c.readResponse("hardware-version", OpHardwareVersion)
	if err != nil {
		return HardwareVersion{}, err
	}
	var hv HardwareVersion
	r := bytes.NewReader(payload)
	if err := binary.Read(r, binary.LittleEndian, &hv); err != nil {
		return HardwareVersion{}, newIOError("hardware-version", err)
	}
	return hv, nil
}

// FirmwareVersion reports one image's version metadata.
type FirmwareVersion struct {
	Type    byte
	Version uint32
	Address uint32
	Length  uint32
}

// FirmwareVersion queries OpFirmwareVersion for the given image index
// (application images use index 2, per §6's optional firmware-version
// query).
func (c *Conn) FirmwareVersion(image byte) (FirmwareVersion, error) {
	if err := c.writeRequest(OpFirmwareVersion, []byte{image}); err != nil {
		return FirmwareVersion{}, err
	}
	payload, err := c.readResponse("firmware-version", OpFirmwareVersion)
	if err != nil {
		return FirmwareVersion{}, err
	}
	if len(payload) < 13 {
		return FirmwareVersion{}, newIOError("firmware-version", fmt.Errorf("short payload (%d bytes)", len(payload)))
	}
	return FirmwareVersion{
		Type:    payload[0],
		Version: binary.LittleEndian.Uint32(payload[1:5]),
		Address: binary.LittleEndian.Uint32(payload[5:9]),
		Length:  binary.LittleEndian.Uint32(payload[9:13]),
	}, nil
}

// Abort is fire-and-forget: §4.2 specifies no response frame is awaited.
func (c *Conn) Abort() error {
	return c.writeRequest(OpAbort, nil)
}

// StatusOf extracts the DfuStatus carried by err, if err is a *Error of
// KindDfu. The second return is false for any other error (including nil).
func StatusOf(err error) (DfuStatus, bool) {
	de, ok := err.(*Error)
	if !ok || de.Kind != KindDfu {
		return 0, false
	}
	return de.Status, true
}
