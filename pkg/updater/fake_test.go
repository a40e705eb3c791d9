package updater_test

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/robbym/nrf-dfu/pkg/device"
	"github.com/robbym/nrf-dfu/pkg/slip"
)

// fakeDevice is a full device.Device: a DFU bootloader simulator (covering
// every opcode Updater drives) plus the Flush/Reset surface. abortCount and
// resets are observable so tests can assert on the orchestrator's
// failure/reset behavior without inspecting wire traffic directly.
type fakeDevice struct {
	maxSize uint32
	mtu     uint16
	prn     uint16

	pingUnsupported        bool
	mtuUnsupported         bool
	receiptNotifySupported bool
	corruptNextAck         bool
	windows                map[byte]*objWindow
	selected               byte

	pending    bytes.Buffer
	abortCount int
	resets     []device.ResetMode
}

type objWindow struct {
	offset     uint32
	crc        uint32
	writeCount uint16
}

func newFakeDevice(maxSize uint32, mtu uint16) *fakeDevice {
	return &fakeDevice{
		maxSize:                maxSize,
		mtu:                    mtu,
		receiptNotifySupported: true,
		windows:                map[byte]*objWindow{0x01: {}, 0x02: {}},
	}
}

func (f *fakeDevice) Write(p []byte) (int, error) {
	frame, err := slip.Decode(bytes.NewReader(append([]byte{0x60}, p...)))
	if err != nil {
		return 0, err
	}
	f.handle(frame)
	return len(p), nil
}

func (f *fakeDevice) Read(p []byte) (int, error) { return f.pending.Read(p) }
func (f *fakeDevice) Flush() error               { return nil }

func (f *fakeDevice) Reset(mode device.ResetMode) error {
	f.resets = append(f.resets, mode)
	return nil
}

func (f *fakeDevice) reply(opcode byte, payload ...byte) {
	frame := append([]byte{opcode, 0x01}, payload...)
	var buf bytes.Buffer
	buf.WriteByte(0x60)
	slip.Encode(&buf, frame)
	f.pending.Write(buf.Bytes())
}

func (f *fakeDevice) replyErr(opcode byte, status byte) {
	frame := []byte{opcode, status}
	var buf bytes.Buffer
	buf.WriteByte(0x60)
	slip.Encode(&buf, frame)
	f.pending.Write(buf.Bytes())
}

const statusOpcodeNotSupported = 0x02

func (f *fakeDevice) handle(frame []byte) {
	opcode := frame[0]
	body := frame[1:]

	switch opcode {
	case 0x01: // ObjectCreate
		kind := body[0]
		f.windows[kind].writeCount = 0
		f.reply(opcode)

	case 0x02: // ReceiptNotifySet
		if !f.receiptNotifySupported {
			f.replyErr(opcode, statusOpcodeNotSupported)
			return
		}
		f.prn = binary.LittleEndian.Uint16(body[0:2])
		f.reply(opcode)

	case 0x03: // CrcGet
		w := f.windows[f.selected]
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint32(buf[0:4], w.offset)
		binary.LittleEndian.PutUint32(buf[4:8], w.crc)
		f.reply(opcode, buf...)

	case 0x04: // ObjectExecute
		f.reply(opcode)

	case 0x06: // ObjectSelect
		kind := body[0]
		f.selected = kind
		w := f.windows[kind]
		buf := make([]byte, 12)
		binary.LittleEndian.PutUint32(buf[0:4], f.maxSize)
		binary.LittleEndian.PutUint32(buf[4:8], w.offset)
		binary.LittleEndian.PutUint32(buf[8:12], w.crc)
		f.reply(opcode, buf...)

	case 0x07: // MtuGet
		if f.mtuUnsupported {
			f.replyErr(opcode, statusOpcodeNotSupported)
			return
		}
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, f.mtu)
		f.reply(opcode, buf...)

	case 0x08: // ObjectWrite
		w := f.windows[f.selected]
		w.offset += uint32(len(body))
		w.crc = crc32.Update(w.crc, crc32.IEEETable, body)
		if f.prn == 0 {
			return
		}
		w.writeCount++
		if w.writeCount < f.prn {
			return
		}
		w.writeCount = 0
		crc := w.crc
		if f.corruptNextAck {
			crc ^= 0xFFFFFFFF
			f.corruptNextAck = false
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint32(buf[0:4], w.offset)
		binary.LittleEndian.PutUint32(buf[4:8], crc)
		f.reply(0x03, buf...)

	case 0x09: // Ping
		if f.pingUnsupported {
			f.replyErr(opcode, statusOpcodeNotSupported)
			return
		}
		f.reply(opcode, body[0])

	case 0x0B: // FirmwareVersion
		buf := make([]byte, 13)
		buf[0] = 2
		binary.LittleEndian.PutUint32(buf[1:5], 0x00010203)
		f.reply(opcode, buf...)

	case 0x0C: // Abort
		f.abortCount++
		// no response

	default:
		panic("fakeDevice: unhandled opcode")
	}
}

var _ device.Device = (*fakeDevice)(nil)
