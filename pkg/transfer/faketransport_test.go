package transfer_test

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/robbym/nrf-dfu/pkg/slip"
)

// fakeTarget is a synchronous, in-memory bootloader simulator: it decodes
// one request frame per Write, mutates its object-window state exactly the
// way a real device would (including autonomously sending a CrcGet-shaped
// receipt every PRN-th ObjectWrite, mirroring the real device's
// opcode-aliasing quirk), and queues the matching response frame for the
// next Read. It exists only to exercise pkg/transfer's resume algorithm
// without a real serial link.
type fakeTarget struct {
	maxSize  uint32
	mtu      uint16
	prn      uint16
	windows  map[byte]*window // keyed by ObjectKind
	selected byte

	pending bytes.Buffer // response bytes not yet Read

	// corruptNextAck, when true, flips every bit of the CRC in the very
	// next autonomous write-acknowledgement, simulating a device/host
	// disagreement.
	corruptNextAck bool
}

type window struct {
	offset     uint32 // total bytes accepted for this object, cumulative across windows
	crc        uint32
	writeCount uint16

	// reportOffset/reportCrc, when non-nil, override what the next
	// ObjectSelect reply claims — consumed once. Lets a test simulate a
	// device whose advertised resume point a Force transfer must ignore,
	// without corrupting the object's real accumulated state.
	reportOffset *uint32
	reportCrc    *uint32
}

func newFakeTarget(maxSize uint32, mtu uint16) *fakeTarget {
	return &fakeTarget{
		maxSize: maxSize,
		mtu:     mtu,
		windows: map[byte]*window{0x01: {}, 0x02: {}},
	}
}

func (f *fakeTarget) Write(p []byte) (int, error) {
	frame, err := slip.Decode(bytes.NewReader(append([]byte{0x60}, p...)))
	if err != nil {
		return 0, err
	}
	f.handle(frame)
	return len(p), nil
}

func (f *fakeTarget) Read(p []byte) (int, error) {
	return f.pending.Read(p)
}

func (f *fakeTarget) reply(opcode byte, payload ...byte) {
	frame := append([]byte{opcode, 0x01}, payload...)
	var buf bytes.Buffer
	buf.WriteByte(0x60)
	slip.Encode(&buf, frame)
	f.pending.Write(buf.Bytes())
}

func (f *fakeTarget) handle(frame []byte) {
	opcode := frame[0]
	body := frame[1:]

	switch opcode {
	case 0x01: // ObjectCreate
		kind := body[0]
		w := f.windows[kind]
		w.writeCount = 0
		f.reply(opcode)

	case 0x02: // ReceiptNotifySet
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
		reportOffset, reportCrc := w.offset, w.crc
		if w.reportOffset != nil {
			reportOffset = *w.reportOffset
			w.reportOffset = nil
		}
		if w.reportCrc != nil {
			reportCrc = *w.reportCrc
			w.reportCrc = nil
		}
		buf := make([]byte, 12)
		binary.LittleEndian.PutUint32(buf[0:4], f.maxSize)
		binary.LittleEndian.PutUint32(buf[4:8], reportOffset)
		binary.LittleEndian.PutUint32(buf[8:12], reportCrc)
		f.reply(opcode, buf...)

	case 0x07: // MtuGet
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, f.mtu)
		f.reply(opcode, buf...)

	case 0x08: // ObjectWrite
		f.acceptChunk(body)

	case 0x09: // Ping
		f.reply(opcode, body[0])

	case 0x0C: // Abort
		// no response

	default:
		panic("fakeTarget: unhandled opcode")
	}
}

// acceptChunk folds chunk into the currently-selected window's running
// state, then — mirroring the real bootloader — autonomously emits a
// CrcGet-shaped (0x03) receipt every PRN-th accepted chunk.
func (f *fakeTarget) acceptChunk(chunk []byte) {
	w := f.windows[f.selected]
	w.offset += uint32(len(chunk))
	w.crc = crc32.Update(w.crc, crc32.IEEETable, chunk)

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
}
