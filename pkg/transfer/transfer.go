// Package transfer implements the Object Transfer Engine (§4.5): streaming
// one image's bytes into the device's Command or Data object window,
// chunked to the negotiated MTU, with PRN-paced acknowledgement and
// resumption from whatever offset/CRC the device already reports.
//
// Grounded on original_source/src/updater.rs's transfer_object/write_object,
// carried over algorithm-for-algorithm; only the host language changed.
package transfer

import (
	"hash/crc32"

	"github.com/robbym/nrf-dfu/pkg/dfu"
)

// Engine drives one object transfer over a *dfu.Conn. ChunkSize and PRN are
// set by the caller (pkg/updater) after MTU/PRN negotiation.
type Engine struct {
	Conn      *dfu.Conn
	ChunkSize int
	PRN       uint16
	// Force discards the device's reported offset/CRC and restarts the
	// object from zero, per §4.5's force-restart mode.
	Force bool
}

// Transfer streams data into the object window identified by kind,
// resuming from the device's reported progress unless Force is set.
// It implements §4.5's full resume algorithm: select, align to the
// create/execute window, stream chunks, execute, repeat until the whole
// image has been accepted and its CRC matches.
func (e *Engine) Transfer(kind dfu.ObjectKind, data []byte) error {
	sel, err := e.Conn.ObjectSelect(kind)
	if err != nil {
		return err
	}

	maxSize := int(sel.MaxSize)
	offset := int(sel.Offset)
	objectCRC := sel.Crc
	firmwareCRC := crc32.ChecksumIEEE(data)

	if e.Force {
		offset = 0
		objectCRC = 0
	}

	for {
		atWindowBoundary := offset > 0 && offset%maxSize == 0
		atEnd := offset == len(data) && objectCRC == firmwareCRC

		if atWindowBoundary || atEnd {
			if err := e.Conn.ObjectExecute(); err != nil {
				return err
			}
			if offset == len(data) {
				return nil
			}
		}

		end := offset - (offset % maxSize) + maxSize
		if end > len(data) {
			end = len(data)
		}

		if offset%maxSize == 0 || objectCRC != crc32.ChecksumIEEE(data[0:offset]) {
			if err := e.Conn.ObjectCreate(kind, uint32(end-offset)); err != nil {
				return err
			}
		}

		objectCRC, err = e.writeWindow(objectCRC, data[offset:end])
		if err != nil {
			return err
		}

		receipt, err := e.Conn.CrcGet()
		if err != nil {
			return err
		}
		offset = int(receipt.Offset)
		if receipt.Crc != objectCRC {
			return dfu.NewCrcMismatchError("transfer: device-reported CRC disagrees after write")
		}
	}
}

// writeWindow streams one create/execute window's worth of data in
// ChunkSize pieces, acknowledging every PRN-th chunk (no chunk at all, when
// PRN is zero) and reconciling the running CRC against the acknowledged
// receipt.
func (e *Engine) writeWindow(objectCRC uint32, data []byte) (uint32, error) {
	prnCount := uint16(0)

	for start := 0; start < len(data); start += e.ChunkSize {
		end := start + e.ChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[start:end]
		objectCRC = crc32.Update(objectCRC, crc32.IEEETable, chunk)

		if e.PRN == 0 {
			if err := e.Conn.ObjectWriteUnacknowledged(chunk); err != nil {
				return objectCRC, err
			}
			continue
		}

		if prnCount < e.PRN-1 {
			prnCount++
			if err := e.Conn.ObjectWriteUnacknowledged(chunk); err != nil {
				return objectCRC, err
			}
			continue
		}

		prnCount = 0
		receipt, err := e.Conn.ObjectWriteAcknowledged(chunk)
		if err != nil {
			return objectCRC, err
		}
		if receipt.Crc != objectCRC {
			return objectCRC, dfu.NewCrcMismatchError("transfer: acknowledged write CRC mismatch")
		}
	}

	return objectCRC, nil
}
