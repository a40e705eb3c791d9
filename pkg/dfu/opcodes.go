// Package dfu implements the Nordic-style DFU request/response wire
// protocol: opcode registry, little-endian packed message schemas, and the
// status-byte error taxonomy. It sits directly on top of pkg/slip and knows
// nothing about chunking, resume, or multi-image sequencing — that is
// pkg/transfer and pkg/updater's job.
package dfu

// Opcode identifies a DFU request/response operation.
type Opcode byte

const (
	OpProtocolVersion  Opcode = 0x00
	OpObjectCreate     Opcode = 0x01
	OpReceiptNotifySet Opcode = 0x02
	OpCrcGet           Opcode = 0x03
	OpObjectExecute    Opcode = 0x04
	OpObjectSelect     Opcode = 0x06
	OpMtuGet           Opcode = 0x07
	OpObjectWrite      Opcode = 0x08
	OpPing             Opcode = 0x09
	OpHardwareVersion  Opcode = 0x0A
	OpFirmwareVersion  Opcode = 0x0B
	OpAbort            Opcode = 0x0C
)

// statusSuccess is the only status byte that does not map to a DfuError.
const statusSuccess = 0x01

// ObjectKind distinguishes the device's two object slots.
type ObjectKind byte

const (
	KindCommand ObjectKind = 0x01
	KindData    ObjectKind = 0x02
)
