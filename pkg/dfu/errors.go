package dfu

import "fmt"

// Kind tags the category of a Error, mirroring the source's tagged-variant
// error enum (original_source/src/updater.rs's Error, src/dfu.rs's DfuError).
type Kind int

const (
	KindIO Kind = iota
	KindFraming
	KindDfu
	KindPingMismatch
	KindCrcMismatch
)

// DfuStatus is the one-byte result code carried in byte 2 of every decoded
// response frame.
type DfuStatus byte

const (
	StatusInvalidOpcode           DfuStatus = 0x00
	StatusSuccess                 DfuStatus = 0x01
	StatusOpcodeNotSupported      DfuStatus = 0x02
	StatusInvalidParameter        DfuStatus = 0x03
	StatusInsufficientResources   DfuStatus = 0x04
	StatusInvalidObject           DfuStatus = 0x05
	StatusUnsupportedType         DfuStatus = 0x06
	StatusOperationNotPermitted   DfuStatus = 0x07
	StatusOperationFailed         DfuStatus = 0x08
	StatusExtendedError           DfuStatus = 0x09
)

// String names the status per the §4.2 error taxonomy; anything not listed
// there maps to "UnknownError".
func (s DfuStatus) String() string {
	switch s {
	case StatusInvalidOpcode:
		return "InvalidOpcode"
	case StatusSuccess:
		return "Success"
	case StatusOpcodeNotSupported:
		return "OpcodeNotSupported"
	case StatusInvalidParameter:
		return "InvalidParameter"
	case StatusInsufficientResources:
		return "InsufficientResources"
	case StatusInvalidObject:
		return "InvalidObject"
	case StatusUnsupportedType:
		return "UnsupportedType"
	case StatusOperationNotPermitted:
		return "OperationNotPermitted"
	case StatusOperationFailed:
		return "OperationFailed"
	case StatusExtendedError:
		return "ExtendedError"
	default:
		return "UnknownError"
	}
}

// IsOpcodeNotSupported reports whether s is the one status the orchestrator
// (pkg/updater) treats as recoverable for Ping and MtuGet.
func (s DfuStatus) IsOpcodeNotSupported() bool {
	return s == StatusOpcodeNotSupported
}

// Error is the single error type returned across pkg/dfu, pkg/transfer, and
// pkg/updater. Kind selects which fields are meaningful:
//
//	KindIO, KindFraming: Err is set, Status is zero.
//	KindDfu:             Status carries the device's reported result code.
//	KindPingMismatch, KindCrcMismatch: neither Err nor Status is meaningful.
type Error struct {
	Kind   Kind
	Status DfuStatus
	Op     string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindDfu:
		return fmt.Sprintf("dfu: %s: device returned %s", e.Op, e.Status)
	case KindPingMismatch:
		return fmt.Sprintf("dfu: %s: ping id mismatch", e.Op)
	case KindCrcMismatch:
		return fmt.Sprintf("dfu: %s: crc mismatch", e.Op)
	case KindFraming:
		return fmt.Sprintf("dfu: %s: framing error: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("dfu: %s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func newIOError(op string, err error) *Error {
	return &Error{Kind: KindIO, Op: op, Err: err}
}

func newFramingError(op string, err error) *Error {
	return &Error{Kind: KindFraming, Op: op, Err: err}
}

func newDfuError(op string, status DfuStatus) *Error {
	return &Error{Kind: KindDfu, Op: op, Status: status}
}

// NewPingMismatchError reports that a Ping reply echoed an unexpected id.
func NewPingMismatchError(op string) *Error {
	return &Error{Kind: KindPingMismatch, Op: op}
}

// NewCrcMismatchError reports that the host and device CRC-32 disagree at a
// checkpoint.
func NewCrcMismatchError(op string) *Error {
	return &Error{Kind: KindCrcMismatch, Op: op}
}
