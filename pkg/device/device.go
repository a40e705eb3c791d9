// Package device implements the Device Port boundary (§4.4): an exclusive,
// session-scoped handle to the serial link a DFU session runs over, plus
// the reset hook used to move the target in and out of bootloader mode.
package device

import "io"

// ResetMode selects what the target should do after Reset returns.
type ResetMode int

const (
	// ResetBootloader requests that the target (re)enter the DFU
	// bootloader, e.g. after a softdevice/bootloader image has been
	// executed and needs to hand off to the next stage.
	ResetBootloader ResetMode = iota
	// ResetApplication requests that the target boot its application
	// image. Most transports reboot into the application autonomously
	// once the image is executed, so Reset(ResetApplication) is often a
	// no-op; it exists so transports that need an explicit nudge have a
	// place to put it.
	ResetApplication
)

// Device is the Device Port: the minimal capability set pkg/dfu and
// pkg/transfer need to drive a session (§4.4). Read/Write are blocking,
// exclusive-borrow operations per §5 — exactly one request is ever
// outstanding, so Device need not be safe for concurrent use.
type Device interface {
	io.Reader
	io.Writer

	// Flush blocks until the OS has accepted and transmitted all
	// previously written bytes.
	Flush() error

	// Reset performs the out-of-band reset hook: toggling a control
	// line, sending a vendor-specific packet, or doing nothing on
	// transports where the device reboots autonomously. After Reset
	// returns, the next Read/Write must target the post-reset device —
	// on transports that require reopening a link, Reset does that
	// itself.
	Reset(mode ResetMode) error
}
