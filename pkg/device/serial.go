package device

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialDevice is the reference Device Port: a physical UART link to the
// target, opened once per process and held exclusively for the session's
// lifetime. Unlike the teacher's usock.USOCK, SerialDevice runs no
// background reader goroutine — the synchronous request/response model in
// §5 means at most one Read is ever outstanding, so Read/Write can drive
// the port directly.
type SerialDevice struct {
	path string
	baud int
	port serial.Port
}

// OpenSerialDevice opens path at baud 8N1, with no toolchain-imposed read
// deadline: Read blocks until bytes arrive or the port is closed.
func OpenSerialDevice(path string, baud int) (*SerialDevice, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("device: open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(serial.NoTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("device: set read timeout on %s: %w", path, err)
	}
	return &SerialDevice{path: path, baud: baud, port: port}, nil
}

func (d *SerialDevice) Read(p []byte) (int, error) {
	return d.port.Read(p)
}

func (d *SerialDevice) Write(p []byte) (int, error) {
	return d.port.Write(p)
}

func (d *SerialDevice) Flush() error {
	return d.port.Drain()
}

// reopenRetryInterval and reopenTimeout bound how long Reset waits for the
// device node at d.path to reappear after a USB-CDC re-enumeration: a
// Nordic DFU bootloader entry/exit drops and re-creates the node rather
// than keeping the same file descriptor alive underneath it.
const (
	reopenRetryInterval = 250 * time.Millisecond
	reopenTimeout       = 5 * time.Second
)

// Reset toggles DTR to bounce the target into (or out of) the bootloader,
// then closes and reopens the port so the next Read/Write targets the
// post-reset device rather than a stale handle to a node that may have
// re-enumerated out from underneath it. go.bug.st/serial exposes SetDTR
// directly, unlike the teacher's github.com/tarm/serial dependency, which
// has no equivalent — the reason this package uses go.bug.st/serial
// instead.
//
// mode only affects how long the line is held low: bootloader entry needs
// a longer assertion than a plain application reboot on the reference
// hardware.
func (d *SerialDevice) Reset(mode ResetMode) error {
	hold := 100 * time.Millisecond
	if mode == ResetBootloader {
		hold = 1200 * time.Millisecond
	}

	if err := d.port.SetDTR(true); err != nil {
		return fmt.Errorf("device: assert DTR: %w", err)
	}
	time.Sleep(hold)
	if err := d.port.SetDTR(false); err != nil {
		return fmt.Errorf("device: release DTR: %w", err)
	}

	if err := d.port.Close(); err != nil {
		return fmt.Errorf("device: close %s before reset: %w", d.path, err)
	}

	return d.reopen()
}

// reopen re-establishes the port at d.path, retrying until the device node
// reappears or reopenTimeout elapses.
func (d *SerialDevice) reopen() error {
	mode := &serial.Mode{
		BaudRate: d.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	deadline := time.Now().Add(reopenTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		port, err := serial.Open(d.path, mode)
		if err != nil {
			lastErr = err
			time.Sleep(reopenRetryInterval)
			continue
		}
		if err := port.SetReadTimeout(serial.NoTimeout); err != nil {
			port.Close()
			return fmt.Errorf("device: set read timeout on %s: %w", d.path, err)
		}
		d.port = port
		return nil
	}
	return fmt.Errorf("device: reopen %s after reset: %w", d.path, lastErr)
}

// Close releases the underlying port. Not part of the Device interface
// since pkg/transfer and pkg/updater never close their borrowed Device;
// only the owner (cmd/nrf-dfu) does.
func (d *SerialDevice) Close() error {
	return d.port.Close()
}

var _ Device = (*SerialDevice)(nil)
