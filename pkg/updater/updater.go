// Package updater implements the Update Orchestrator (§4.6): the
// multi-image sequencing, probe handshake, and reset choreography that
// turns a FirmwareBundle into a completed device update.
//
// Grounded on original_source/src/updater.rs's Updater::update/update_module,
// carried over step-for-step; logging follows pkg/service/nrf_commands.go's
// per-step log.Printf style.
package updater

import (
	"log"
	"time"

	"github.com/robbym/nrf-dfu/pkg/archive"
	"github.com/robbym/nrf-dfu/pkg/device"
	"github.com/robbym/nrf-dfu/pkg/dfu"
	"github.com/robbym/nrf-dfu/pkg/transfer"
)

// defaultPRN mirrors the reference Updater's default PRN of 5.
const defaultPRN = 5

// legacyChunkSize is used when the device predates MtuGet (§4.6: an
// OpcodeNotSupported reply to MtuGet is recoverable, as it is for Ping and
// unlike every other opcode).
const legacyChunkSize = 223

// pingID is the fixed id sent with every Ping probe.
const pingID = 0x7F

// applicationFirmwareImage is the index original_source/src/updater.rs uses
// when querying the installed application's version.
const applicationFirmwareImage = 2

// Reporter receives the four coarse progress events a session can emit:
// an image starting, an image finishing, the whole session finishing, or
// the whole session failing. A nil Reporter is valid; Updater never
// depends on it for correctness, and every call is best-effort — this is
// strictly additive telemetry, never fed back into the transfer/resume
// logic.
type Reporter interface {
	ImageStarted(role archive.Role)
	ImageDone(role archive.Role)
	SessionDone(result UpdateResult)
	SessionFailed(err error)
}

// UpdateResult summarizes a completed update for the CLI and status
// channel to report. It carries no protocol semantics.
type UpdateResult struct {
	BundleSummary string
	Duration      time.Duration
}

// summarize names which roles were transferred, in the order they ran.
func summarize(bundle archive.FirmwareBundle) string {
	var roles []string
	if bundle.SoftdeviceBootloader != nil {
		roles = append(roles, string(archive.RoleSoftdeviceBootloader))
	} else if bundle.Bootloader != nil {
		roles = append(roles, string(archive.RoleBootloader))
	}
	if bundle.Application != nil {
		roles = append(roles, string(archive.RoleApplication))
	}
	summary := ""
	for i, r := range roles {
		if i > 0 {
			summary += "+"
		}
		summary += r
	}
	return summary
}

// Updater drives one update session against an exclusively-held device.Device.
type Updater struct {
	dev      device.Device
	conn     *dfu.Conn
	prn      uint16
	force    bool
	reporter Reporter
}

// Option configures an Updater at construction.
type Option func(*Updater)

// WithPRN overrides the default PRN of 5.
func WithPRN(prn uint16) Option {
	return func(u *Updater) { u.prn = prn }
}

// WithForce enables §4.6's Force mode: every object restarts from zero,
// ignoring whatever resume point the device reports.
func WithForce(force bool) Option {
	return func(u *Updater) { u.force = force }
}

// WithReporter attaches a progress Reporter.
func WithReporter(r Reporter) Option {
	return func(u *Updater) { u.reporter = r }
}

// New returns an Updater bound exclusively to dev for its lifetime.
func New(dev device.Device, opts ...Option) *Updater {
	u := &Updater{
		dev:  dev,
		conn: dfu.NewConn(dev),
		prn:  defaultPRN,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Update runs the full §4.6 sequence: softdevice_bootloader takes
// precedence over bootloader (never both), each followed by a sleep and a
// bootloader reset; application runs last, followed by a 500 ms sleep and
// no reset (the device reboots into the new application on its own).
//
// "session done"/"session failed" are reported here, in the one place
// every exit path from the sequence passes through, rather than at each
// return site.
func (u *Updater) Update(bundle archive.FirmwareBundle) (UpdateResult, error) {
	result, err := u.runSequence(bundle)
	if err != nil {
		if u.reporter != nil {
			u.reporter.SessionFailed(err)
		}
		return UpdateResult{}, err
	}
	if u.reporter != nil {
		u.reporter.SessionDone(result)
	}
	return result, nil
}

func (u *Updater) runSequence(bundle archive.FirmwareBundle) (UpdateResult, error) {
	start := time.Now()
	if err := bundle.Validate(); err != nil {
		return UpdateResult{}, err
	}

	if bundle.SoftdeviceBootloader != nil {
		log.Println("updater: transferring softdevice+bootloader image")
		if err := u.updateModule(archive.RoleSoftdeviceBootloader, bundle.SoftdeviceBootloader); err != nil {
			return UpdateResult{}, u.abortAndReturn(err)
		}
		time.Sleep(1000 * time.Millisecond)
		if err := u.dev.Reset(device.ResetBootloader); err != nil {
			return UpdateResult{}, err
		}
	} else if bundle.Bootloader != nil {
		log.Println("updater: transferring bootloader image")
		if err := u.updateModule(archive.RoleBootloader, bundle.Bootloader); err != nil {
			return UpdateResult{}, u.abortAndReturn(err)
		}
		time.Sleep(500 * time.Millisecond)
		if err := u.dev.Reset(device.ResetBootloader); err != nil {
			return UpdateResult{}, err
		}
	}

	if bundle.Application != nil {
		log.Println("updater: transferring application image")
		if err := u.updateModule(archive.RoleApplication, bundle.Application); err != nil {
			return UpdateResult{}, u.abortAndReturn(err)
		}
		time.Sleep(500 * time.Millisecond)
	}

	log.Println("updater: update complete")
	return UpdateResult{BundleSummary: summarize(bundle), Duration: time.Since(start)}, nil
}

// abortAndReturn attempts a best-effort Abort before surfacing the
// original failure; the Abort's own error, if any, is logged but never
// supersedes err, per §4.6.
func (u *Updater) abortAndReturn(err error) error {
	if abortErr := u.conn.Abort(); abortErr != nil {
		log.Printf("updater: abort after failure also failed: %v", abortErr)
	}
	return err
}

// updateModule runs the probe handshake, then transfers the image's init
// packet as a Command object followed by its payload as a Data object.
func (u *Updater) updateModule(role archive.Role, img *archive.Image) error {
	if u.reporter != nil {
		u.reporter.ImageStarted(role)
	}

	if err := u.probe(); err != nil {
		return err
	}

	// Resolved once per module: a device that rejects MtuGet on one image
	// might still support it for the next after a bootloader switch, so
	// this is not hoisted up to Update.
	chunkSize, err := u.resolveChunkSize()
	if err != nil {
		return err
	}

	log.Printf("updater[%s]: transferring init packet (%d bytes)", role, len(img.Init))
	if err := u.transferObject(dfu.KindCommand, img.Init, chunkSize); err != nil {
		return err
	}

	log.Printf("updater[%s]: transferring payload (%d bytes)", role, len(img.Payload))
	if err := u.transferObject(dfu.KindData, img.Payload, chunkSize); err != nil {
		return err
	}

	if u.reporter != nil {
		u.reporter.ImageDone(role)
	}
	return nil
}

func (u *Updater) probe() error {
	switch id, err := u.conn.Ping(pingID); {
	case err == nil:
		if id != pingID {
			return dfu.NewPingMismatchError("updater: probe")
		}
	default:
		if status, ok := dfu.StatusOf(err); !ok || !status.IsOpcodeNotSupported() {
			return err
		}
		// Legacy device: no Ping support, nothing more to check here.
	}

	// ReceiptNotifySet has no legacy fallback: unlike Ping and MtuGet, a
	// device that rejects it cannot run an acknowledged transfer at all,
	// so the failure is terminal.
	if err := u.conn.ReceiptNotifySet(u.prn); err != nil {
		return err
	}

	return nil
}

func (u *Updater) resolveChunkSize() (int, error) {
	mtu, err := u.conn.MtuGet()
	if err != nil {
		if status, ok := dfu.StatusOf(err); ok && status.IsOpcodeNotSupported() {
			return legacyChunkSize, nil
		}
		return 0, err
	}
	size := int(mtu)/2 - 1
	if size < 1 {
		size = 1
	}
	return size, nil
}

func (u *Updater) transferObject(kind dfu.ObjectKind, data []byte, chunkSize int) error {
	eng := &transfer.Engine{
		Conn:      u.conn,
		ChunkSize: chunkSize,
		PRN:       u.prn,
		Force:     u.force,
	}
	return eng.Transfer(kind, data)
}

// FirmwareVersion returns the installed application's version, per
// original_source/src/updater.rs's get_firmware_version.
func (u *Updater) FirmwareVersion() (uint32, error) {
	fv, err := u.conn.FirmwareVersion(applicationFirmwareImage)
	if err != nil {
		return 0, err
	}
	return fv.Version, nil
}
