// Package archive defines the Archive Adapter boundary (§4.3): a
// FirmwareBundle of (init, payload) byte pairs keyed by role, plus a
// reference resolver that reads them out of a Nordic-style DFU ZIP package.
// The core (pkg/transfer, pkg/updater) depends only on the Bundle
// interface; ZIP is an implementation detail confined to this package.
package archive

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
)

// Role names one of the (up to three) images a bundle may carry.
type Role string

const (
	RoleSoftdeviceBootloader Role = "softdevice_bootloader"
	RoleBootloader           Role = "bootloader"
	RoleApplication          Role = "application"
)

// Image is a pair of opaque byte blobs: the signed init/command packet and
// the image payload itself. Both are opaque to the core; only their bytes
// and length matter.
type Image struct {
	Init    []byte
	Payload []byte
}

// Bundle is the Archive Adapter interface (§4.3). Implementations need not
// be backed by a ZIP file or any particular manifest grammar — the core
// only ever calls Bundle().
type Bundle interface {
	Bundle() (FirmwareBundle, error)
}

// FirmwareBundle holds up to three optional images keyed by role (§3).
// At least one role must be present. When both SoftdeviceBootloader and
// Bootloader are set, SoftdeviceBootloader takes precedence and
// Bootloader is never transferred (§3, §4.6).
type FirmwareBundle struct {
	SoftdeviceBootloader *Image
	Bootloader           *Image
	Application          *Image
}

// Validate enforces the §3 invariant that at least one role is present.
func (b FirmwareBundle) Validate() error {
	if b.SoftdeviceBootloader == nil && b.Bootloader == nil && b.Application == nil {
		return fmt.Errorf("archive: bundle has no images")
	}
	return nil
}

// manifest mirrors the reference manifest.json grammar (§6): up to three
// named roles, each pointing at a .bin/.dat pair inside the ZIP.
type manifest struct {
	Manifest struct {
		Application          *manifestFirmware `json:"application"`
		Bootloader           *manifestFirmware `json:"bootloader"`
		SoftdeviceBootloader *manifestFirmware `json:"softdevice_bootloader"`
	} `json:"manifest"`
}

type manifestFirmware struct {
	BinFile string `json:"bin_file"`
	DatFile string `json:"dat_file"`
}

// ZipBundle is the reference Archive Adapter: a ZIP file with a top-level
// manifest.json naming up to three .bin/.dat role pairs, per §6.
type ZipBundle struct {
	path string
}

// NewZipBundle returns a Bundle backed by the ZIP archive at path. Opening
// and parsing happen lazily in Bundle(), not here.
func NewZipBundle(path string) *ZipBundle {
	return &ZipBundle{path: path}
}

// Bundle opens the ZIP, reads manifest.json, and extracts the named
// .bin/.dat pairs verbatim (§4.3, §6).
func (z *ZipBundle) Bundle() (FirmwareBundle, error) {
	r, err := zip.OpenReader(z.path)
	if err != nil {
		return FirmwareBundle{}, fmt.Errorf("archive: open %s: %w", z.path, err)
	}
	defer r.Close()

	files := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		files[f.Name] = f
	}

	manifestFile, ok := files["manifest.json"]
	if !ok {
		return FirmwareBundle{}, fmt.Errorf("archive: %s has no manifest.json", z.path)
	}
	var m manifest
	if err := readJSON(manifestFile, &m); err != nil {
		return FirmwareBundle{}, fmt.Errorf("archive: parse manifest.json: %w", err)
	}

	extract := func(mf *manifestFirmware) (*Image, error) {
		if mf == nil {
			return nil, nil
		}
		payload, err := readFile(files, mf.BinFile)
		if err != nil {
			return nil, err
		}
		init, err := readFile(files, mf.DatFile)
		if err != nil {
			return nil, err
		}
		return &Image{Init: init, Payload: payload}, nil
	}

	var bundle FirmwareBundle
	if bundle.SoftdeviceBootloader, err = extract(m.Manifest.SoftdeviceBootloader); err != nil {
		return FirmwareBundle{}, err
	}
	if bundle.Bootloader, err = extract(m.Manifest.Bootloader); err != nil {
		return FirmwareBundle{}, err
	}
	if bundle.Application, err = extract(m.Manifest.Application); err != nil {
		return FirmwareBundle{}, err
	}

	if err := bundle.Validate(); err != nil {
		return FirmwareBundle{}, err
	}
	return bundle, nil
}

func readJSON(f *zip.File, v interface{}) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return json.NewDecoder(rc).Decode(v)
}

func readFile(files map[string]*zip.File, name string) ([]byte, error) {
	f, ok := files[name]
	if !ok {
		return nil, fmt.Errorf("archive: manifest references missing file %q", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("archive: open %q: %w", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("archive: read %q: %w", name, err)
	}
	return data, nil
}
