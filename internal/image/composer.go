// Package image turns finished boot images into bootable virtual-disk
// containers the emulator can attach.
package image

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sectorlab/mbrlab/internal/builder"
)

// DefaultDiskSize is the container size used when the caller does not
// request one. 10 MiB matches what a small raw test disk needs.
const DefaultDiskSize = 10 << 20

// FloppySize is the classic 1.44 MB floppy geometry, useful for boot tests
// that expect floppy-sized media.
const FloppySize = 1474560

// InvalidArtifactError reports an artifact that fails the boot-sector
// invariant. Compose re-checks the invariant as defense in depth against a
// misbehaving builder.
type InvalidArtifactError struct {
	Variant string
	Size    int
}

func (e *InvalidArtifactError) Error() string {
	return fmt.Sprintf("artifact for %s is not a valid boot image (%d bytes)", e.Variant, e.Size)
}

// InvalidSizeError reports a requested container size smaller than one
// sector.
type InvalidSizeError struct {
	Size int64
}

func (e *InvalidSizeError) Error() string {
	return fmt.Sprintf("disk size %d is smaller than one %d-byte sector", e.Size, builder.SectorSize)
}

// DiskImage is a container file whose first sector is a boot image and
// whose remainder is zero fill. It is disposable scratch state owned by the
// execution attempt that requested it.
type DiskImage struct {
	Artifact       builder.BuildArtifact
	TotalSizeBytes int64
	Path           string
}

// Compose writes a new container file at path holding the artifact's boot
// image followed by zero padding up to sizeBytes. Composing the same
// artifact and size twice yields byte-identical files.
func Compose(artifact builder.BuildArtifact, sizeBytes int64, path string) (DiskImage, error) {
	if !artifact.Valid() {
		return DiskImage{}, &InvalidArtifactError{Variant: artifact.Variant.Name, Size: len(artifact.ImageBytes)}
	}
	if sizeBytes < builder.SectorSize {
		return DiskImage{}, &InvalidSizeError{Size: sizeBytes}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return DiskImage{}, fmt.Errorf("create image directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return DiskImage{}, fmt.Errorf("create disk image %s: %w", path, err)
	}

	if _, err := f.Write(artifact.ImageBytes); err != nil {
		f.Close()
		_ = os.Remove(path)
		return DiskImage{}, fmt.Errorf("write boot sector: %w", err)
	}
	if err := f.Truncate(sizeBytes); err != nil {
		f.Close()
		_ = os.Remove(path)
		return DiskImage{}, fmt.Errorf("extend disk image to %d bytes: %w", sizeBytes, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return DiskImage{}, fmt.Errorf("finalize disk image %s: %w", path, err)
	}

	return DiskImage{Artifact: artifact, TotalSizeBytes: sizeBytes, Path: path}, nil
}

// Remove deletes the container file. Missing files are not an error; the
// supervisor may already have cleaned up.
func (d DiskImage) Remove() error {
	if d.Path == "" {
		return nil
	}
	if err := os.Remove(d.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove disk image %s: %w", d.Path, err)
	}
	return nil
}
