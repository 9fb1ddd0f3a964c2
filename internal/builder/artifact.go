package builder

import "github.com/sectorlab/mbrlab/internal/registry"

// Boot-sector layout constants.
const (
	// SectorSize is the size of a finished boot image.
	SectorSize = 512
	// PayloadSize is the space available to assembled code before the
	// boot signature.
	PayloadSize = 510
)

// BootSignature is the two-byte marker firmware requires at the end of a
// boot sector.
var BootSignature = [2]byte{0x55, 0xAA}

// BuildArtifact is a finished 512-byte boot image for one variant, plus the
// log produced while building it. Owned exclusively by the build invocation
// that created it.
type BuildArtifact struct {
	Variant    registry.Variant
	ImageBytes []byte
	ImagePath  string
	BuildLog   string
}

// Valid reports whether the image satisfies the boot-sector invariant:
// exactly 512 bytes ending in the boot signature.
func (a BuildArtifact) Valid() bool {
	return ValidImage(a.ImageBytes)
}

// ValidImage reports whether raw bytes form a valid boot image.
func ValidImage(image []byte) bool {
	if len(image) != SectorSize {
		return false
	}
	return image[SectorSize-2] == BootSignature[0] && image[SectorSize-1] == BootSignature[1]
}

// SealImage pads an assembled payload to 510 bytes and appends the boot
// signature, producing a complete sector.
func SealImage(payload []byte) []byte {
	image := make([]byte, SectorSize)
	copy(image, payload)
	image[SectorSize-2] = BootSignature[0]
	image[SectorSize-1] = BootSignature[1]
	return image
}
