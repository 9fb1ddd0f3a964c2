package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/sectorlab/mbrlab/internal/logging"
	"github.com/sectorlab/mbrlab/internal/registry"
)

const (
	imageFileName  = "boot.img"
	digestFileName = "boot.img.digest"
)

// Builder assembles a variant's source into a finished boot image under
// OutputDir/<variant>/.
type Builder struct {
	// OutputDir is the dist area receiving one directory per variant.
	OutputDir string
	Assembler Assembler
	// Helper compiles the companion writer executable for variants that
	// declare one. Nil disables the step.
	Helper HelperCompiler
	Logger *slog.Logger
}

// Build produces the boot image for one variant. A second call for the same
// variant with unchanged source reuses the previous image instead of
// reassembling.
func (b *Builder) Build(ctx context.Context, v registry.Variant) (BuildArtifact, error) {
	logger := logging.Ensure(b.Logger).With("variant", v.Name)
	if b.Assembler == nil {
		return BuildArtifact{}, errors.New("assembler is not configured")
	}
	if b.OutputDir == "" {
		return BuildArtifact{}, errors.New("output directory is not configured")
	}

	var log strings.Builder
	variantDir := filepath.Join(b.OutputDir, v.Name)
	imagePath := filepath.Join(variantDir, imageFileName)

	source, err := os.ReadFile(v.SourcePath)
	if err != nil {
		return BuildArtifact{}, fmt.Errorf("read source for %s: %w", v.Name, err)
	}
	sourceDigest := digest.FromBytes(source)

	if image, ok := b.cachedImage(variantDir, imagePath, sourceDigest); ok {
		logger.Debug("source unchanged, reusing built image", "digest", sourceDigest)
		fmt.Fprintf(&log, "reused %s (source digest %s unchanged)\n", imagePath, sourceDigest)
		return b.finish(ctx, v, image, imagePath, &log, logger)
	}

	if err := os.MkdirAll(variantDir, 0o755); err != nil {
		return BuildArtifact{}, fmt.Errorf("create output directory %s: %w", variantDir, err)
	}

	payloadPath := filepath.Join(variantDir, "payload.bin")
	logger.Info("assembling", "source", v.SourcePath)
	payload, err := b.Assembler.Assemble(ctx, v.SourcePath, payloadPath)
	if err != nil {
		var asmErr *AssemblyError
		if errors.As(err, &asmErr) {
			asmErr.Variant = v.Name
		}
		return BuildArtifact{}, err
	}
	fmt.Fprintf(&log, "assembled %s (%d bytes)\n", v.SourcePath, len(payload))

	// NASM emits a full sector when the source pads itself with the
	// signature; strip it so the size check sees the payload alone.
	if len(payload) == SectorSize && payload[SectorSize-2] == BootSignature[0] && payload[SectorSize-1] == BootSignature[1] {
		payload = trimSealedPayload(payload)
	}

	if len(payload) > PayloadSize {
		_ = os.Remove(payloadPath)
		_ = os.Remove(imagePath)
		return BuildArtifact{}, &OversizeError{Variant: v.Name, Size: len(payload)}
	}

	image := SealImage(payload)
	if err := os.WriteFile(imagePath, image, 0o644); err != nil {
		return BuildArtifact{}, fmt.Errorf("write boot image %s: %w", imagePath, err)
	}
	if err := os.WriteFile(filepath.Join(variantDir, digestFileName), []byte(sourceDigest.String()), 0o644); err != nil {
		return BuildArtifact{}, fmt.Errorf("record source digest: %w", err)
	}
	_ = os.Remove(payloadPath)
	fmt.Fprintf(&log, "wrote %s (%d bytes, boot signature sealed)\n", imagePath, len(image))
	logger.Info("boot image written", "path", imagePath)

	return b.finish(ctx, v, image, imagePath, &log, logger)
}

func (b *Builder) finish(ctx context.Context, v registry.Variant, image []byte, imagePath string, log *strings.Builder, logger *slog.Logger) (BuildArtifact, error) {
	if v.NativeHelper && b.Helper != nil {
		helperPath, err := b.Helper.Compile(ctx, v.Name, image, filepath.Join(b.OutputDir, v.Name))
		if err != nil {
			return BuildArtifact{}, fmt.Errorf("native helper for %s: %w", v.Name, err)
		}
		fmt.Fprintf(log, "compiled native helper %s\n", helperPath)
		logger.Info("native helper compiled", "path", helperPath)
	}

	artifact := BuildArtifact{
		Variant:    v,
		ImageBytes: image,
		ImagePath:  imagePath,
		BuildLog:   log.String(),
	}
	if !artifact.Valid() {
		return BuildArtifact{}, fmt.Errorf("built image for %s violates the boot sector invariant", v.Name)
	}
	return artifact, nil
}

// cachedImage returns the previously built image when the recorded source
// digest matches and the image still satisfies the sector invariant.
func (b *Builder) cachedImage(variantDir, imagePath string, sourceDigest digest.Digest) ([]byte, bool) {
	recorded, err := os.ReadFile(filepath.Join(variantDir, digestFileName))
	if err != nil || strings.TrimSpace(string(recorded)) != sourceDigest.String() {
		return nil, false
	}
	image, err := os.ReadFile(imagePath)
	if err != nil || !ValidImage(image) {
		return nil, false
	}
	return image, true
}

func trimSealedPayload(image []byte) []byte {
	end := PayloadSize
	for end > 0 && image[end-1] == 0 {
		end--
	}
	return image[:end]
}
