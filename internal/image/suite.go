package image

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kdomanski/iso9660"

	"github.com/sectorlab/mbrlab/internal/builder"
	"github.com/sectorlab/mbrlab/internal/logging"
)

// Suite is the persisted output of a create-images run: one raw disk per
// variant plus a companion ISO bundling the boot images and build logs.
type Suite struct {
	Dir    string
	Images []DiskImage
	ISO    string
}

// BuildSuite composes a persistent disk image for every artifact under dir
// and writes a companion ISO alongside them.
func BuildSuite(dir string, artifacts []builder.BuildArtifact, sizeBytes int64, logger *slog.Logger) (Suite, error) {
	logger = logging.Ensure(logger).With("suite_dir", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Suite{}, fmt.Errorf("create suite directory %s: %w", dir, err)
	}

	suite := Suite{Dir: dir}
	for _, artifact := range artifacts {
		path := filepath.Join(dir, artifact.Variant.Name+".img")
		disk, err := Compose(artifact, sizeBytes, path)
		if err != nil {
			return Suite{}, fmt.Errorf("compose suite image for %s: %w", artifact.Variant.Name, err)
		}
		logger.Info("suite image written", "variant", artifact.Variant.Name, "path", path)
		suite.Images = append(suite.Images, disk)
	}

	isoPath := filepath.Join(dir, "boot-images.iso")
	if err := writeCompanionISO(isoPath, artifacts); err != nil {
		return Suite{}, err
	}
	logger.Info("companion iso written", "path", isoPath)
	suite.ISO = isoPath

	return suite, nil
}

func writeCompanionISO(path string, artifacts []builder.BuildArtifact) error {
	writer, err := iso9660.NewWriter()
	if err != nil {
		return fmt.Errorf("create iso writer: %w", err)
	}
	defer writer.Cleanup()

	for _, artifact := range artifacts {
		name := artifact.Variant.Name
		dir := isoDirectoryName(name)
		if err := writer.AddFile(bytes.NewReader(artifact.ImageBytes), dir+"/boot.img"); err != nil {
			return fmt.Errorf("stage %s boot image: %w", name, err)
		}
		if artifact.BuildLog != "" {
			if err := writer.AddFile(strings.NewReader(artifact.BuildLog), dir+"/build.log"); err != nil {
				return fmt.Errorf("stage %s build log: %w", name, err)
			}
		}
	}

	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create iso file: %w", err)
	}
	if err := writer.WriteTo(out, volumeLabel("MBRLAB_SUITE")); err != nil {
		out.Close()
		_ = os.Remove(path)
		return fmt.Errorf("write iso: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("finalize iso: %w", err)
	}
	return nil
}

const isoDirectoryMaxLength = 31

// isoCharacters is the D-string character set accepted by
// github.com/kdomanski/iso9660. Staging paths through this set up front
// keeps the directory names inside the ISO identical to the variant names
// a reader expects.
const isoCharacters = "abcdefghijklmnopqrstuvwxyz0123456789_!\"%&'()*+,-./:;<=>?"

func isoDirectoryName(name string) string {
	name = strings.ToLower(name)
	var b strings.Builder
	for i := 0; i < len(name) && b.Len() < isoDirectoryMaxLength; i++ {
		c := rune(name[i])
		if strings.ContainsRune(isoCharacters, c) {
			b.WriteRune(c)
		} else {
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "variant"
	}
	return b.String()
}

func volumeLabel(label string) string {
	const maxLen = 32

	var b strings.Builder
	for _, r := range strings.ToUpper(label) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
		if b.Len() >= maxLen {
			break
		}
	}
	if b.Len() == 0 {
		return "MBRLAB"
	}
	return b.String()
}
