package download

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nhle/emailflesh/internal/model"
)

const (
	outputDirMode  = 0o755
	outputFileMode = 0o644
)

// accountDir returns <destination>/<local part of account>.
func accountDir(destination, account string) string {
	return filepath.Join(destination, model.AccountLocalPart(account))
}

// writeAttachment stores part under dir, replacing any file of the same
// name. The filename is expected to be a single path element already.
func writeAttachment(dir string, part model.AttachmentPart) (string, error) {
	path := filepath.Join(dir, part.Filename)
	if filepath.Dir(path) != filepath.Clean(dir) {
		return "", fmt.Errorf("attachment name %q escapes %s", part.Filename, dir)
	}

	if err := os.WriteFile(path, part.Payload, outputFileMode); err != nil {
		return "", fmt.Errorf("writing attachment %s: %w", path, err)
	}
	return path, nil
}
