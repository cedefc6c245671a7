package executor

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pithecene-io/workernode/types"
)

//go:embed bundle/shim.sh
var embeddedShim []byte

var (
	extractOnce   sync.Once
	extractedPath string
	extractErr    error
)

// ShimChecksum returns the SHA-256 checksum of the embedded shim.
func ShimChecksum() string {
	hash := sha256.Sum256(embeddedShim)
	return hex.EncodeToString(hash[:])
}

// ExtractedShimPath extracts the embedded default task-runner shim to a
// temp directory on first call and returns its path on every call. Used
// by the ExecPlan fallback builder when no plugin or explicit entry-point
// interpreter resolves an entry point (spec §4.4 expansion).
func ExtractedShimPath() (string, error) {
	extractOnce.Do(func() {
		extractedPath, extractErr = extractShim()
	})
	return extractedPath, extractErr
}

func extractShim() (string, error) {
	checksum := ShimChecksum()[:16]
	dirName := fmt.Sprintf("workernode-shim-%s-%s", types.Version, checksum)
	tempDir := filepath.Join(os.TempDir(), dirName)
	shimPath := filepath.Join(tempDir, "shim.sh")

	if info, err := os.Stat(shimPath); err == nil && info.Size() == int64(len(embeddedShim)) {
		return shimPath, nil
	}

	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return "", fmt.Errorf("executor: create shim dir: %w", err)
	}
	if err := os.WriteFile(shimPath, embeddedShim, 0o755); err != nil {
		return "", fmt.Errorf("executor: write shim: %w", err)
	}
	return shimPath, nil
}

// CleanupShim removes the extracted shim directory. Safe to call
// multiple times or if extraction never happened.
func CleanupShim() error {
	if extractedPath == "" {
		return nil
	}
	if err := os.RemoveAll(filepath.Dir(extractedPath)); err != nil {
		return fmt.Errorf("executor: cleanup shim: %w", err)
	}
	return nil
}
