package systemd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CheckUnitFile compares the unit at unitPath against the install-time hash
// stored at hashPath. It returns a warning when the unit was modified, or
// "" when integrity holds or checking is not applicable (no unit or no
// stored hash).
func CheckUnitFile(unitPath, hashPath string) string {
	if _, err := os.Stat(unitPath); err != nil {
		return ""
	}
	stored, err := os.ReadFile(hashPath)
	if err != nil {
		return ""
	}
	expected := strings.TrimSpace(string(stored))
	if len(expected) != sha256.Size*2 {
		return ""
	}

	actual, err := hashFile(unitPath)
	if err != nil {
		return fmt.Sprintf("cannot read unit file %s: %v", unitPath, err)
	}
	if actual == expected {
		return ""
	}
	return fmt.Sprintf("systemd unit file %s has been modified since installation (expected %s, got %s)",
		unitPath, expected[:16], actual[:16])
}

// RecordUnitHash writes the SHA-256 of the unit at unitPath to hashPath.
func RecordUnitHash(unitPath, hashPath string) error {
	h, err := hashFile(unitPath)
	if err != nil {
		return fmt.Errorf("systemd: hash unit: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(hashPath), 0o700); err != nil {
		return fmt.Errorf("systemd: create hash dir: %w", err)
	}
	return os.WriteFile(hashPath, []byte(h+"\n"), 0o600)
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:]), nil
}
