package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// ChecksumSuffix is appended to a boot file path to find its checksum sidecar.
const ChecksumSuffix = ".b3"

// Blake3Hex returns the hex-encoded BLAKE3-256 digest of data.
func Blake3Hex(data []byte) string {
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return Blake3Hex(data), nil
}

// ChecksumPath returns the sidecar path for configPath.
func ChecksumPath(configPath string) string {
	return configPath + ChecksumSuffix
}

// VerifyChecksumFile checks data against the sidecar of configPath, if one exists.
// The sidecar holds the hex digest, optionally followed by whitespace and a file name.
func VerifyChecksumFile(configPath string, data []byte) error {
	raw, err := os.ReadFile(ChecksumPath(configPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read checksum: %w", err)
	}

	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return fmt.Errorf("checksum file %s is empty", filepath.Base(ChecksumPath(configPath)))
	}
	expected := strings.ToLower(fields[0])
	actual := Blake3Hex(data)
	if actual != expected {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(configPath), expected, actual)
	}
	return nil
}

// WriteChecksum writes the sidecar for configPath and returns the digest.
func WriteChecksum(configPath string) (string, error) {
	digest, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return "", err
	}
	line := fmt.Sprintf("%s  %s\n", digest, filepath.Base(configPath))
	if err := os.WriteFile(ChecksumPath(configPath), []byte(line), 0o644); err != nil {
		return "", fmt.Errorf("failed to write checksum: %w", err)
	}
	return digest, nil
}
