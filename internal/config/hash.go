package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const fingerprintPrefix = "blake3:"

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Fingerprint digests the effective configuration, after interpolation and
// defaults, so two runs can be compared from their logs.
func Fingerprint(cfg *Config) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	hash := blake3.Sum256(data)
	return fingerprintPrefix + hex.EncodeToString(hash[:]), nil
}

// CommandFingerprint digests a command string for the audit log.
func CommandFingerprint(command string) string {
	hash := blake3.Sum256([]byte(command))
	return fingerprintPrefix + hex.EncodeToString(hash[:])
}
