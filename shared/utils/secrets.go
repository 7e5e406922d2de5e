package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SecretsDir is where Docker secrets are mounted.
var SecretsDir = "/run/secrets"

// ReadSecret reads a Docker secret file by name.
func ReadSecret(secretName string) (string, error) {
	filePath := filepath.Join(SecretsDir, secretName)
	secretBytes, err := os.ReadFile(filePath)
	if err != nil {
		// Не добавляем fallback на env var, чтобы поведение было консистентным
		return "", fmt.Errorf("failed to read secret file %s: %w", filePath, err)
	}
	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", filePath)
	}
	return secret, nil
}
