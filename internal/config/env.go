package config

import (
	"errors"
	"io/fs"
	"log"

	"github.com/joho/godotenv"
)

// LoadEnvFile reads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is silently ignored;
// a malformed one is logged and skipped whole.
func LoadEnvFile(path string) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[Config] Failed to load environment from %s: %v", path, err)
	}
}
