// Package dotenv seeds the process environment from .env files before the
// gateway reads its configuration.
package dotenv

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// FilesFor lists the files to load for a deployment environment, most
// specific first: ".env.<env>" then ".env".
func FilesFor(env string) []string {
	env = strings.ToLower(strings.TrimSpace(env))
	if env == "" {
		return []string{".env"}
	}
	return []string{".env." + env, ".env"}
}

// Load reads each existing file in order. Variables already in the
// environment win, and so does the first file that sets a key. Missing files
// are skipped.
func Load(paths ...string) error {
	for _, path := range paths {
		if err := LoadFile(path); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile loads a single file with the same rules as Load.
func LoadFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file %q: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}
