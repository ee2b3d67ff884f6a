package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// DefaultDotEnv is the .env file read from the working directory.
const DefaultDotEnv = ".env"

// LoadDotEnv applies KEY=VALUE pairs from path to the environment. Variables
// already set are left untouched. A missing file is not an error.
func LoadDotEnv(path string, log *slog.Logger) error {
	if path == "" {
		path = DefaultDotEnv
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		log.Debug("config: no .env file found", slog.String("path", path))
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	log.Info("config: loaded .env file", slog.String("path", path))
	return nil
}
