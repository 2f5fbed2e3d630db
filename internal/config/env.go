package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// SessionEnv carries an externally supplied credentials blob.
const SessionEnv = "GROUPBOT_SESSION"

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env") into the
// process environment. Variables already set are never overwritten and missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overlays GROUPBOT_* variables on top of cfg. Unset variables keep the file value.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	_, err := env.UnmarshalFromEnviron(cfg)
	return err
}

// ApplyEnvSet is ApplyEnv with an explicit variable set (tests, embedding).
func ApplyEnvSet(cfg *Config, vars map[string]string) error {
	if cfg == nil {
		return nil
	}
	es := make(env.EnvSet, len(vars))
	for k, v := range vars {
		es[k] = v
	}
	return env.Unmarshal(es, cfg)
}

// SeedSession returns the externally supplied credentials blob, if any.
func SeedSession() ([]byte, bool) {
	v, ok := os.LookupEnv(SessionEnv)
	if !ok || strings.TrimSpace(v) == "" {
		return nil, false
	}
	return []byte(v), true
}
