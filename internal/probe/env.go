package probe

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Env looks up environment variables.
type Env interface {
	Lookup(key string) (string, bool)
}

// OSEnv reads the process environment.
type OSEnv struct{}

func (OSEnv) Lookup(key string) (string, bool) { return os.LookupEnv(key) }

// MapEnv is a fixed set of variables.
type MapEnv map[string]string

func (m MapEnv) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Layered consults each Env in order; the first non-empty value wins.
type Layered []Env

func (l Layered) Lookup(key string) (string, bool) {
	for _, env := range l {
		if env == nil {
			continue
		}
		if v, ok := env.Lookup(key); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// LoadDotEnv reads a dotenv file. A missing file yields an empty MapEnv.
func LoadDotEnv(path string) (MapEnv, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return MapEnv{}, nil
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return MapEnv(vars), nil
}
