package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360/gesturegate/errors"
)

// Limits on untrusted configuration input. Layers are hand-written and small.
const (
	maxLayerSize   = 1 << 20
	maxLayerDepth  = 32
	maxEnvValueLen = 4096
	maxPathLen     = 4096
)

// checkLayerPath accepts .json, .yaml and .yml files. Relative paths must stay
// inside the working directory.
func checkLayerPath(path string) error {
	switch {
	case path == "":
		return fmt.Errorf("%w: empty layer path", errors.ErrInvalidConfig)
	case len(path) > maxPathLen:
		return fmt.Errorf("%w: layer path longer than %d", errors.ErrInvalidConfig, maxPathLen)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
	default:
		return fmt.Errorf("%w: %s is not a JSON or YAML file", errors.ErrInvalidConfig, path)
	}

	if filepath.IsAbs(path) {
		return nil
	}
	rel := filepath.Clean(path)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s resolves outside the working directory", errors.ErrInvalidConfig, path)
	}
	return nil
}

// readLayer reads a regular file of at most maxLayerSize bytes
func readLayer(path string) ([]byte, error) {
	if err := checkLayerPath(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", errors.ErrInvalidConfig, path)
	}

	data, err := io.ReadAll(io.LimitReader(f, maxLayerSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxLayerSize {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", errors.ErrInvalidConfig, path, maxLayerSize)
	}
	return data, nil
}

// checkEnvValue rejects oversized values and embedded NUL bytes
func checkEnvValue(key, value string) error {
	if len(value) > maxEnvValueLen {
		return fmt.Errorf("%w: %s longer than %d", errors.ErrInvalidConfig, key, maxEnvValueLen)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("%w: %s contains a NUL byte", errors.ErrInvalidConfig, key)
	}
	return nil
}

// checkDepth walks a decoded layer and rejects nesting deeper than maxLayerDepth
func checkDepth(v any, depth int) error {
	if depth > maxLayerDepth {
		return fmt.Errorf("%w: nesting deeper than %d", errors.ErrInvalidConfig, maxLayerDepth)
	}
	switch node := v.(type) {
	case map[string]any:
		for _, child := range node {
			if err := checkDepth(child, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range node {
			if err := checkDepth(child, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
