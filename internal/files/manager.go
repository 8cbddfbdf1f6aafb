package files

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"econetl/internal/config"
	"econetl/internal/validation"
)

// Manager writes and reads layer artifacts
type Manager struct {
	paths  config.DataPaths
	logger *slog.Logger
}

// NewManager creates a new artifact manager over the given layer directories
func NewManager(paths config.DataPaths, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		paths:  paths,
		logger: logger.With(slog.String("component", "files")),
	}
}

// Paths returns the layer directories
func (m *Manager) Paths() config.DataPaths {
	return m.paths
}

// EnsureLayers creates every layer directory and checks it is writable
func (m *Manager) EnsureLayers() error {
	if err := m.paths.EnsureDirectories(); err != nil {
		return err
	}
	v := validation.NewFileValidator(m.logger)
	for _, layer := range []config.Layer{config.LayerBronze, config.LayerSilver, config.LayerGold} {
		if err := v.ValidateOutputDirectory(m.paths.Dir(layer)); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the full path of an artifact in a layer
func (m *Manager) Path(layer config.Layer, name string) string {
	return filepath.Join(m.paths.Dir(layer), name)
}

// WriteAtomic streams an artifact into layer under name. The file only
// appears under its final name once write returned and the content is synced.
func (m *Manager) WriteAtomic(layer config.Layer, name string, write func(io.Writer) error) (string, error) {
	dir := m.paths.Dir(layer)
	if dir == "" {
		return "", fmt.Errorf("no directory configured for layer %s", layer)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	buf := bufio.NewWriter(tmp)
	if err := write(buf); err != nil {
		return "", err
	}
	if err := buf.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", name, err)
	}

	finalPath := filepath.Join(dir, name)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("failed to move %s into place: %w", name, err)
	}
	committed = true

	if info, err := os.Stat(finalPath); err == nil {
		m.logger.Debug("artifact_written",
			slog.String("layer", string(layer)),
			slog.String("path", finalPath),
			slog.Int64("size_bytes", info.Size()))
	}
	return finalPath, nil
}

// WriteJSON writes v as an indented JSON artifact
func (m *Manager) WriteJSON(layer config.Layer, name string, v interface{}) (string, error) {
	return m.WriteAtomic(layer, name, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode %s: %w", name, err)
		}
		return nil
	})
}

// ReadJSON decodes the JSON artifact at path into v
func ReadJSON(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := json.NewDecoder(bufio.NewReader(f)).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// FileExists checks if a file exists at the given path
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
