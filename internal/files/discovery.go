package files

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"econetl/internal/config"
)

// FileInfo represents information about a discovered artifact
type FileInfo struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// Discovery lists artifacts stored in the layer directories
type Discovery struct {
	paths config.DataPaths
}

// NewDiscovery creates a new artifact discovery instance
func NewDiscovery(paths config.DataPaths) *Discovery {
	return &Discovery{paths: paths}
}

// FindArtifacts lists the artifacts of a layer whose names start with prefix
// and end with ext. Temporary files are skipped. Results are ordered by name,
// which orders artifacts of one prefix by their timestamp.
func (d *Discovery) FindArtifacts(layer config.Layer, prefix, ext string) ([]FileInfo, error) {
	dir := d.paths.Dir(layer)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []FileInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(strings.ToLower(name), ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Path:    filepath.Join(dir, name),
			Name:    name,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})
	return files, nil
}

// FindLatest returns the newest artifact of a layer matching prefix and ext
func (d *Discovery) FindLatest(layer config.Layer, prefix, ext string) (FileInfo, bool, error) {
	files, err := d.FindArtifacts(layer, prefix, ext)
	if err != nil {
		return FileInfo{}, false, err
	}
	latest, ok := GetLatestFile(files)
	return latest, ok, nil
}

// GetLatestFile returns the most recently modified file from a list
func GetLatestFile(files []FileInfo) (FileInfo, bool) {
	if len(files) == 0 {
		return FileInfo{}, false
	}

	latest := files[0]
	for _, file := range files[1:] {
		if file.ModTime.After(latest.ModTime) ||
			(file.ModTime.Equal(latest.ModTime) && file.Name > latest.Name) {
			latest = file
		}
	}
	return latest, true
}
