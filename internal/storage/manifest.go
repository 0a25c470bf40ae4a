package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultManifestMaxFiles bounds the manifest when no size is configured.
const DefaultManifestMaxFiles = 30

// ManifestPath is the manifest location relative to the output root.
var ManifestPath = filepath.Join("manifests", "index.json")

// Manifest is the document downstream consumers read.
type Manifest struct {
	Files []string `json:"files"`
}

type partitionFile struct {
	rel     string // slash-separated, relative to the output root
	day     time.Time
	dated   bool
	modTime time.Time
}

// older orders partitions oldest first. Files whose name carries no day rank
// below every dated file and among themselves by modification time.
func (p partitionFile) older(q partitionFile) bool {
	if p.dated != q.dated {
		return !p.dated
	}
	if p.dated && !p.day.Equal(q.day) {
		return p.day.Before(q.day)
	}
	if !p.modTime.Equal(q.modTime) {
		return p.modTime.Before(q.modTime)
	}
	return p.rel < q.rel
}

// ManifestBuilder recomputes the manifest from the partitions on disk.
type ManifestBuilder struct {
	root     string
	baseURL  string
	maxFiles int
}

func NewManifestBuilder(root, baseURL string, maxFiles int) *ManifestBuilder {
	if maxFiles <= 0 {
		maxFiles = DefaultManifestMaxFiles
	}
	return &ManifestBuilder{
		root:     root,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxFiles: maxFiles,
	}
}

// Path is the absolute manifest file location.
func (b *ManifestBuilder) Path() string {
	return filepath.Join(b.root, ManifestPath)
}

// Build scans the partition tree, keeps the newest partitions in ascending
// date order and replaces the manifest file with them.
func (b *ManifestBuilder) Build() (*Manifest, error) {
	parts, err := b.scan()
	if err != nil {
		return nil, err
	}

	sort.SliceStable(parts, func(i, j int) bool { return parts[i].older(parts[j]) })
	if len(parts) > b.maxFiles {
		parts = parts[len(parts)-b.maxFiles:]
	}

	m := &Manifest{Files: make([]string, 0, len(parts))}
	for _, p := range parts {
		m.Files = append(m.Files, b.location(p.rel))
	}

	if err := b.write(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (b *ManifestBuilder) location(rel string) string {
	if b.baseURL == "" {
		return rel
	}
	return b.baseURL + "/" + rel
}

func (b *ManifestBuilder) scan() ([]partitionFile, error) {
	dir := filepath.Join(b.root, PartitionDir)
	var parts []partitionFile

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		name := d.Name()
		if d.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, partitionExt) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(b.root, path)
		if err != nil {
			return err
		}

		p := partitionFile{rel: filepath.ToSlash(rel), modTime: info.ModTime()}
		if day, err := time.Parse(time.DateOnly, strings.TrimSuffix(name, partitionExt)); err == nil {
			p.day = day
			p.dated = true
		}
		parts = append(parts, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning partitions: %w", err)
	}
	return parts, nil
}

func (b *ManifestBuilder) write(m *Manifest) error {
	path := b.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating manifest dir: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest file.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return &m, nil
}
