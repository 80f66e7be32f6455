package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/shardlab/shardctl/common/topology"
)

const DefaultFileName = "shardctl-manifest.yaml"

type FileStore struct {
	path string
}

var _ Store = (*FileStore)(nil)

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Save(ctx context.Context, topo *topology.Topology) error {
	data, err := yaml.Marshal(topo)
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(s.path), 0o755)
	if err != nil {
		return err
	}

	// write then rename so a crash never leaves half a manifest behind
	tmpPath := s.path + ".tmp"
	err = os.WriteFile(tmpPath, data, 0o644)
	if err != nil {
		return err
	}

	return os.Rename(tmpPath, s.path)
}

func (s *FileStore) Load(ctx context.Context) (*topology.Topology, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}

	var topo topology.Topology
	err = yaml.Unmarshal(data, &topo)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", s.path, err)
	}

	err = topo.Validate()
	if err != nil {
		return nil, err
	}

	return &topo, nil
}

func (s *FileStore) Delete(ctx context.Context) error {
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
