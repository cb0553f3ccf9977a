package hub

import (
	"fmt"
	"os"
	"path/filepath"

	hfhub "github.com/gomlx/go-huggingface/hub"
)

// Source yields a model's files regardless of where the model lives. The
// loader resolves one Source per model identifier; everything downstream
// asks it for files by their canonical repo-relative name.
type Source interface {
	// ReadFile returns the contents of a model file.
	ReadFile(name string) ([]byte, error)
	// Path returns a local filesystem path for a model file, downloading
	// it first when the model lives on the hub.
	Path(name string) (string, error)
	// Repo exposes the underlying hub handle for collaborators that
	// resolve their own files, like the tokenizer loader.
	Repo() *hfhub.Repo
}

// dirSource serves a model from a local directory.
type dirSource struct {
	dir string
}

func (s *dirSource) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.dir, name))
}

func (s *dirSource) Path(name string) (string, error) {
	p := filepath.Join(s.dir, name)
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("model file %s: %w", name, err)
	}
	return p, nil
}

func (s *dirSource) Repo() *hfhub.Repo {
	// go-huggingface resolves an existing directory as a local snapshot.
	return hfhub.New(s.dir)
}

// repoSource serves a model from the hub, caching downloads on disk.
type repoSource struct {
	id   string
	repo *hfhub.Repo
}

func (s *repoSource) ReadFile(name string) ([]byte, error) {
	p, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

func (s *repoSource) Path(name string) (string, error) {
	p, err := s.repo.DownloadFile(name)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", name, err)
	}
	return p, nil
}

func (s *repoSource) Repo() *hfhub.Repo { return s.repo }
