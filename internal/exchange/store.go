// Package exchange reads shared files and persists received ones.
package exchange

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rudransh-shrivastava/swapbytes/internal/protocol"
	"github.com/schollz/progressbar/v3"
)

type Config struct {
	// Root resolves relative resource names and receives downloaded files.
	Root string
	// Progress, when set, receives a progress bar while a file is saved.
	Progress io.Writer
	Logger   *slog.Logger
}

type Store struct {
	root     string
	progress io.Writer
	logger   *slog.Logger
}

func NewStore(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	root := cfg.Root
	if root == "" {
		root = "."
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating exchange root: %w", err)
	}

	return &Store{
		root:     root,
		progress: cfg.Progress,
		logger:   logger,
	}, nil
}

func (s *Store) Root() string {
	return s.root
}

// Resolve maps a resource name to a path. Names are used as given; a name
// that leaves the root is logged but still served.
func (s *Store) Resolve(resource string) string {
	path := resource
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, resource)
	}

	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		s.logger.Warn("Resource outside exchange root", "resource", resource, "root", s.root)
	}
	return path
}

func (s *Store) Read(resource string) ([]byte, error) {
	return os.ReadFile(s.Resolve(resource))
}

// ReadOrEmpty returns the resource contents, or an empty payload when the
// resource cannot be read.
func (s *Store) ReadOrEmpty(resource string) []byte {
	data, err := s.Read(resource)
	if err != nil {
		s.logger.Warn("Failed to read requested file, sending empty payload", "resource", resource, "error", err)
		return []byte{}
	}
	return data
}

// ReceivedPath is where a file received under name is written.
func (s *Store) ReceivedPath(name string) string {
	return filepath.Join(s.root, protocol.ReceivedFilePrefix+ExtractFileName(name))
}

// SaveReceived writes data under the "new_" prefixed name and returns the
// path written.
func (s *Store) SaveReceived(name string, data []byte) (string, error) {
	path := s.ReceivedPath(name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var w io.Writer = f
	if s.progress != nil {
		bar := progressbar.NewOptions64(
			int64(len(data)),
			progressbar.OptionSetWriter(s.progress),
			progressbar.OptionSetDescription("saving "+filepath.Base(path)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
		defer func() { _ = bar.Finish() }()
		w = io.MultiWriter(f, bar)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:])
}

func ExtractFileName(path string) string {
	name := filepath.Base(filepath.Clean("/" + path))
	if name == "/" || name == "." {
		return "file"
	}
	return name
}
