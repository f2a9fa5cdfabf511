package server

import (
	"context"
	_ "embed"
	"fmt"
	"os"
)

//go:embed static/client.html
var clientPage []byte

// AssetProvider supplies the document served at the root path.
type AssetProvider interface {
	Asset(ctx context.Context) ([]byte, error)
}

// AssetFunc adapts a function to AssetProvider.
type AssetFunc func(ctx context.Context) ([]byte, error)

// Asset calls f.
func (f AssetFunc) Asset(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// FileAsset reads the document from disk on every request so edits show up
// without a restart.
type FileAsset string

// Asset reads the file.
func (p FileAsset) Asset(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(string(p))
	if err != nil {
		return nil, fmt.Errorf("read asset %q: %w", string(p), err)
	}
	return data, nil
}

// EmbeddedAsset serves the client page compiled into the binary.
type EmbeddedAsset struct{}

// Asset returns the built-in page.
func (EmbeddedAsset) Asset(_ context.Context) ([]byte, error) {
	return clientPage, nil
}

// NewAssetProvider returns a FileAsset for path, or the built-in page when
// path is empty.
func NewAssetProvider(path string) AssetProvider {
	if path == "" {
		return EmbeddedAsset{}
	}
	return FileAsset(path)
}
