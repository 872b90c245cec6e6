package zipd

import (
	"context"
	"io"
)

// Vault is an off-site store receiving a copy of every archive produced.
// Keys are slash-separated paths relative to the watched root, e.g.
// "batch-01/run-7.zip" (".age" is appended when the copy is encrypted).
type Vault interface {
	// PutArchive stores the stream under key, replacing any previous object.
	PutArchive(ctx context.Context, key string, r io.Reader) error

	// GetArchive writes the object stored under key to w.
	GetArchive(ctx context.Context, key string, w io.Writer) error

	// ValidateSetup verifies that the vault is reachable and writable.
	ValidateSetup(ctx context.Context) error
}
