package port

import "context"

// Archiver bundles produced artifacts into a single downloadable file.
type Archiver interface {
	CreateArchive(ctx context.Context, filePaths []string, outputPath string) error
}
