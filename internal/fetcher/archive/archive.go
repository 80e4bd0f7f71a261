// Package archive decorates a check.Fetcher with best-effort persistence of
// raw preview bodies for later audit.
package archive

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ikun245/telegram-linkstools/internal/check"
)

const contentType = "text/html; charset=utf-8"

// Fetcher wraps an inner fetcher and uploads each fetched body to a blob
// store, keyed by content hash. Upload failures never fail the fetch; the
// check result matters more than the audit copy.
type Fetcher struct {
	inner  check.Fetcher
	blobs  check.BlobStore
	hasher check.Hasher
	prefix string
	logger *zap.Logger
}

// New builds the decorator. A nil blob store returns the inner fetcher
// unchanged so callers do not pay for a no-op hop.
func New(inner check.Fetcher, blobs check.BlobStore, hasher check.Hasher, prefix string, logger *zap.Logger) check.Fetcher {
	if blobs == nil {
		return inner
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		inner:  inner,
		blobs:  blobs,
		hasher: hasher,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// Fetch delegates to the inner fetcher and archives the body on success.
func (f *Fetcher) Fetch(ctx context.Context, canonical string) (check.Preview, error) {
	preview, err := f.inner.Fetch(ctx, canonical)
	if err != nil {
		return preview, err
	}
	if len(preview.Body) == 0 {
		return preview, nil
	}

	hash, err := f.hasher.Hash(preview.Body)
	if err != nil {
		f.logger.Warn("hash preview body failed", zap.String("address", canonical), zap.Error(err))
		return preview, nil
	}
	path := fmt.Sprintf("%s.html", hash)
	if f.prefix != "" {
		path = fmt.Sprintf("%s/%s.html", f.prefix, hash)
	}
	uri, err := f.blobs.PutObject(ctx, path, contentType, preview.Body)
	if err != nil {
		f.logger.Warn("archive preview body failed", zap.String("address", canonical), zap.Error(err))
		return preview, nil
	}
	f.logger.Debug("preview archived", zap.String("address", canonical), zap.String("uri", uri))
	return preview, nil
}
