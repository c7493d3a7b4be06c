package internal

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DownloadProgressFunc receives transfer progress for a download. total is
// -1 when the object size is unknown.
type DownloadProgressFunc func(percent int, loaded, total int64)

// UploadProgress is reported after each file of an UploadTree call.
type UploadProgress struct {
	UploadedCount int
	TotalCount    int
	UploadedBytes int64
	TotalBytes    int64
}

type UploadProgressFunc func(UploadProgress)

// UploadResult summarizes an UploadTree call. Skipped is set when another
// upload for the same prefix was already running and nothing was sent.
type UploadResult struct {
	UploadedCount int
	TotalBytes    int64
	Skipped       bool
}

// StorageGateway moves files between the local work directory and the
// remote object store.
type StorageGateway interface {
	// Download copies the object at key to localPath and returns localPath.
	Download(ctx context.Context, key, localPath string, onProgress DownloadProgressFunc) (string, error)
	// UploadTree uploads every file below localDir to remotePrefix, keeping
	// relative paths.
	UploadTree(ctx context.Context, localDir, remotePrefix string, onProgress UploadProgressFunc) (UploadResult, error)
	// Verify reports whether the object at remotePath exists.
	Verify(ctx context.Context, remotePath string) (bool, error)
}

// Deleter is implemented by gateways that can remove a remote object.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

var mimeTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".vtt":  "text/vtt",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".mp4":  "video/mp4",
}

const defaultContentType = "application/octet-stream"

// ContentType infers the upload content type from a file extension.
func ContentType(name string) string {
	if t, ok := mimeTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}
	return defaultContentType
}

// RemoteOutputPrefix is the remote folder holding a video's HLS package.
func RemoteOutputPrefix(videoID string) string {
	return path.Join("streams", videoID)
}

type localFile struct {
	path string
	rel  string
	size int64
}

// listTree returns every regular file below root in lexical order.
func listTree(root string) ([]localFile, int64, error) {
	var files []localFile
	var total int64
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, localFile{path: p, rel: filepath.ToSlash(rel), size: info.Size()})
		total += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list %s: %w", root, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, total, nil
}

// GuardedStorage allows one UploadTree per remote prefix at a time. A second
// call for a prefix that is already uploading returns a skipped result
// immediately; other prefixes are not blocked.
type GuardedStorage struct {
	StorageGateway

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewGuardedStorage(inner StorageGateway) *GuardedStorage {
	return &GuardedStorage{StorageGateway: inner, inFlight: make(map[string]struct{})}
}

func (g *GuardedStorage) tryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[key]; busy {
		return false
	}
	g.inFlight[key] = struct{}{}
	return true
}

func (g *GuardedStorage) release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, key)
}

func (g *GuardedStorage) UploadTree(ctx context.Context, localDir, remotePrefix string, onProgress UploadProgressFunc) (UploadResult, error) {
	key := path.Clean(remotePrefix)
	if !g.tryAcquire(key) {
		return UploadResult{Skipped: true}, nil
	}
	defer g.release(key)
	return g.StorageGateway.UploadTree(ctx, localDir, remotePrefix, onProgress)
}

// Delete forwards to the wrapped gateway when it supports deletion.
func (g *GuardedStorage) Delete(ctx context.Context, key string) error {
	d, ok := g.StorageGateway.(Deleter)
	if !ok {
		return fmt.Errorf("storage gateway does not support delete")
	}
	return d.Delete(ctx, key)
}

// NewStorageGateway returns a DirStorage when cfg.Dir is set and an
// S3Storage otherwise.
func NewStorageGateway(ctx context.Context, cfg *StorageConfig) (StorageGateway, error) {
	if cfg.Dir != "" {
		return &DirStorage{Root: cfg.Dir}, nil
	}
	return NewS3Storage(ctx, cfg)
}
