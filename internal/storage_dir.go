package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DirStorage is a StorageGateway over a local directory that mirrors the
// bucket layout. It backs development setups without an object store.
type DirStorage struct {
	Root string
}

func (d *DirStorage) resolve(key string) (string, error) {
	p := filepath.Join(d.Root, filepath.FromSlash(key))
	rel, err := filepath.Rel(d.Root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes storage root", key)
	}
	return p, nil
}

func (d *DirStorage) Download(ctx context.Context, key, localPath string, onProgress DownloadProgressFunc) (string, error) {
	src, err := d.resolve(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorageDownload, err)
	}
	in, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: object %q does not exist", ErrStorageDownload, key)
	} else if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorageDownload, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorageDownload, err)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorageDownload, err)
	}
	out, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorageDownload, err)
	}
	reader := &progressReader{r: in, total: info.Size(), onProgress: onProgress, lastPercent: -1}
	_, copyErr := io.Copy(out, ctxReader{ctx: ctx, r: reader})
	if err := errors.Join(copyErr, out.Close()); err != nil {
		os.Remove(localPath)
		return "", fmt.Errorf("%w: transfer of %q interrupted: %w", ErrStorageDownload, key, err)
	}
	return localPath, nil
}

func (d *DirStorage) UploadTree(ctx context.Context, localDir, remotePrefix string, onProgress UploadProgressFunc) (UploadResult, error) {
	files, totalBytes, err := listTree(localDir)
	if err != nil {
		return UploadResult{}, fmt.Errorf("%w: %w", ErrStorageUpload, err)
	}
	progress := UploadProgress{TotalCount: len(files), TotalBytes: totalBytes}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return UploadResult{UploadedCount: progress.UploadedCount, TotalBytes: progress.UploadedBytes},
				fmt.Errorf("%w: %w", ErrStorageUpload, err)
		}
		dest, err := d.resolve(remotePrefix + "/" + f.rel)
		if err == nil {
			err = copyFile(f.path, dest)
		}
		if err != nil {
			return UploadResult{UploadedCount: progress.UploadedCount, TotalBytes: progress.UploadedBytes},
				fmt.Errorf("%w: %s: %w", ErrStorageUpload, f.rel, err)
		}
		progress.UploadedCount++
		progress.UploadedBytes += f.size
		if onProgress != nil {
			onProgress(progress)
		}
	}
	return UploadResult{UploadedCount: progress.UploadedCount, TotalBytes: progress.UploadedBytes}, nil
}

func (d *DirStorage) Verify(ctx context.Context, remotePath string) (bool, error) {
	p, err := d.resolve(remotePath)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (d *DirStorage) Delete(ctx context.Context, key string) error {
	p, err := d.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// copyFile copies a file from src to dst, creating parent directories.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}
	return dstFile.Close()
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
