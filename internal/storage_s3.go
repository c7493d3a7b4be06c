package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Storage is a StorageGateway backed by an S3-compatible bucket.
type S3Storage struct {
	client *s3.Client
	bucket string
}

// NewS3Storage creates an S3 client from the given StorageConfig. A custom
// endpoint switches to path-style addressing for MinIO and similar servers.
func NewS3Storage(ctx context.Context, cfg *StorageConfig) (*S3Storage, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Storage{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3Storage) Download(ctx context.Context, key, localPath string, onProgress DownloadProgressFunc) (string, error) {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorageDownload, err)
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return "", fmt.Errorf("%w: object %q does not exist", ErrStorageDownload, key)
		}
		return "", fmt.Errorf("%w: get %q: %w", ErrStorageDownload, key, err)
	}
	defer resp.Body.Close()

	total := int64(-1)
	if resp.ContentLength != nil {
		total = *resp.ContentLength
	}

	// Write to a sibling file so an interrupted transfer never leaves a
	// truncated source at localPath.
	partPath := localPath + ".part"
	dest, err := os.Create(partPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorageDownload, err)
	}
	reader := &progressReader{r: resp.Body, total: total, onProgress: onProgress, lastPercent: -1}
	_, copyErr := io.Copy(dest, reader)
	closeErr := dest.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(partPath)
		return "", fmt.Errorf("%w: transfer of %q interrupted: %w", ErrStorageDownload, key, err)
	}
	if total >= 0 && reader.loaded != total {
		os.Remove(partPath)
		return "", fmt.Errorf("%w: transfer of %q interrupted after %d of %d bytes", ErrStorageDownload, key, reader.loaded, total)
	}
	if err := os.Rename(partPath, localPath); err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorageDownload, err)
	}
	return localPath, nil
}

func (s *S3Storage) UploadTree(ctx context.Context, localDir, remotePrefix string, onProgress UploadProgressFunc) (UploadResult, error) {
	files, totalBytes, err := listTree(localDir)
	if err != nil {
		return UploadResult{}, fmt.Errorf("%w: %w", ErrStorageUpload, err)
	}

	progress := UploadProgress{TotalCount: len(files), TotalBytes: totalBytes}
	for _, f := range files {
		key := path.Join(remotePrefix, f.rel)
		if err := s.putFile(ctx, f, key); err != nil {
			return UploadResult{UploadedCount: progress.UploadedCount, TotalBytes: progress.UploadedBytes},
				fmt.Errorf("%w: put %q: %w", ErrStorageUpload, key, err)
		}
		progress.UploadedCount++
		progress.UploadedBytes += f.size
		if onProgress != nil {
			onProgress(progress)
		}
	}
	return UploadResult{UploadedCount: progress.UploadedCount, TotalBytes: progress.UploadedBytes}, nil
}

func (s *S3Storage) putFile(ctx context.Context, f localFile, key string) error {
	file, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(f.size),
		ContentType:   aws.String(ContentType(f.path)),
	})
	return err
}

func (s *S3Storage) Verify(ctx context.Context, remotePath string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(remotePath),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	var noKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return false, nil
	}
	return false, fmt.Errorf("failed to head %q: %w", remotePath, err)
}

func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// progressReader reports download progress whenever the whole percentage
// changes.
type progressReader struct {
	r           io.Reader
	loaded      int64
	total       int64
	lastPercent int
	onProgress  DownloadProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.loaded += int64(n)
	if p.onProgress != nil && n > 0 {
		percent := 0
		if p.total > 0 {
			percent = int(p.loaded * 100 / p.total)
		}
		if percent != p.lastPercent {
			p.lastPercent = percent
			p.onProgress(percent, p.loaded, p.total)
		}
	}
	return n, err
}
