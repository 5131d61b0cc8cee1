// Package backup uploads transformed output directories to S3 with
// content-hash deduplication, so re-running a batch and re-uploading is
// cheap and safe.
package backup

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/tinybatch/tinybatch/internal/logger"
)

// S3API is the narrow slice of the S3 client the uploader needs.
// Tests substitute an in-memory implementation.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader defines the interface for backing up an output directory.
type Uploader interface {
	// UploadDirectory uploads every regular file in dir to the bucket
	// under prefix, skipping objects whose content already matches.
	UploadDirectory(ctx context.Context, dir, bucket, prefix string, maxConcurrent int) error
}

// uploader implements the Uploader interface.
type uploader struct {
	client S3API
}

// NewUploader creates an Uploader using the default AWS credential chain.
func NewUploader(ctx context.Context) (Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &uploader{client: s3.NewFromConfig(cfg)}, nil
}

// NewUploaderWithClient creates an Uploader over an existing client.
func NewUploaderWithClient(client S3API) Uploader {
	return &uploader{client: client}
}

// UploadDirectory uploads every regular file in dir under prefix.
func (u *uploader) UploadDirectory(ctx context.Context, dir, bucket, prefix string, maxConcurrent int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}

	if len(files) == 0 {
		logger.Info("No files found to back up", "directory", dir)
		return nil
	}

	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	logger.Info("Starting S3 backup", "files", len(files), "bucket", bucket, "prefix", prefix, "concurrency", maxConcurrent)

	jobs := make(chan string, len(files))
	results := make(chan error, len(files))
	var wg sync.WaitGroup

	for i := 0; i < maxConcurrent; i++ {
		wg.Add(1)
		go u.uploadWorker(ctx, dir, bucket, prefix, jobs, results, &wg)
	}

	for _, name := range files {
		jobs <- name
	}
	close(jobs)

	wg.Wait()
	close(results)

	var failed []error
	uploaded := 0
	for err := range results {
		if err != nil {
			failed = append(failed, err)
		} else {
			uploaded++
		}
	}

	if len(failed) > 0 {
		logger.Error("Backup completed with errors", "successful", uploaded, "failed", len(failed))
		return fmt.Errorf("backup failed for %d files: %w", len(failed), failed[0])
	}

	logger.Info("Backup completed successfully", "files_backed_up", uploaded)
	return nil
}

// uploadWorker drains the jobs channel, uploading one file at a time.
func (u *uploader) uploadWorker(ctx context.Context, dir, bucket, prefix string, jobs <-chan string, results chan<- error, wg *sync.WaitGroup) {
	defer wg.Done()
	for name := range jobs {
		if err := u.uploadFile(ctx, dir, name, bucket, prefix); err != nil {
			logger.Error("Failed to back up file", "file", name, "error", err)
			results <- fmt.Errorf("file %s: %w", name, err)
		} else {
			results <- nil
		}
	}
}

// uploadFile uploads one file unless S3 already holds identical content.
func (u *uploader) uploadFile(ctx context.Context, dir, name, bucket, prefix string) error {
	filePath := filepath.Join(dir, name)
	key := path.Join(prefix, name)

	localHash, err := calculateMD5(filePath)
	if err != nil {
		return fmt.Errorf("failed to calculate MD5: %w", err)
	}

	headOutput, err := u.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		if extractETag(headOutput.ETag) == localHash {
			logger.Info("Object already exists with matching hash, skipping", "file", name, "key", key)
			return nil
		}
		return fmt.Errorf("hash mismatch for %q: S3 object exists with different content (local: %s)", key, localHash)
	} else if !isNotFoundError(err) {
		return fmt.Errorf("failed to check S3 object existence: %w", err)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	logger.Debug("Uploading file", "file", name, "bucket", bucket, "key", key, "hash", localHash)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	return err
}

// calculateMD5 calculates the MD5 hash of a file.
func calculateMD5(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// extractETag strips the quotes S3 wraps around ETag values.
func extractETag(etag *string) string {
	if etag == nil {
		return ""
	}
	return strings.Trim(*etag, `"`)
}

// isNotFoundError checks if the error is an S3 NotFound error.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "NotFound") || strings.Contains(msg, "StatusCode: 404")
}
