// Package publisher packages a build product and uploads it to the
// artifact object store.
package publisher

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"hangar/rivet/internal/config"
)

// ErrPublish is returned when packaging or upload fails. The build itself
// may still have succeeded; callers must preserve that distinction.
var ErrPublish = errors.New("artifact publish failed")

// ObjectStore is the slice of the S3 API the publisher needs.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Publisher zips build products and uploads them under the job identifier.
type Publisher struct {
	store      ObjectStore
	bucket     string
	region     string
	endpoint   string
	outputsDir string
}

// New creates a publisher writing zip files into outputsDir before upload.
func New(store ObjectStore, cfg config.StorageConfig, outputsDir string) *Publisher {
	return &Publisher{
		store:      store,
		bucket:     cfg.Bucket,
		region:     cfg.Region,
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		outputsDir: outputsDir,
	}
}

// Publish compresses the artifact at artifactPath, uploads it with public
// read access, and returns the durable download URL.
func (p *Publisher) Publish(ctx context.Context, jobID, artifactPath string) (string, error) {
	if err := os.MkdirAll(p.outputsDir, 0755); err != nil {
		return "", fmt.Errorf("%w: create outputs directory: %v", ErrPublish, err)
	}

	zipPath := filepath.Join(p.outputsDir, jobID+".zip")
	if err := zipArtifact(artifactPath, zipPath); err != nil {
		return "", err
	}

	file, err := os.Open(zipPath)
	if err != nil {
		return "", fmt.Errorf("%w: open archive: %v", ErrPublish, err)
	}
	defer file.Close()

	key := "jobs/" + jobID + ".zip"
	_, err = p.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        file,
		ACL:         types.ObjectCannedACLPublicRead,
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		return "", fmt.Errorf("%w: upload: %v", ErrPublish, err)
	}

	return p.objectURL(key), nil
}

func (p *Publisher) objectURL(key string) string {
	if p.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", p.endpoint, p.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.bucket, p.region, key)
}

// zipArtifact writes the file or directory at srcPath into a zip archive,
// rooted at the artifact's base name so the bundle unpacks cleanly.
func zipArtifact(srcPath, zipPath string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("%w: create archive: %v", ErrPublish, err)
	}
	defer out.Close()

	writer := zip.NewWriter(out)
	base := filepath.Base(srcPath)

	err = filepath.Walk(srcPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(srcPath, path)
		if err != nil {
			return err
		}
		name := base
		if rel != "." {
			name = filepath.ToSlash(filepath.Join(base, rel))
		}

		if info.IsDir() {
			_, err := writer.Create(name + "/")
			return err
		}

		entry, err := writer.Create(name)
		if err != nil {
			return err
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		_, err = io.Copy(entry, file)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: package artifact: %v", ErrPublish, err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("%w: finalize archive: %v", ErrPublish, err)
	}
	return nil
}
