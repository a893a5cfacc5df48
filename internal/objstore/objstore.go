// Package objstore uploads local directory trees to Linode Object Storage
// through its S3-compatible API.
package objstore

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"bulkops/internal/job"
	"bulkops/internal/logging"
)

const defaultContentType = "application/octet-stream"

// Upload is the payload of one upload job.
type Upload struct {
	// Path is the local file.
	Path string
	// Key is the destination object key.
	Key string
}

// PutObjectAPI is the part of *s3.Client the uploader needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewClient returns an S3 client for an Object Storage cluster. The cluster
// ID doubles as the signing region.
func NewClient(endpoint, region, accessKey, secretKey string) *s3.Client {
	return s3.New(s3.Options{
		Region:       region,
		BaseEndpoint: aws.String(endpoint),
		Credentials:  credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
	})
}

// CheckSource makes sure root exists and is a directory.
func CheckSource(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source directory: %s is not a directory", root)
	}
	return nil
}

// Walk enumerates every regular file under root. Keys are the slash-separated
// path relative to root, joined onto prefix.
func Walk(root, prefix string) job.Enumerator[Upload] {
	return func(ctx context.Context, emit func(Upload) error) error {
		if err := CheckSource(root); err != nil {
			return err
		}
		return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			return emit(Upload{Path: p, Key: ObjectKey(prefix, rel)})
		})
	}
}

// ObjectKey joins prefix and a relative OS path into an object key.
func ObjectKey(prefix, rel string) string {
	return path.Join(prefix, filepath.ToSlash(rel))
}

// ContentType guesses the MIME type from the file extension.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return defaultContentType
}

// Uploader puts files into one bucket.
type Uploader struct {
	client PutObjectAPI
	bucket string
	acl    types.ObjectCannedACL
}

// NewUploader returns an Uploader. acl may be empty to keep the bucket
// default.
func NewUploader(client PutObjectAPI, bucket, acl string) *Uploader {
	return &Uploader{client: client, bucket: bucket, acl: types.ObjectCannedACL(acl)}
}

// Upload is a job.Operation sending one file.
func (u *Uploader) Upload(ctx context.Context, j job.Job[Upload]) error {
	f, err := os.Open(j.Payload.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", j.Payload.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", j.Payload.Path, err)
	}

	in := &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(j.Payload.Key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(ContentType(j.Payload.Path)),
	}
	if u.acl != "" {
		in.ACL = u.acl
	}

	if _, err := u.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("upload %s to s3://%s/%s: %w", j.Payload.Path, u.bucket, j.Payload.Key, err)
	}
	logging.FromContext(ctx).V(logging.VERBOSE).Info("Uploaded object",
		"path", j.Payload.Path, "bucket", u.bucket, "key", j.Payload.Key)
	return nil
}
