// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package archive // import "github.com/pcpstat/pmsample/archive"

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	sha256 "github.com/minio/sha256-simd"
	log "github.com/sirupsen/logrus"
)

const s3Scheme = "s3://"

// ObjectAPI is the subset of the S3 client used by Store.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput,
		optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput,
		optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ ObjectAPI = (*s3.Client)(nil)

// NewS3Client creates an S3 client from the default AWS configuration chain
// (environment, shared config files, instance metadata).
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// Store opens archives from local paths or s3://bucket/key locations and
// uploads local archives to S3.
type Store struct {
	s3client ObjectAPI
}

// NewStore creates a store. client may be nil if only local paths are used.
func NewStore(client ObjectAPI) *Store {
	return &Store{s3client: client}
}

// IsRemote reports whether location refers to an S3 object.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, s3Scheme)
}

// ParseS3Location splits s3://bucket/key into its bucket and key.
func ParseS3Location(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("invalid location %q: %w", location, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("invalid location %q: not an s3:// URL", location)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid location %q: expected s3://bucket/key", location)
	}
	return u.Host, key, nil
}

// Open reads the archive at location.
func (s *Store) Open(ctx context.Context, location string) (*Archive, error) {
	if !IsRemote(location) {
		return OpenFile(location)
	}
	bucket, key, err := ParseS3Location(location)
	if err != nil {
		return nil, err
	}
	if s.s3client == nil {
		return nil, errors.New("no S3 client configured")
	}

	out, err := s.s3client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		if isErrNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
		}
		return nil, fmt.Errorf("failed to download %s: %w", location, err)
	}
	defer out.Body.Close()

	a, err := Open(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", location, err)
	}
	return a, nil
}

// Upload copies the local archive at path to the S3 location. The object is
// sent with its SHA-256 checksum so that S3 rejects a corrupted transfer.
func (s *Store) Upload(ctx context.Context, path, location string) error {
	bucket, key, err := ParseS3Location(location)
	if err != nil {
		return err
	}
	if s.s3client == nil {
		return errors.New("no S3 client configured")
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return fmt.Errorf("failed to hash content of %q: %v", path, err)
	}
	contentSHA256 := base64.StdEncoding.EncodeToString(hasher.Sum(nil))

	if _, err = file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to set position in file %q: %v", path, err)
	}

	_, err = s.s3client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             &bucket,
		Key:                &key,
		Body:               file,
		ContentType:        aws.String("application/zstd"),
		ContentDisposition: aws.String("attachment"),
		ChecksumSHA256:     &contentSHA256,
	})
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}
	log.Infof("Uploaded %s to %s", path, location)
	return nil
}

// isErrNoSuchKey checks whether the given AWS error indicates that the key
// does not exist. GetObject reports NoSuchKey, HeadObject only NotFound.
func isErrNoSuchKey(err error) bool {
	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
