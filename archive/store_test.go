// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	sha256 "github.com/minio/sha256-simd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 keeps objects in memory, keyed by bucket/key.
type fakeS3 struct {
	objects   map[string][]byte
	checksums map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:   make(map[string][]byte),
		checksums: make(map[string]string),
	}
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput,
	_ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*params.Bucket+"/"+*params.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput,
	_ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	key := *params.Bucket + "/" + *params.Key
	f.objects[key] = data
	f.checksums[key] = *params.ChecksumSHA256
	return &s3.PutObjectOutput{}, nil
}

func TestParseS3Location(t *testing.T) {
	tests := map[string]struct {
		bucket, key string
		fail        bool
	}{
		"s3://metrics/archives/host1.pmz": {bucket: "metrics", key: "archives/host1.pmz"},
		"s3://metrics/a":                  {bucket: "metrics", key: "a"},
		"s3://metrics/":                   {fail: true},
		"s3:///key":                       {fail: true},
		"/tmp/host1.pmz":                  {fail: true},
	}
	for location, tc := range tests {
		t.Run(location, func(t *testing.T) {
			bucket, key, err := ParseS3Location(location)
			if tc.fail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.bucket, bucket)
			assert.Equal(t, tc.key, key)
		})
	}
	assert.True(t, IsRemote("s3://b/k"))
	assert.False(t, IsRemote("archive.pmz"))
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	data := writeTestArchive(t)
	path := filepath.Join(t.TempDir(), "disk.pmz")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	fake := newFakeS3()
	store := NewStore(fake)

	a, err := store.Open(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Len())

	_, err = store.Open(ctx, "s3://metrics/disk.pmz")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Upload(ctx, path, "s3://metrics/disk.pmz"))
	assert.Equal(t, data, fake.objects["metrics/disk.pmz"])
	sum := sha256.Sum256(data)
	assert.Equal(t, base64.StdEncoding.EncodeToString(sum[:]),
		fake.checksums["metrics/disk.pmz"])

	a, err = store.Open(ctx, "s3://metrics/disk.pmz")
	require.NoError(t, err)
	assert.Equal(t, a.Header().ID, testArchiveID(t, data))

	require.Error(t, store.Upload(ctx, path, "metrics/disk.pmz"))
	require.Error(t, store.Upload(ctx, filepath.Join(t.TempDir(), "none"), "s3://metrics/x"))

	_, err = NewStore(nil).Open(ctx, "s3://metrics/disk.pmz")
	require.Error(t, err)
}

func testArchiveID(t *testing.T, data []byte) uuid.UUID {
	t.Helper()
	a, err := Open(bytes.NewReader(data))
	require.NoError(t, err)
	return a.Header().ID
}
