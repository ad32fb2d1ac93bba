package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sc "github.com/dmitrijs2005/crawlupload/internal/server/config"
	"github.com/dmitrijs2005/crawlupload/internal/logging"
)

func newTestStorage(f *fakeS3) *S3Storage {
	return New(f, fakePresigner{}, "uploads", logging.Nop())
}

func TestUploadSingle(t *testing.T) {
	f := newFakeS3()
	s := newTestStorage(f)

	err := s.UploadSingle(context.Background(), "o/uploads/u/a.txt", strings.NewReader("hello world"))
	require.NoError(t, err)

	assert.Equal(t, []byte("hello world"), f.objects["o/uploads/u/a.txt"])
	assert.Equal(t, "text/plain; charset=utf-8", f.contentTypes["o/uploads/u/a.txt"])
	assert.Equal(t, 1, f.puts)
	assert.Zero(t, f.creates)
}

func TestUploadSingle_PutError(t *testing.T) {
	f := newFakeS3()
	f.failPut = errors.New("boom")
	s := newTestStorage(f)

	err := s.UploadSingle(context.Background(), "k", strings.NewReader("x"))
	require.Error(t, err)

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "put", se.Op)
	assert.Equal(t, "uploads", se.Bucket)
	assert.Equal(t, "k", se.Key)
	assert.Equal(t, "s3.put uploads/k: boom", err.Error())
	assert.Empty(t, f.objects)
}

func TestUploadSingle_ReadError(t *testing.T) {
	f := newFakeS3()
	s := newTestStorage(f)

	readErr := errors.New("client went away")
	err := s.UploadSingle(context.Background(), "k", &failingReader{err: readErr})

	require.ErrorIs(t, err, readErr)
	assert.Zero(t, f.puts)
}

type failingReader struct{ err error }

func (r *failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestDeleteObjects_Batches(t *testing.T) {
	f := newFakeS3()
	s := newTestStorage(f)

	names := make([]string, 2500)
	for i := range names {
		names[i] = fmt.Sprintf("k%d", i)
		f.objects[names[i]] = []byte{1}
	}

	require.NoError(t, s.DeleteObjects(context.Background(), names))

	require.Len(t, f.deleteCalls, 3)
	assert.Len(t, f.deleteCalls[0], 1000)
	assert.Len(t, f.deleteCalls[1], 1000)
	assert.Len(t, f.deleteCalls[2], 500)
	assert.Empty(t, f.objects)
}

func TestDeleteObjects_Empty(t *testing.T) {
	f := newFakeS3()
	s := newTestStorage(f)

	require.NoError(t, s.DeleteObjects(context.Background(), nil))
	assert.Empty(t, f.deleteCalls)
}

func TestDeleteObjects_JoinsKeyErrors(t *testing.T) {
	f := newFakeS3()
	f.deleteKeyErrors = map[string]string{"b": "denied", "c": "denied"}
	s := newTestStorage(f)

	err := s.DeleteObjects(context.Background(), []string{"a", "b", "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uploads/b")
	assert.Contains(t, err.Error(), "uploads/c")
	assert.NotContains(t, err.Error(), "uploads/a")
}

func TestDeleteObjects_CallError(t *testing.T) {
	f := newFakeS3()
	f.failDelete = errors.New("unavailable")
	s := newTestStorage(f)

	err := s.DeleteObjects(context.Background(), []string{"a"})
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "delete", se.Op)
}

func TestPresignGet(t *testing.T) {
	s := newTestStorage(newFakeS3())

	url, err := s.PresignGet(context.Background(), "o/uploads/u/a.wacz")
	require.NoError(t, err)
	assert.Equal(t, "https://s3.local/uploads/o/uploads/u/a.wacz?expires=15m0s", url)
}

func TestPresignGet_Error(t *testing.T) {
	s := New(newFakeS3(), fakePresigner{err: errors.New("no creds")}, "uploads", logging.Nop())

	_, err := s.PresignGet(context.Background(), "k")
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "presign", se.Op)
}

func TestEnsureBucket(t *testing.T) {
	f := newFakeS3()
	s := newTestStorage(f)

	require.Error(t, s.Check(context.Background()))

	require.NoError(t, s.EnsureBucket(context.Background()))
	assert.Equal(t, 1, f.createdBuckets)

	require.NoError(t, s.EnsureBucket(context.Background()))
	assert.Equal(t, 1, f.createdBuckets, "existing bucket is not recreated")

	require.NoError(t, s.Check(context.Background()))
}

func TestNewS3Storage_UsesConfig(t *testing.T) {
	origLoad, origClient := loadDefaultAWSConfig, newS3ClientFromConfig
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origClient
	})

	var gotOpts s3.Options
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		lo := config.LoadOptions{}
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "eu-central-1", lo.Region)
		return aws.Config{Region: lo.Region}, nil
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		for _, fn := range optFns {
			fn(&gotOpts)
		}
		return s3.NewFromConfig(cfg, optFns...)
	}

	cfg := &sc.Config{S3Region: "eu-central-1", S3Bucket: "b", S3BaseEndpoint: "http://minio:9000"}
	s, err := NewS3Storage(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)

	assert.Equal(t, "b", s.Bucket())
	assert.Equal(t, "http://minio:9000", aws.ToString(gotOpts.BaseEndpoint))
	assert.True(t, gotOpts.UsePathStyle)
}

func TestNewS3Storage_ConfigError(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = origLoad })

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("bad profile")
	}

	_, err := NewS3Storage(context.Background(), &sc.Config{}, logging.Nop())
	require.ErrorContains(t, err, "bad profile")
}
