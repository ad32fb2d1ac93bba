package storage

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 keeps objects in memory and records the calls made to it.
type fakeS3 struct {
	mu sync.Mutex

	objects      map[string][]byte
	contentTypes map[string]string
	pending      map[string]map[int32][]byte

	puts, creates, parts, completes, aborts int
	partSizes                               []int
	abortCtxErr                             error
	deleteCalls                             [][]string
	bucketExists                            bool
	createdBuckets                          int

	failPart        int // 1-based part number to fail, 0 = never
	failComplete    bool
	failPut         error
	failDelete      error
	deleteKeyErrors map[string]string
	onPart          func(n int32)
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:      map[string][]byte{},
		contentTypes: map[string]string{},
		pending:      map[string]map[int32][]byte{},
	}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.failPut != nil {
		return nil, f.failPut
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.contentTypes[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	id := fmt.Sprintf("mp-%d", f.creates)
	f.pending[id] = map[int32][]byte{}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	n := aws.ToInt32(in.PartNumber)
	if f.onPart != nil {
		f.onPart(n)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.parts++
	if f.failPart == int(n) {
		return nil, fmt.Errorf("part %d rejected", n)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.partSizes = append(f.partSizes, len(data))
	f.pending[aws.ToString(in.UploadId)][n] = data
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", n))}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes++
	if f.failComplete {
		return nil, fmt.Errorf("complete rejected")
	}
	id := aws.ToString(in.UploadId)
	var data []byte
	for _, p := range in.MultipartUpload.Parts {
		data = append(data, f.pending[id][aws.ToInt32(p.PartNumber)]...)
	}
	delete(f.pending, id)
	f.objects[aws.ToString(in.Key)] = data
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
	f.abortCtxErr = ctx.Err()
	delete(f.pending, aws.ToString(in.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(in.Delete.Objects))
	for _, o := range in.Delete.Objects {
		keys = append(keys, aws.ToString(o.Key))
	}
	f.deleteCalls = append(f.deleteCalls, keys)
	if f.failDelete != nil {
		return nil, f.failDelete
	}
	out := &s3.DeleteObjectsOutput{}
	for _, k := range keys {
		if msg, ok := f.deleteKeyErrors[k]; ok {
			out.Errors = append(out.Errors, types.Error{Key: aws.String(k), Code: aws.String("AccessDenied"), Message: aws.String(msg)})
			continue
		}
		delete(f.objects, k)
	}
	return out, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.bucketExists {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdBuckets++
	f.bucketExists = true
	return &s3.CreateBucketOutput{}, nil
}

type fakePresigner struct {
	err error
}

func (p fakePresigner) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if p.err != nil {
		return nil, p.err
	}
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &v4.PresignedHTTPRequest{
		URL: fmt.Sprintf("https://s3.local/%s/%s?expires=%s", aws.ToString(in.Bucket), aws.ToString(in.Key), opts.Expires),
	}, nil
}
