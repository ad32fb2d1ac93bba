package storage

import (
	"errors"
	"fmt"
)

// ErrNoChunks is returned by UploadMultipart when the chunk sequence is nil.
var ErrNoChunks = errors.New("nil chunk sequence")

// Error is a failed object-storage operation with the bucket and key it
// touched.
type Error struct {
	// Op is the operation that failed, e.g. "put", "upload_part", "delete".
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("s3.%s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("s3.%s bucket %s: %v", e.Op, e.Bucket, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, bucket, key string, err error) *Error {
	return &Error{Op: op, Bucket: bucket, Key: key, Err: err}
}
