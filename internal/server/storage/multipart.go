package storage

import (
	"bytes"
	"context"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"
)

// UploadMultipart stores the bytes produced by chunks under name.
//
// Chunks are buffered into parts of at least minPartSize bytes (the last
// part may be smaller) and sent one at a time in arrival order. The
// multipart upload is created when the first part is full, so a stream that
// never reaches minPartSize is written with a single PutObject instead.
//
// A chunk error, a failed part, a failed completion or a done ctx aborts the
// multipart upload; no partial object is left behind.
func (s *S3Storage) UploadMultipart(ctx context.Context, name string, chunks iter.Seq2[[]byte, error], minPartSize int64) error {
	if chunks == nil {
		return newError("upload_multipart", s.bucket, name, ErrNoChunks)
	}

	mu := &multipartUpload{s: s, name: name}

	var buf bytes.Buffer
	for chunk, err := range chunks {
		if err != nil {
			return mu.fail(ctx, "read", err)
		}
		buf.Write(chunk)

		if int64(buf.Len()) < minPartSize {
			continue
		}
		if err := mu.sendPart(ctx, buf.Bytes()); err != nil {
			return err
		}
		buf.Reset()
	}

	if err := ctx.Err(); err != nil {
		return mu.fail(ctx, "read", err)
	}

	if mu.uploadID == "" {
		return s.put(ctx, name, buf.Bytes())
	}

	if buf.Len() > 0 {
		if err := mu.sendPart(ctx, buf.Bytes()); err != nil {
			return err
		}
	}

	return mu.complete(ctx)
}

type multipartUpload struct {
	s        *S3Storage
	name     string
	uploadID string
	parts    []types.CompletedPart
}

func (m *multipartUpload) sendPart(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return m.fail(ctx, "upload_part", err)
	}

	if m.uploadID == "" {
		out, err := m.s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String(m.s.bucket),
			Key:         aws.String(m.name),
			ContentType: aws.String(mimetype.Detect(data).String()),
		})
		if err != nil {
			return newError("create_multipart", m.s.bucket, m.name, err)
		}
		m.uploadID = aws.ToString(out.UploadId)
	}

	partNumber := int32(len(m.parts) + 1)
	out, err := m.s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(m.s.bucket),
		Key:           aws.String(m.name),
		UploadId:      aws.String(m.uploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return m.fail(ctx, "upload_part", err)
	}

	m.parts = append(m.parts, types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(partNumber),
	})

	m.s.logger.Debug(ctx, "part uploaded", "key", m.name, "part", partNumber, "bytes", len(data))
	return nil
}

func (m *multipartUpload) complete(ctx context.Context) error {
	_, err := m.s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(m.s.bucket),
		Key:             aws.String(m.name),
		UploadId:        aws.String(m.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: m.parts},
	})
	if err != nil {
		return m.fail(ctx, "complete_multipart", err)
	}
	return nil
}

// fail aborts the multipart upload, if one was created, and returns err
// wrapped for op. The abort runs on a context that survives cancellation of
// ctx, bounded by the storage abort timeout.
func (m *multipartUpload) fail(ctx context.Context, op string, err error) error {
	if m.uploadID != "" {
		abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.s.abortTimeout)
		defer cancel()

		_, abortErr := m.s.client.AbortMultipartUpload(abortCtx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(m.s.bucket),
			Key:      aws.String(m.name),
			UploadId: aws.String(m.uploadID),
		})
		if abortErr != nil {
			m.s.logger.Error(ctx, "abort multipart upload failed",
				"key", m.name, "multipart_id", m.uploadID, "error", abortErr)
		}
	}
	return newError(op, m.s.bucket, m.name, err)
}
