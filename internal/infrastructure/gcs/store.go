package gcs

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"

	"github.com/bionicotaku/lingo-services-ingest/internal/services"

	"cloud.google.com/go/storage"
	"github.com/go-kratos/kratos/v2/log"
	"google.golang.org/api/googleapi"
)

// ErrChecksumMismatch 表示上传内容与声明的摘要不一致，对象未被写入。
var ErrChecksumMismatch = errors.New("gcs: uploaded content does not match checksum")

// ObjectStore 以内容摘要为键把视频写入 GCS bucket。
// 写入带 DoesNotExist 前置条件，相同内容的并发或重复上传只会落地一次。
type ObjectStore struct {
	bucket    *storage.BucketHandle
	name      string
	prefix    string
	chunkSize int
	log       *log.Helper
}

// NewObjectStore 构造 ObjectStore。chunkSize 为 0 时使用客户端默认分块。
func NewObjectStore(client *storage.Client, bucket, prefix string, chunkSize int, logger log.Logger) *ObjectStore {
	return &ObjectStore{
		bucket:    client.Bucket(bucket),
		name:      bucket,
		prefix:    prefix,
		chunkSize: chunkSize,
		log:       log.NewHelper(logger),
	}
}

// UploadByChecksum 实现 services.ObjectStore。
func (s *ObjectStore) UploadByChecksum(ctx context.Context, in services.ObjectUpload) (*services.StoredObject, error) {
	key, err := services.ContentKey(s.prefix, in.ChecksumSHA256)
	if err != nil {
		return nil, err
	}
	obj := s.bucket.Object(key)

	if _, err := obj.Attrs(ctx); err == nil {
		s.log.WithContext(ctx).Infof("gcs object already exists: bucket=%s key=%s", s.name, key)
		return &services.StoredObject{Key: key, AlreadyExisted: true}, nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("stat object %s: %w", key, err)
	}

	// 取消 writer 的 ctx 会中止上传且不会生成对象。
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(writeCtx)
	w.ContentType = in.ContentType
	w.Metadata = in.Metadata
	if in.Filename != "" {
		w.ContentDisposition = fmt.Sprintf("inline; filename=%q", in.Filename)
	}
	if s.chunkSize > 0 {
		w.ChunkSize = s.chunkSize
	}

	digest := sha256.New()
	written, copyErr := io.Copy(w, io.TeeReader(in.Body, digest))
	if copyErr == nil {
		copyErr = verify(digest, in.ChecksumSHA256, written, in.ContentLength)
	}
	if copyErr != nil {
		cancel()
		_ = w.Close()
		return nil, copyErr
	}

	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return &services.StoredObject{Key: key, AlreadyExisted: true}, nil
		}
		return nil, fmt.Errorf("finalize object %s: %w", key, err)
	}
	s.log.WithContext(ctx).Infof("gcs object stored: bucket=%s key=%s bytes=%d", s.name, key, written)
	return &services.StoredObject{Key: key}, nil
}

func verify(digest hash.Hash, want string, written, wantLen int64) error {
	if wantLen > 0 && written != wantLen {
		return fmt.Errorf("%w: wrote %d bytes, want %d", ErrChecksumMismatch, written, wantLen)
	}
	if got := base64.StdEncoding.EncodeToString(digest.Sum(nil)); got != want {
		return fmt.Errorf("%w: got %s", ErrChecksumMismatch, got)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
