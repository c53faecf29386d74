// Package s3store 把视频按内容摘要写入 S3 兼容的对象存储，并生成预签名读取地址。
package s3store

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bionicotaku/lingo-services-ingest/internal/services"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/go-kratos/kratos/v2/log"
)

// ErrChecksumMismatch 表示上传内容与声明的摘要不一致，已写入的对象会被删除。
var ErrChecksumMismatch = errors.New("s3: uploaded content does not match checksum")

const defaultPartSizeMB = 16

// API 为 Store 依赖的 S3 操作集合，*s3.Client 满足该接口。
type API interface {
	manager.UploadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Options 描述上传参数。
type Options struct {
	Bucket      string
	Prefix      string
	PartSizeMB  int64
	Concurrency int
}

// Store 实现 services.ObjectStore 与 services.PlaybackSigner。
type Store struct {
	client    API
	presigner *s3.PresignClient
	uploader  *manager.Uploader
	bucket    string
	prefix    string
	log       *log.Helper
}

// New 构造 Store。presigner 为 nil 时不提供播放地址。
func New(client API, presigner *s3.PresignClient, opts Options, logger log.Logger) *Store {
	partMB := opts.PartSizeMB
	if partMB <= 0 {
		partMB = defaultPartSizeMB
	}
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partMB * 1024 * 1024
		if opts.Concurrency > 0 {
			u.Concurrency = opts.Concurrency
		}
	})
	return &Store{
		client:    client,
		presigner: presigner,
		uploader:  uploader,
		bucket:    opts.Bucket,
		prefix:    opts.Prefix,
		log:       log.NewHelper(logger),
	}
}

// UploadByChecksum 实现 services.ObjectStore。
func (s *Store) UploadByChecksum(ctx context.Context, in services.ObjectUpload) (*services.StoredObject, error) {
	key, err := services.ContentKey(s.prefix, in.ChecksumSHA256)
	if err != nil {
		return nil, err
	}

	exists, err := s.exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		s.log.WithContext(ctx).Infof("s3 object already exists: bucket=%s key=%s", s.bucket, key)
		return &services.StoredObject{Key: key, AlreadyExisted: true}, nil
	}

	digest := sha256.New()
	counter := &countingReader{r: io.TeeReader(in.Body, digest)}
	input := &s3.PutObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		Body:              counter,
		ContentType:       aws.String(in.ContentType),
		Metadata:          in.Metadata,
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	}
	if in.Filename != "" {
		input.ContentDisposition = aws.String(fmt.Sprintf("inline; filename=%q", in.Filename))
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return nil, fmt.Errorf("upload object %s: %w", key, err)
	}

	got := base64.StdEncoding.EncodeToString(digest.Sum(nil))
	if got != in.ChecksumSHA256 || (in.ContentLength > 0 && counter.n != in.ContentLength) {
		s.log.WithContext(ctx).Errorf("s3 checksum mismatch: key=%s got=%s bytes=%d", key, got, counter.n)
		if _, delErr := s.client.DeleteObject(context.WithoutCancel(ctx), &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}); delErr != nil {
			return nil, errors.Join(ErrChecksumMismatch, fmt.Errorf("delete object %s: %w", key, delErr))
		}
		return nil, ErrChecksumMismatch
	}

	s.log.WithContext(ctx).Infof("s3 object stored: bucket=%s key=%s bytes=%d", s.bucket, key, counter.n)
	return &services.StoredObject{Key: key}, nil
}

// SignedReadURL 实现 services.PlaybackSigner。
func (s *Store) SignedReadURL(ctx context.Context, objectKey string, ttl time.Duration) (string, time.Time, error) {
	if s.presigner == nil {
		return "", time.Time{}, errors.New("s3 presigner is not configured")
	}
	if objectKey == "" {
		return "", time.Time{}, errors.New("object key is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be positive")
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign get object: %w", err)
	}
	return req.URL, time.Now().Add(ttl), nil
}

func (s *Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head object %s: %w", key, err)
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
