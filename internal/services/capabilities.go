package services

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bionicotaku/lingo-services-ingest/internal/models/po"
	"github.com/bionicotaku/lingo-services-ingest/internal/repositories"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/google/uuid"
)

// VideoStore 定义上传记录的持久化端口。
// 需要行锁的写操作必须在 txmanager 会话内先调用 GetForUpdate。
type VideoStore interface {
	Create(ctx context.Context, sess txmanager.Session, input repositories.CreateVideoInput) (*po.Video, error)
	Get(ctx context.Context, sess txmanager.Session, videoID uuid.UUID) (*po.Video, error)
	GetForUpdate(ctx context.Context, sess txmanager.Session, videoID uuid.UUID) (*po.Video, error)
	UpdateRanges(ctx context.Context, sess txmanager.Session, videoID uuid.UUID, ranges []po.UploadedRange, offset int64) (*po.Video, error)
	ApplyTransition(ctx context.Context, sess txmanager.Session, videoID uuid.UUID, from, to po.Phase, patch po.VideoPatch) (*po.Video, error)
	RewindToConverting(ctx context.Context, sess txmanager.Session, videoID uuid.UUID, from po.Phase) (*po.Video, error)
	ListByPhases(ctx context.Context, sess txmanager.Session, query po.PhaseQuery) ([]*po.Video, error)
	Delete(ctx context.Context, sess txmanager.Session, videoID uuid.UUID) error
}

// OutboxWriter 定义 Outbox 写入行为。
type OutboxWriter interface {
	Enqueue(ctx context.Context, sess txmanager.Session, msg repositories.OutboxMessage) error
}

// TranscodeResult 描述格式规范化的产物。
type TranscodeResult struct {
	OutputPath   string // 与输入相同表示无需转码
	Filename     string
	MimeType     string
	DidTranscode bool
}

// Transcoder 确保文件为可播放的兼容格式，必要时转码。
type Transcoder interface {
	EnsureCompatible(ctx context.Context, inputPath, originalFilename string) (*TranscodeResult, error)
}

// ObjectUpload 描述一次按内容寻址的对象上传。
type ObjectUpload struct {
	Body           io.Reader
	ChecksumSHA256 string // base64 编码的 SHA-256
	Filename       string
	ContentType    string
	ContentLength  int64
	Metadata       map[string]string
}

// StoredObject 为对象上传结果。
type StoredObject struct {
	Key            string
	AlreadyExisted bool
}

// ObjectStore 为持久化对象存储（S3 / GCS）。
// 对象键由摘要派生，相同内容重复上传是幂等的。
type ObjectStore interface {
	UploadByChecksum(ctx context.Context, in ObjectUpload) (*StoredObject, error)
}

// VideoHost 为公共视频平台的流式上传客户端。
type VideoHost interface {
	UploadVideo(ctx context.Context, body io.Reader, title string) (remoteID string, err error)
}

// PlaybackSigner 为已入库对象生成限时读取地址。
type PlaybackSigner interface {
	SignedReadURL(ctx context.Context, objectKey string, ttl time.Duration) (string, time.Time, error)
}

// ContentKey 由 base64 编码的 SHA-256 摘要派生对象键：<prefix>/sha256/<hex>。
func ContentKey(prefix, checksumSHA256 string) (string, error) {
	sum, err := base64.StdEncoding.DecodeString(checksumSHA256)
	if err != nil {
		return "", fmt.Errorf("decode checksum: %w", err)
	}
	if len(sum) != sha256.Size {
		return "", fmt.Errorf("checksum has %d bytes, want %d", len(sum), sha256.Size)
	}
	key := "sha256/" + hex.EncodeToString(sum)
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		key = prefix + "/" + key
	}
	return key, nil
}
