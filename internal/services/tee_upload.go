package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTeeChunkSize = 4 << 20

	destinationObjectStore = "object_store"
	destinationVideoHost   = "video_host"
)

// errBranchDone 由提前成功结束的分支关闭管道时使用，泵据此将其移出扇出列表。
var errBranchDone = stderrors.New("tee branch finished")

// UploadConfig 控制持久化上传。
type UploadConfig struct {
	// TeeChunkSize 为扇出泵单次读取的字节数。
	TeeChunkSize int
}

// DualUploadResult 为持久化上传结果。
type DualUploadResult struct {
	StorageKey     string
	AlreadyExisted bool
	RemoteVideoID  *string
}

// DualUploader 将一次读取的字节流同时推送到对象存储与视频平台。
// host 为 nil 时只写对象存储。
type DualUploader struct {
	store     ObjectStore
	host      VideoHost
	chunkSize int
	log       *log.Helper
}

// NewDualUploader 构造上传器。
func NewDualUploader(store ObjectStore, host VideoHost, cfg UploadConfig, logger log.Logger) *DualUploader {
	size := cfg.TeeChunkSize
	if size <= 0 {
		size = defaultTeeChunkSize
	}
	return &DualUploader{
		store:     store,
		host:      host,
		chunkSize: size,
		log:       log.NewHelper(logger),
	}
}

// Upload 上传 body。双目标时任一分支失败会取消另一分支并返回合并错误，
// 已成功的一侧不会回滚。
func (u *DualUploader) Upload(ctx context.Context, body io.Reader, title string, obj ObjectUpload) (*DualUploadResult, error) {
	start := time.Now()
	defer func() {
		metrics.DualUploadDuration.Observe(time.Since(start).Seconds())
	}()

	if u.host == nil {
		obj.Body = body
		stored, err := u.store.UploadByChecksum(ctx, obj)
		observeUpload(destinationObjectStore, err)
		if err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
		return &DualUploadResult{StorageKey: stored.Key, AlreadyExisted: stored.AlreadyExisted}, nil
	}
	return u.tee(ctx, body, title, obj)
}

func (u *DualUploader) tee(ctx context.Context, body io.Reader, title string, obj ObjectUpload) (*DualUploadResult, error) {
	storeR, storeW := io.Pipe()
	hostR, hostW := io.Pipe()

	var (
		stored   *StoredObject
		remoteID string
		storeErr error
		hostErr  error
		pumpErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		upload := obj
		upload.Body = storeR
		stored, storeErr = u.store.UploadByChecksum(gctx, upload)
		closeBranch(storeR, storeErr)
		observeUpload(destinationObjectStore, storeErr)
		if storeErr != nil {
			storeErr = fmt.Errorf("object store: %w", storeErr)
		}
		return storeErr
	})
	g.Go(func() error {
		remoteID, hostErr = u.host.UploadVideo(gctx, hostR, title)
		closeBranch(hostR, hostErr)
		observeUpload(destinationVideoHost, hostErr)
		if hostErr != nil {
			hostErr = fmt.Errorf("video host: %w", hostErr)
		}
		return hostErr
	})
	g.Go(func() error {
		pumpErr = u.pump(gctx, body, storeW, hostW)
		return pumpErr
	})
	_ = g.Wait()

	if err := stderrors.Join(storeErr, hostErr); err != nil {
		u.log.WithContext(ctx).Warnf("dual upload failed: checksum=%s err=%v", obj.ChecksumSHA256, err)
		return nil, err
	}
	if pumpErr != nil {
		return nil, fmt.Errorf("read source: %w", pumpErr)
	}
	res := &DualUploadResult{
		StorageKey:     stored.Key,
		AlreadyExisted: stored.AlreadyExisted,
	}
	if remoteID != "" {
		res.RemoteVideoID = &remoteID
	}
	return res, nil
}

// pump 将 src 按块复制到所有仍在消费的写端。
// 写端返回 errBranchDone 时移除该分支；其他写错误使所有写端以该错误关闭。
func (u *DualUploader) pump(ctx context.Context, src io.Reader, writers ...*io.PipeWriter) error {
	active := append([]*io.PipeWriter(nil), writers...)
	closeAll := func(err error) {
		for _, w := range active {
			_ = w.CloseWithError(err)
		}
	}

	buf := make([]byte, u.chunkSize)
	for len(active) > 0 {
		if err := ctx.Err(); err != nil {
			closeAll(err)
			return err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			kept := make([]*io.PipeWriter, 0, len(active))
			for _, w := range active {
				if _, err := w.Write(buf[:n]); err != nil {
					if stderrors.Is(err, errBranchDone) {
						continue
					}
					closeAll(err)
					return err
				}
				kept = append(kept, w)
			}
			active = kept
		}
		if readErr == io.EOF {
			closeAll(nil)
			return nil
		}
		if readErr != nil {
			closeAll(readErr)
			return readErr
		}
	}
	return nil
}

func closeBranch(r *io.PipeReader, err error) {
	if err != nil {
		_ = r.CloseWithError(err)
		return
	}
	_ = r.CloseWithError(errBranchDone)
}

func observeUpload(destination string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.ObjectUploadsTotal.WithLabelValues(destination, result).Inc()
}
