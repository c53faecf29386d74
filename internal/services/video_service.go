package services

import (
	"context"
	"time"

	"github.com/bionicotaku/lingo-services-ingest/internal/models/po"
	"github.com/bionicotaku/lingo-services-ingest/internal/models/vo"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

const defaultPlaybackTTL = 15 * time.Minute

// PlaybackConfig 控制播放地址签名。
type PlaybackConfig struct {
	URLTTL time.Duration
}

// VideoService 提供上传记录的查询与删除。
type VideoService struct {
	store  VideoStore
	txm    txmanager.Manager
	signer PlaybackSigner
	ttl    time.Duration
	log    *log.Helper
}

// NewVideoService 构造 VideoService。signer 为 nil 时不生成播放地址。
func NewVideoService(store VideoStore, txm txmanager.Manager, signer PlaybackSigner, cfg PlaybackConfig, logger log.Logger) *VideoService {
	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = defaultPlaybackTTL
	}
	return &VideoService{
		store:  store,
		txm:    txm,
		signer: signer,
		ttl:    ttl,
		log:    log.NewHelper(logger),
	}
}

// Get 返回记录状态；已完成的记录附带限时播放地址。
func (s *VideoService) Get(ctx context.Context, videoID uuid.UUID) (*vo.VideoStatus, error) {
	var video *po.Video
	err := s.txm.WithinReadOnlyTx(ctx, txmanager.TxOptions{}, func(txCtx context.Context, sess txmanager.Session) error {
		var err error
		video, err = s.store.Get(txCtx, sess, videoID)
		return err
	})
	if err != nil {
		return nil, mapRepoError(err, "get video")
	}

	status := vo.NewVideoStatus(video)
	if s.signer == nil || video.Phase != po.PhaseCompleted || video.StorageKey == nil {
		return status, nil
	}
	url, _, err := s.signer.SignedReadURL(ctx, *video.StorageKey, s.ttl)
	if err != nil {
		s.log.WithContext(ctx).Errorf("sign playback url failed: video_id=%s key=%s err=%v", videoID, *video.StorageKey, err)
		return nil, errors.InternalServer(ReasonPlaybackFailure, "failed to sign playback url").WithCause(err)
	}
	status.PlaybackURL = &url
	status.PlaybackTTL = s.ttl
	return status, nil
}

// Delete 删除记录并清理本地暂存文件，已入库的对象保持不变。
func (s *VideoService) Delete(ctx context.Context, videoID uuid.UUID) error {
	var paths []string
	err := s.txm.WithinTx(ctx, txmanager.TxOptions{}, func(txCtx context.Context, sess txmanager.Session) error {
		video, err := s.store.GetForUpdate(txCtx, sess, videoID)
		if err != nil {
			return err
		}
		paths = video.StagingPaths()
		return s.store.Delete(txCtx, sess, videoID)
	})
	if err != nil {
		return mapRepoError(err, "delete video")
	}
	if err := removeFiles(paths...); err != nil {
		s.log.WithContext(ctx).Warnf("remove staging files failed: video_id=%s err=%v", videoID, err)
	}
	s.log.WithContext(ctx).Infof("video deleted: video_id=%s", videoID)
	return nil
}
