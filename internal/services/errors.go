package services

import (
	stderrors "errors"
	"fmt"

	"github.com/bionicotaku/lingo-services-ingest/internal/repositories"
	"github.com/go-kratos/kratos/v2/errors"
)

// 对外错误原因（kratos error reason）。
const (
	ReasonRangeInvalid    = "INGEST_RANGE_INVALID"
	ReasonRangeConflict   = "INGEST_RANGE_CONFLICT"
	ReasonSizeMismatch    = "INGEST_SIZE_MISMATCH"
	ReasonTooLarge        = "INGEST_TOO_LARGE"
	ReasonShortChunk      = "INGEST_SHORT_CHUNK"
	ReasonNotReceiving    = "INGEST_NOT_RECEIVING"
	ReasonSessionInvalid  = "INGEST_SESSION_INVALID"
	ReasonIngestFailed    = "INGEST_FAILED"
	ReasonVideoNotFound   = "VIDEO_NOT_FOUND"
	ReasonVideoConflict   = "VIDEO_CONFLICT"
	ReasonWorkflowFailed  = "WORKFLOW_FAILED"
	ReasonRecoveryFailed  = "RECOVERY_FAILED"
	ReasonPlaybackFailure = "PLAYBACK_URL_FAILED"
)

// 记录失败时写入的 error_code。
const (
	ErrorCodeDataLoss    = "DATA_LOSS"
	ErrorCodePhaseFailed = "PHASE_FAILED"
)

// 阶段处理错误。
var (
	// ErrStagingFileMissing 表示本地暂存文件缺失，属于数据丢失。
	ErrStagingFileMissing = stderrors.New("staging file missing")
	// ErrChecksumMissing 表示进入上传阶段时摘要尚未计算。
	ErrChecksumMissing = stderrors.New("checksum missing before upload")
	// errShortChunk 表示请求体字节数不足声明长度。
	errShortChunk = stderrors.New("chunk body shorter than declared range")
)

// IsDataLoss 判断错误是否属于数据丢失类。
func IsDataLoss(err error) bool {
	return stderrors.Is(err, ErrStagingFileMissing)
}

func mapRepoError(err error, op string) error {
	var se *errors.Error
	switch {
	case err == nil:
		return nil
	case stderrors.As(err, &se):
		return err
	case stderrors.Is(err, repositories.ErrVideoNotFound):
		return errors.NotFound(ReasonVideoNotFound, "video not found").WithCause(err)
	case stderrors.Is(err, repositories.ErrVideoConflict):
		return errors.Conflict(ReasonVideoConflict, "video is being modified concurrently").WithCause(err)
	default:
		return errors.InternalServer(ReasonWorkflowFailed, op+" failed").WithCause(fmt.Errorf("%s: %w", op, err))
	}
}
