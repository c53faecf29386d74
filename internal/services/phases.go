package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bionicotaku/lingo-services-ingest/internal/models/po"
	"github.com/bionicotaku/lingo-services-ingest/internal/ranges"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-kratos/kratos/v2/log"
)

// StepOutcome 描述阶段处理器的执行结果类型。
type StepOutcome int

const (
	// StepNoop 表示当前无事可做，驱动器停止。
	StepNoop StepOutcome = iota
	// StepAdvance 表示需要持久化一次迁移（可以是自迁移）。
	StepAdvance
	// StepTerminal 表示记录已处于终态。
	StepTerminal
)

func (o StepOutcome) String() string {
	switch o {
	case StepAdvance:
		return "advance"
	case StepTerminal:
		return "terminal"
	default:
		return "noop"
	}
}

// Step 为阶段处理器返回的指令。
type Step struct {
	Outcome StepOutcome
	Next    po.Phase
	Patch   po.VideoPatch
	// AfterCommit 在迁移提交后执行，失败不影响已提交的状态。
	AfterCommit func(ctx context.Context)
	// Discard 在迁移未能提交（如阶段守卫冲突）时执行，回收本次处理产生的文件。
	Discard func(ctx context.Context)
}

// Noop 构造无操作步骤。
func Noop() Step { return Step{Outcome: StepNoop} }

// Terminal 构造终态步骤。
func Terminal() Step { return Step{Outcome: StepTerminal} }

// AdvanceTo 构造迁移步骤。
func AdvanceTo(next po.Phase, patch po.VideoPatch) Step {
	return Step{Outcome: StepAdvance, Next: next, Patch: patch}
}

// PhaseHandler 处理单个阶段。处理器只做 I/O，不访问数据库；返回的错误会使记录进入 failed。
type PhaseHandler interface {
	Handle(ctx context.Context, video *po.Video) (Step, error)
}

// PhaseHandlerFunc 允许普通函数作为 PhaseHandler。
type PhaseHandlerFunc func(ctx context.Context, video *po.Video) (Step, error)

// Handle 实现 PhaseHandler。
func (f PhaseHandlerFunc) Handle(ctx context.Context, video *po.Video) (Step, error) {
	return f(ctx, video)
}

// PhaseTable 将阶段映射到处理器，构造后只读。
type PhaseTable map[po.Phase]PhaseHandler

// NewPhaseTable 构建默认的阶段分派表。
func NewPhaseTable(transcoder Transcoder, uploader *DualUploader, logger log.Logger) PhaseTable {
	h := &phaseHandlers{
		transcoder: transcoder,
		uploader:   uploader,
		log:        log.NewHelper(logger),
	}
	terminal := PhaseHandlerFunc(func(context.Context, *po.Video) (Step, error) { return Terminal(), nil })
	return PhaseTable{
		po.PhaseReceiving:   PhaseHandlerFunc(h.receiving),
		po.PhaseConverting:  PhaseHandlerFunc(h.converting),
		po.PhaseHashing:     PhaseHandlerFunc(h.hashing),
		po.PhaseUploadingS3: PhaseHandlerFunc(h.uploading),
		po.PhaseCompleted:   terminal,
		po.PhaseFailed:      terminal,
	}
}

type phaseHandlers struct {
	transcoder Transcoder
	uploader   *DualUploader
	log        *log.Helper
}

func (h *phaseHandlers) receiving(_ context.Context, video *po.Video) (Step, error) {
	if ranges.ContiguousOffset(video.UploadedRanges) != video.TotalSize {
		return Noop(), nil
	}
	if err := requireFile(video.TmpPath); err != nil {
		return Step{}, err
	}
	return AdvanceTo(po.PhaseConverting, po.VideoPatch{}), nil
}

func (h *phaseHandlers) converting(ctx context.Context, video *po.Video) (Step, error) {
	if err := requireFile(video.TmpPath); err != nil {
		return Step{}, err
	}
	res, err := h.transcoder.EnsureCompatible(ctx, video.TmpPath, video.Filename)
	if err != nil {
		return Step{}, fmt.Errorf("transcode: %w", err)
	}
	output := res.OutputPath
	if output == "" {
		output = video.TmpPath
	}
	info, err := os.Stat(output)
	if err != nil {
		return Step{}, fmt.Errorf("%w: converted output %s: %v", ErrStagingFileMissing, output, err)
	}

	size := info.Size()
	patch := po.VideoPatch{
		ConvertedTmpPath: &output,
		FileSize:         &size,
	}
	if res.Filename != "" {
		patch.Filename = &res.Filename
	}
	if res.MimeType != "" {
		patch.MimeType = &res.MimeType
	}
	step := AdvanceTo(po.PhaseHashing, patch)
	if output != video.TmpPath {
		raw := video.TmpPath
		step.AfterCommit = func(ctx context.Context) {
			if err := removeFiles(raw); err != nil {
				h.log.WithContext(ctx).Warnf("remove raw staging file failed: video_id=%s path=%s err=%v", video.VideoID, raw, err)
			}
		}
		step.Discard = func(ctx context.Context) {
			if err := removeFiles(output); err != nil {
				h.log.WithContext(ctx).Warnf("remove discarded output failed: video_id=%s path=%s err=%v", video.VideoID, output, err)
			}
		}
	}
	return step, nil
}

func (h *phaseHandlers) hashing(ctx context.Context, video *po.Video) (Step, error) {
	if video.ChecksumSHA256 != nil && *video.ChecksumSHA256 != "" {
		return AdvanceTo(po.PhaseUploadingS3, po.VideoPatch{}), nil
	}
	sum, size, err := sha256File(ctx, video.WorkingPath())
	if err != nil {
		return Step{}, fmt.Errorf("hash: %w", err)
	}
	return AdvanceTo(po.PhaseUploadingS3, po.VideoPatch{
		ChecksumSHA256: &sum,
		FileSize:       &size,
	}), nil
}

func (h *phaseHandlers) uploading(ctx context.Context, video *po.Video) (Step, error) {
	if video.StorageKey != nil && *video.StorageKey != "" {
		if err := removeFiles(video.StagingPaths()...); err != nil {
			h.log.WithContext(ctx).Warnf("remove staging files failed, completion deferred: video_id=%s err=%v", video.VideoID, err)
			return Noop(), nil
		}
		return AdvanceTo(po.PhaseCompleted, po.VideoPatch{}), nil
	}
	if video.ChecksumSHA256 == nil || *video.ChecksumSHA256 == "" {
		return Step{}, ErrChecksumMissing
	}

	path := video.WorkingPath()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Step{}, fmt.Errorf("%w: %s", ErrStagingFileMissing, path)
		}
		return Step{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Step{}, fmt.Errorf("stat %s: %w", path, err)
	}

	mimeType, filename := detectContentType(path, video.MimeType, video.Filename)
	res, err := h.uploader.Upload(ctx, f, video.Title, ObjectUpload{
		ChecksumSHA256: *video.ChecksumSHA256,
		Filename:       filename,
		ContentType:    mimeType,
		ContentLength:  info.Size(),
		Metadata: map[string]string{
			"video_id": video.VideoID.String(),
			"user_id":  video.UserID.String(),
		},
	})
	if err != nil {
		return Step{}, fmt.Errorf("upload: %w", err)
	}

	patch := po.VideoPatch{
		StorageKey:    &res.StorageKey,
		RemoteVideoID: res.RemoteVideoID,
		Filename:      &filename,
		MimeType:      &mimeType,
	}
	return AdvanceTo(po.PhaseUploadingS3, patch), nil
}

// detectContentType 嗅探文件内容类型，并使文件扩展名与之一致。
// 无法识别时保留记录中的原值。
func detectContentType(path, fallbackMime, filename string) (string, string) {
	mt, err := mimetype.DetectFile(path)
	if err != nil || mt == nil || mt.Is("application/octet-stream") {
		if fallbackMime == "" {
			fallbackMime = "application/octet-stream"
		}
		return fallbackMime, filename
	}
	mimeType := mt.String()
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	ext := mt.Extension()
	if ext == "" {
		return mimeType, filename
	}
	current := filepath.Ext(filename)
	if strings.EqualFold(current, ext) {
		return mimeType, filename
	}
	base := strings.TrimSuffix(filename, current)
	if base == "" {
		base = "video"
	}
	return mimeType, base + ext
}
