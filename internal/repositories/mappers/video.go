package mappers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bionicotaku/lingo-services-ingest/internal/models/po"
	ingestsql "github.com/bionicotaku/lingo-services-ingest/internal/repositories/sqlc"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// VideoFromRow 将 sqlc 生成的 IngestVideo 转换为持久化实体。
func VideoFromRow(row ingestsql.IngestVideo) (*po.Video, error) {
	ranges, err := DecodeRanges(row.UploadedRanges)
	if err != nil {
		return nil, fmt.Errorf("video %s: %w", row.VideoID, err)
	}
	video := &po.Video{
		VideoID:          row.VideoID,
		UserID:           row.UserID,
		Title:            row.Title,
		Filename:         row.Filename,
		MimeType:         row.MimeType,
		TotalSize:        row.TotalSize,
		ChunkSize:        row.ChunkSize,
		FileSize:         int8Ptr(row.FileSize),
		Phase:            po.Phase(row.Phase),
		UploadedRanges:   ranges,
		UploadOffset:     row.UploadOffset,
		TmpPath:          row.TmpPath,
		ConvertedTmpPath: textPtr(row.ConvertedTmpPath),
		ChecksumSHA256:   textPtr(row.ChecksumSha256Base64),
		StorageKey:       textPtr(row.StorageKey),
		RemoteVideoID:    textPtr(row.RemoteVideoID),
		ErrorCode:        textPtr(row.ErrorCode),
		ErrorMessage:     textPtr(row.ErrorMessage),
		CreatedAt:        mustTimestamp(row.CreatedAt),
		UpdatedAt:        mustTimestamp(row.UpdatedAt),
	}
	if phase := textPtr(row.FailedPhase); phase != nil {
		fp := po.Phase(*phase)
		video.FailedPhase = &fp
	}
	return video, nil
}

// VideosFromRows 批量转换，遇到首个解码错误即返回。
func VideosFromRows(rows []ingestsql.IngestVideo) ([]*po.Video, error) {
	out := make([]*po.Video, 0, len(rows))
	for _, row := range rows {
		video, err := VideoFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, video)
	}
	return out, nil
}

// EncodeRanges 将区间列表编码为 JSONB 存储格式，nil 编码为空数组。
func EncodeRanges(ranges []po.UploadedRange) ([]byte, error) {
	if ranges == nil {
		ranges = []po.UploadedRange{}
	}
	data, err := json.Marshal(ranges)
	if err != nil {
		return nil, fmt.Errorf("encode uploaded ranges: %w", err)
	}
	return data, nil
}

// DecodeRanges 解析 JSONB 中的区间列表。
func DecodeRanges(raw []byte) ([]po.UploadedRange, error) {
	if len(raw) == 0 {
		return []po.UploadedRange{}, nil
	}
	var ranges []po.UploadedRange
	if err := json.Unmarshal(raw, &ranges); err != nil {
		return nil, fmt.Errorf("decode uploaded ranges: %w", err)
	}
	if ranges == nil {
		ranges = []po.UploadedRange{}
	}
	return ranges, nil
}

// BuildApplyTransitionParams 构造阶段迁移的 sqlc 参数。
func BuildApplyTransitionParams(videoID uuid.UUID, from, to po.Phase, patch po.VideoPatch) ingestsql.ApplyVideoTransitionParams {
	params := ingestsql.ApplyVideoTransitionParams{
		NextPhase:            string(to),
		Filename:             ToPgText(patch.Filename),
		MimeType:             ToPgText(patch.MimeType),
		FileSize:             ToPgInt8(patch.FileSize),
		ConvertedTmpPath:     ToPgText(patch.ConvertedTmpPath),
		ChecksumSha256Base64: ToPgText(patch.ChecksumSHA256),
		StorageKey:           ToPgText(patch.StorageKey),
		RemoteVideoID:        ToPgText(patch.RemoteVideoID),
		ErrorCode:            ToPgText(patch.ErrorCode),
		ErrorMessage:         ToPgText(patch.ErrorMessage),
		VideoID:              videoID,
		ExpectedPhase:        string(from),
	}
	if patch.FailedPhase != nil {
		params.FailedPhase = pgtype.Text{String: string(*patch.FailedPhase), Valid: true}
	}
	return params
}

// PhaseStrings 将阶段列表转换为 text[] 参数。
func PhaseStrings(phases []po.Phase) []string {
	out := make([]string, 0, len(phases))
	for _, p := range phases {
		out = append(out, string(p))
	}
	return out
}

func mustTimestamp(ts pgtype.Timestamptz) time.Time {
	if !ts.Valid {
		return time.Time{}
	}
	return ts.Time
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func int8Ptr(i pgtype.Int8) *int64 {
	if !i.Valid {
		return nil
	}
	return &i.Int64
}

// ToPgText 将 string 指针转换为 pgtype.Text。
func ToPgText(value *string) pgtype.Text {
	if value == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{
		String: *value,
		Valid:  true,
	}
}

// ToPgInt8 将 int64 指针转换为 pgtype.Int8。
func ToPgInt8(value *int64) pgtype.Int8 {
	if value == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{
		Int64: *value,
		Valid: true,
	}
}
