// Package ranges 实现分片上传的已接收字节区间簿记。
//
// 所有函数均为纯函数：输入区间集合不会被修改，调用方负责持久化结果。
// 区间为闭区间 [Start, End]，合并后的集合按 Start 升序、两两不相交，
// 且相邻区间之间至少间隔一个未接收字节。
package ranges

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bionicotaku/lingo-services-ingest/internal/models/po"
)

// Range 为已接收区间的别名，便于调用方不直接依赖 po 包。
type Range = po.UploadedRange

// 区间校验错误。
var (
	ErrInvalidRange   = errors.New("ranges: invalid byte range")
	ErrLengthMismatch = errors.New("ranges: declared length does not match range")
	ErrInvalidTotal   = errors.New("ranges: invalid total size")
)

// Merge 返回规范化后的区间集合：排序后折叠重叠或首尾相接的区间。
// 对已规范化的输入再次调用结果不变。
func Merge(in []Range) []Range {
	if len(in) == 0 {
		return []Range{}
	}
	sorted := make([]Range, len(in))
	copy(sorted, in)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].End < sorted[j].End
		}
		return sorted[i].Start < sorted[j].Start
	})

	out := make([]Range, 0, len(sorted))
	cur := sorted[0]
	for _, next := range sorted[1:] {
		if next.Start <= cur.End+1 {
			if next.End > cur.End {
				cur.End = next.End
			}
			continue
		}
		out = append(out, cur)
		cur = next
	}
	return append(out, cur)
}

// ContiguousOffset 返回从字节 0 起连续接收的字节数（即首个缺口的位置）。
func ContiguousOffset(in []Range) int64 {
	merged := Merge(in)
	if len(merged) == 0 || merged[0].Start != 0 {
		return 0
	}
	return merged[0].End + 1
}

// IsCovered 判断 [start, end] 是否完整落在某个已接收区间内。
func IsCovered(in []Range, start, end int64) bool {
	for _, r := range Merge(in) {
		if r.Start <= start && end <= r.End {
			return true
		}
	}
	return false
}

// HasConflictingOverlap 判断 [start, end] 是否与已接收区间部分重叠。
// 完全包含与首尾相接都不算冲突。
func HasConflictingOverlap(in []Range, start, end int64) bool {
	for _, r := range Merge(in) {
		if r.Start <= start && end <= r.End {
			return false
		}
	}
	for _, r := range Merge(in) {
		if start <= r.End && r.Start <= end {
			return true
		}
	}
	return false
}

// Validate 校验客户端提交的区间：0 <= start <= end < total，
// 若声明了长度则必须等于 end-start+1。
func Validate(start, end, total int64, declaredLen *int64) error {
	if total <= 0 {
		return fmt.Errorf("%w: total=%d", ErrInvalidTotal, total)
	}
	if start < 0 || end < start || end >= total {
		return fmt.Errorf("%w: start=%d end=%d total=%d", ErrInvalidRange, start, end, total)
	}
	if declaredLen != nil && *declaredLen != end-start+1 {
		return fmt.Errorf("%w: declared=%d expected=%d", ErrLengthMismatch, *declaredLen, end-start+1)
	}
	return nil
}

// ParseContentRange 解析形如 "bytes 0-1023/4096" 的 Content-Range 头。
func ParseContentRange(header string) (start, end, total int64, err error) {
	value := strings.TrimSpace(header)
	unit, spec, ok := strings.Cut(value, " ")
	if !ok || unit != "bytes" {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}
	span, totalPart, ok := strings.Cut(strings.TrimSpace(spec), "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}
	startPart, endPart, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidRange, header)
	}
	if start, err = strconv.ParseInt(startPart, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: start: %v", ErrInvalidRange, err)
	}
	if end, err = strconv.ParseInt(endPart, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: end: %v", ErrInvalidRange, err)
	}
	if total, err = strconv.ParseInt(totalPart, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("%w: total: %v", ErrInvalidTotal, err)
	}
	if err := Validate(start, end, total, nil); err != nil {
		return 0, 0, 0, err
	}
	return start, end, total, nil
}
