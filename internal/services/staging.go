package services

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const hashBufferSize = 1 << 20

// StagingArea 管理本地暂存目录，原始上传按 <video_id>.part 命名。
type StagingArea struct {
	dir string
}

// NewStagingArea 确保暂存目录存在。
func NewStagingArea(dir string) (*StagingArea, error) {
	if dir == "" {
		return nil, stderrors.New("staging area: directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("staging area: create %s: %w", dir, err)
	}
	return &StagingArea{dir: dir}, nil
}

// Dir 返回暂存目录。
func (s *StagingArea) Dir() string {
	return s.dir
}

// PathFor 返回记录的原始暂存文件路径。
func (s *StagingArea) PathFor(videoID uuid.UUID) string {
	return filepath.Join(s.dir, videoID.String()+".part")
}

// Allocate 创建稀疏暂存文件并预设长度，已存在时保持内容不变。
func (s *StagingArea) Allocate(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return fmt.Errorf("allocate staging file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat staging file: %w", err)
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			return fmt.Errorf("truncate staging file: %w", err)
		}
	}
	return nil
}

// writeChunk 将 body 的前 length 个字节写入 path 的 offset 处。
// body 不足 length 时返回 errShortChunk；多余字节不会被读取。
func writeChunk(path string, offset, length int64, body io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrStagingFileMissing, path)
		}
		return 0, fmt.Errorf("open staging file: %w", err)
	}
	defer f.Close()

	written, err := io.CopyN(io.NewOffsetWriter(f, offset), body, length)
	if err != nil {
		if stderrors.Is(err, io.EOF) {
			return written, fmt.Errorf("%w: got %d of %d bytes", errShortChunk, written, length)
		}
		return written, fmt.Errorf("write staging file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return written, fmt.Errorf("sync staging file: %w", err)
	}
	return written, nil
}

// fileExists 判断普通文件是否存在。
func fileExists(path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func requireFile(path string) error {
	ok, err := fileExists(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrStagingFileMissing, path)
	}
	return nil
}

// removeFiles 删除暂存文件，忽略不存在的路径。
func removeFiles(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// sha256File 流式计算文件摘要，返回 base64 编码与文件大小。
func sha256File(ctx context.Context, path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return "", 0, fmt.Errorf("%w: %s", ErrStagingFileMissing, path)
		}
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashBufferSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return "", total, err
		}
		n, readErr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			total += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", total, fmt.Errorf("read %s: %w", path, readErr)
		}
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), total, nil
}
