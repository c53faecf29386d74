// Package gcs 提供与 Google Cloud Storage 交互的基础设施封装。
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/oauth2/google"
)

// URLSigner 为已入库对象生成 V4 Signed 读取地址。
type URLSigner struct {
	bucket         string
	googleAccessID string
	privateKey     []byte
	now            func() time.Time
	log            *log.Helper
}

// Option 定义可选配置。
type Option func(*URLSigner)

// WithClock 覆盖时间获取函数，便于测试。
func WithClock(clock func() time.Time) Option {
	return func(s *URLSigner) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithServiceAccountKey 直接注入访问 ID 与私钥。
func WithServiceAccountKey(accessID string, privateKey []byte) Option {
	return func(s *URLSigner) {
		if accessID != "" {
			s.googleAccessID = accessID
		}
		if len(privateKey) > 0 {
			s.privateKey = append([]byte(nil), privateKey...)
		}
	}
}

// WithServiceAccountFile 从 service account JSON 文件读取私钥。
func WithServiceAccountFile(path string) Option {
	return func(s *URLSigner) {
		if path == "" {
			return
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			s.log.Warnf("read service account key %s: %v", path, err)
			return
		}
		key, accessID, err := parseServiceAccountKey(raw)
		if err != nil {
			s.log.Warnf("parse service account key %s: %v", path, err)
			return
		}
		WithServiceAccountKey(accessID, key)(s)
	}
}

// NewURLSigner 创建 URLSigner；未注入私钥时从默认凭据中读取。
func NewURLSigner(ctx context.Context, bucket string, logger log.Logger, opts ...Option) (*URLSigner, error) {
	if bucket == "" {
		return nil, errors.New("gcs signer: bucket is required")
	}
	signer := &URLSigner{
		bucket: bucket,
		now:    time.Now,
		log:    log.NewHelper(logger),
	}
	for _, opt := range opts {
		opt(signer)
	}

	if len(signer.privateKey) == 0 {
		privKey, detectedAccessID, err := loadServiceAccountKey(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs signer: %w", err)
		}
		signer.privateKey = privKey
		if signer.googleAccessID == "" {
			signer.googleAccessID = detectedAccessID
		}
	}
	if signer.googleAccessID == "" {
		return nil, errors.New("gcs signer: google access id is required")
	}
	return signer, nil
}

// SignedReadURL 生成对象的限时 GET 地址。
func (s *URLSigner) SignedReadURL(ctx context.Context, objectKey string, ttl time.Duration) (string, time.Time, error) {
	if objectKey == "" {
		return "", time.Time{}, errors.New("object key is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be positive")
	}

	expires := s.now().Add(ttl)
	url, err := storage.SignedURL(s.bucket, objectKey, &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         http.MethodGet,
		Expires:        expires,
		GoogleAccessID: s.googleAccessID,
		PrivateKey:     s.privateKey,
	})
	if err != nil {
		s.log.WithContext(ctx).Errorf("generate read signed url failed: bucket=%s object=%s err=%v", s.bucket, objectKey, err)
		return "", time.Time{}, fmt.Errorf("signed url: %w", err)
	}
	return url, expires, nil
}

type serviceAccountKey struct {
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
}

func loadServiceAccountKey(ctx context.Context) ([]byte, string, error) {
	creds, err := google.FindDefaultCredentials(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("find default credentials: %w", err)
	}
	if len(creds.JSON) == 0 {
		return nil, "", errors.New("service account JSON not found in default credentials")
	}
	return parseServiceAccountKey(creds.JSON)
}

func parseServiceAccountKey(raw []byte) ([]byte, string, error) {
	var key serviceAccountKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, "", fmt.Errorf("parse service account json: %w", err)
	}
	if key.PrivateKey == "" {
		return nil, "", errors.New("service account private key is empty; use a service account JSON credential")
	}
	return []byte(key.PrivateKey), key.ClientEmail, nil
}
