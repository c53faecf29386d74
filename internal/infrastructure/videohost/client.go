// Package videohost 实现视频平台的可续传上传协议：先初始化上传会话，再把视频流式 PUT 到会话地址。
package videohost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultBaseURL     = "https://www.googleapis.com"
	initPath           = "/upload/youtube/v3/videos"
	defaultPrivacy     = "unlisted"
	defaultInitTimeout = 30 * time.Second
	maxErrorBody       = 2048
)

// ErrMissingSessionURL 表示初始化响应缺少 Location。
var ErrMissingSessionURL = errors.New("videohost: upload session response has no location")

// HTTPError 描述平台返回的非 2xx 响应。
type HTTPError struct {
	Op     string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("videohost %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Options 描述客户端参数。
type Options struct {
	BaseURL      string
	Privacy      string
	InitTimeout  time.Duration
	RetryMax     int
	RetryWaitMax time.Duration
}

// Client 实现 services.VideoHost。
//
// 会话初始化是幂等的，走 retryablehttp 自动重试；视频体是一次性流，PUT 不重试。
type Client struct {
	init    *retryablehttp.Client
	http    *http.Client
	baseURL string
	privacy string
	timeout time.Duration
	log     *log.Helper
}

// New 构造 Client。httpClient 应携带鉴权（例如 oauth2.NewClient 返回的客户端）。
func New(httpClient *http.Client, opts Options, logger log.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	helper := log.NewHelper(logger)

	retry := retryablehttp.NewClient()
	retry.HTTPClient = httpClient
	retry.Logger = leveledLogger{helper}
	if opts.RetryMax > 0 {
		retry.RetryMax = opts.RetryMax
	}
	if opts.RetryWaitMax > 0 {
		retry.RetryWaitMax = opts.RetryWaitMax
		if retry.RetryWaitMin > opts.RetryWaitMax {
			retry.RetryWaitMin = opts.RetryWaitMax
		}
	}

	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	privacy := opts.Privacy
	if privacy == "" {
		privacy = defaultPrivacy
	}
	timeout := opts.InitTimeout
	if timeout <= 0 {
		timeout = defaultInitTimeout
	}
	return &Client{
		init:    retry,
		http:    httpClient,
		baseURL: base,
		privacy: privacy,
		timeout: timeout,
		log:     helper,
	}
}

type videoResource struct {
	Snippet struct {
		Title string `json:"title"`
	} `json:"snippet"`
	Status struct {
		PrivacyStatus string `json:"privacyStatus"`
	} `json:"status"`
}

// UploadVideo 实现 services.VideoHost，返回平台分配的视频 ID。
func (c *Client) UploadVideo(ctx context.Context, body io.Reader, title string) (string, error) {
	sessionURL, err := c.startSession(ctx, title)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("videohost upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", readHTTPError("upload", resp)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if created.ID == "" {
		return "", errors.New("videohost upload: response has no video id")
	}
	c.log.WithContext(ctx).Infof("video host upload finished: remote_id=%s", created.ID)
	return created.ID, nil
}

func (c *Client) startSession(ctx context.Context, title string) (string, error) {
	var meta videoResource
	meta.Snippet.Title = title
	meta.Status.PrivacyStatus = c.privacy
	payload, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode video metadata: %w", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + initPath + "?" + url.Values{
		"uploadType": {"resumable"},
		"part":       {"snippet,status"},
	}.Encode()
	req, err := retryablehttp.NewRequestWithContext(initCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Type", "video/*")

	resp, err := c.init.Do(req)
	if err != nil {
		return "", fmt.Errorf("videohost start session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", readHTTPError("start session", resp)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", ErrMissingSessionURL
	}
	return location, nil
}

func readHTTPError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &HTTPError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
}

// leveledLogger 把 retryablehttp 日志转发到 kratos。
type leveledLogger struct {
	h *log.Helper
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.h.Errorw(append([]interface{}{"msg", msg}, kv...)...) }
func (l leveledLogger) Warn(msg string, kv ...interface{}) { l.h.Warnw(append([]interface{}{"msg", msg}, kv...)...) }
func (l leveledLogger) Info(msg string, kv ...interface{}) { l.h.Debugw(append([]interface{}{"msg", msg}, kv...)...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.h.Debugw(append([]interface{}{"msg", msg}, kv...)...) }
