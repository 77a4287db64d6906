// Package frigate 提供 Frigate NVR HTTP API 的最小客户端
package frigate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// 操作名，用于错误与指标标签
const (
	OpRetain            = "retain"
	OpRecordings        = "recordings"
	OpRecordingsSummary = "recordings_summary"
	OpVersion           = "version"
)

const maxResponseBodyBytes = 8 << 20

// Options 客户端参数
type Options struct {
	BaseURL    string
	Username   string
	Password   string
	Timeout    time.Duration
	RatePerSec int // <=0 不限流
	Burst      int
	Retries    int // 仅 GET 请求在网络错误/5xx 时重试
	Backoff    []time.Duration
	HTTPClient *http.Client
	// 连续不可达 BreakerThreshold 次后熔断；<=0 关闭
	BreakerThreshold int
	BreakerCooldown  time.Duration
	OnBreakerChange  func(from, to BreakerState)
	// Observe 每次 API 调用结束后回调（含重试总耗时）
	Observe func(op string, d time.Duration, err error)
}

// Client Frigate HTTP API 客户端，可并发使用
type Client struct {
	base     *url.URL
	http     *http.Client
	limiter  *rate.Limiter
	username string
	password string
	retries  int
	backoff  []time.Duration
	breaker  *breaker
	observe  func(op string, d time.Duration, err error)
}

// NewClient 创建客户端
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("frigate: base url required")
	}
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("frigate: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("frigate: unsupported scheme %q", u.Scheme)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = opts.RatePerSec * 2
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}

	backoff := opts.Backoff
	if len(backoff) == 0 {
		backoff = []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, time.Second}
	}

	var br *breaker
	if opts.BreakerThreshold > 0 {
		br = newBreaker(opts.BreakerThreshold, opts.BreakerCooldown, opts.OnBreakerChange)
	}

	return &Client{
		base:     u,
		http:     hc,
		limiter:  limiter,
		username: opts.Username,
		password: opts.Password,
		retries:  max(opts.Retries, 0),
		backoff:  backoff,
		breaker:  br,
		observe:  opts.Observe,
	}, nil
}

// BreakerState 当前熔断状态；未启用熔断时恒为 closed
func (c *Client) BreakerState() BreakerState {
	if c.breaker == nil {
		return BreakerClosed
	}
	return c.breaker.State()
}

// BaseURL 返回实例地址
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Retain 设置/取消事件保留：retain=true 为 POST，false 为 DELETE
func (c *Client) Retain(ctx context.Context, eventID string, retain bool) (json.RawMessage, error) {
	method := http.MethodDelete
	if retain {
		method = http.MethodPost
	}
	return c.do(ctx, OpRetain, method, c.base.JoinPath("api", "events", eventID, "retain"))
}

// GetRecordings 获取摄像头录像片段；after/before 为 nil 表示该侧不限
func (c *Client) GetRecordings(ctx context.Context, camera string, after, before *int64) (json.RawMessage, error) {
	u := c.base.JoinPath("api", camera, "recordings")
	q := url.Values{}
	if after != nil {
		q.Set("after", strconv.FormatInt(*after, 10))
	}
	if before != nil {
		q.Set("before", strconv.FormatInt(*before, 10))
	}
	u.RawQuery = q.Encode()
	return c.do(ctx, OpRecordings, http.MethodGet, u)
}

// GetRecordingsSummary 获取摄像头录像汇总
func (c *Client) GetRecordingsSummary(ctx context.Context, camera string) (json.RawMessage, error) {
	return c.do(ctx, OpRecordingsSummary, http.MethodGet, c.base.JoinPath("api", camera, "recordings", "summary"))
}

// Version 返回 Frigate 版本字符串（健康检查使用）
func (c *Client) Version(ctx context.Context) (string, error) {
	start := time.Now()
	body, err := c.roundTrip(ctx, OpVersion, http.MethodGet, c.base.JoinPath("api", "version"))
	c.report(OpVersion, start, err)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (c *Client) do(ctx context.Context, op, method string, u *url.URL) (json.RawMessage, error) {
	start := time.Now()
	body, err := c.roundTrip(ctx, op, method, u)
	if err == nil && !json.Valid(body) {
		err = &APIError{Op: op, Err: errors.New("response is not valid json")}
	}
	c.report(op, start, err)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// roundTrip 经熔断器发送请求；4xx 说明实例可达，不计入失败
func (c *Client) roundTrip(ctx context.Context, op, method string, u *url.URL) ([]byte, error) {
	if c.breaker == nil {
		return c.retry(ctx, op, method, u)
	}
	if err := c.breaker.allow(); err != nil {
		return nil, &APIError{Op: op, Err: err}
	}

	body, err := c.retry(ctx, op, method, u)
	switch {
	case err == nil:
		c.breaker.record(false)
	case ctx.Err() != nil:
		c.breaker.release()
	default:
		c.breaker.record(unavailable(err))
	}
	return body, err
}

func unavailable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	return apiErr.StatusCode == 0 || apiErr.StatusCode >= 500
}

// retry GET 在网络错误/5xx 时按 backoff 重试
func (c *Client) retry(ctx context.Context, op, method string, u *url.URL) ([]byte, error) {
	attempts := 1
	if method == http.MethodGet {
		attempts += c.retries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := c.backoff[min(attempt-1, len(c.backoff)-1)]
			select {
			case <-ctx.Done():
				return nil, &APIError{Op: op, Err: ctx.Err()}
			case <-time.After(wait):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, &APIError{Op: op, Err: err}
			}
		}

		body, status, err := c.once(ctx, method, u)
		if err == nil && status >= 200 && status < 300 {
			return body, nil
		}
		lastErr = &APIError{Op: op, StatusCode: status, Err: err, Body: truncate(body, 256)}
		// 4xx 不重试
		if err == nil && status < 500 {
			return nil, lastErr
		}
		if ctx.Err() != nil {
			return nil, &APIError{Op: op, Err: ctx.Err()}
		}
	}
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, method string, u *url.URL) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), http.NoBody)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(resp.Body, maxResponseBodyBytes)); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return buf.Bytes(), resp.StatusCode, nil
}

func (c *Client) report(op string, start time.Time, err error) {
	if c.observe != nil {
		c.observe(op, time.Since(start), err)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
