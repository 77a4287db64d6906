package frigate

import (
	"errors"
	"fmt"
)

// APIError Frigate API 调用失败（网络错误、非 2xx 或响应体非法）
type APIError struct {
	Op         string
	StatusCode int // 0 表示未收到响应
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("frigate %s: http %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("frigate %s: http %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("frigate %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("frigate %s: unknown error", e.Op)
	}
}

func (e *APIError) Unwrap() error { return e.Err }

// IsAPIError 判断 err 链中是否包含 *APIError
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
