package httpx

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ErrorBody 错误响应体（只暴露 message，不泄漏内部堆栈）
type ErrorBody struct {
	Error string `json:"error"`
}

// WriteJSON 写出 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError 写出错误响应
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorBody{Error: message})
}

// ParseInt 解析整数查询参数，失败返回默认值
func ParseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

// ParseTime 解析 ISO 8601 时间查询参数
func ParseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ReadBodyJSON 读取并反序列化请求体（限制大小）
func ReadBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}
