package model

import (
	"encoding/json"
	"time"
)

// RequestLog はAPIへの1リクエストの監査ログエントリ。
// コア処理はこの書き込みの成否に依存しない。
type RequestLog struct {
	ID         string
	Endpoint   string
	Method     string
	Domain     string
	Response   json.RawMessage
	StatusCode int
	CreatedAt  time.Time
}
