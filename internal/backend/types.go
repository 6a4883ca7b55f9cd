package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mirror_worker/internal/logger"
)

// 投递状态
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// WorkerConfig 后端下发的运行配置
// 启动时获取一次，进程生命周期内不可变
type WorkerConfig struct {
	APIID               int      `json:"api_id"`
	APIHash             string   `json:"api_hash"`
	PhoneNumber         string   `json:"phone_number"`
	SourceChannelID     int64    `json:"source_channel_id"`
	DestinationChannels []string `json:"destination_channels"`
	DelaySeconds        float64  `json:"delay_seconds"`

	// 以下字段仅供参考，缺失时为零值
	BotToken         string `json:"bot_token,omitempty"`
	Status           string `json:"status,omitempty"`
	RestartRequested bool   `json:"restart_requested,omitempty"`
	SessionString    string `json:"session_string,omitempty"` // Telethon StringSession，本地会话缺失时导入
}

// Delay 每次发送前的防刷屏间隔
func (c WorkerConfig) Delay() time.Duration {
	if c.DelaySeconds <= 0 {
		return 0
	}
	return time.Duration(c.DelaySeconds * float64(time.Second))
}

// UnmarshalJSON 数字字段兼容字符串和数字两种写法
func (c *WorkerConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		APIID               flexNumber      `json:"api_id"`
		APIHash             string          `json:"api_hash"`
		PhoneNumber         string          `json:"phone_number"`
		SourceChannelID     flexNumber      `json:"source_channel_id"`
		DestinationChannels []flexNumber    `json:"destination_channels"`
		DelaySeconds        flexNumber      `json:"delay_seconds"`
		BotToken            string          `json:"bot_token"`
		Status              string          `json:"status"`
		SessionString       *string         `json:"session_string"`
		RestartRequested    json.RawMessage `json:"restart_requested"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	apiID, err := raw.APIID.Int64()
	if err != nil {
		return fmt.Errorf("api_id: %w", err)
	}
	sourceID, err := raw.SourceChannelID.Int64()
	if err != nil {
		return fmt.Errorf("source_channel_id: %w", err)
	}
	delay, err := raw.DelaySeconds.Float64()
	if err != nil {
		return fmt.Errorf("delay_seconds: %w", err)
	}

	// 空值和 null 也保留，投递时按失败上报
	destinations := make([]string, 0, len(raw.DestinationChannels))
	for _, d := range raw.DestinationChannels {
		destinations = append(destinations, d.String())
	}

	*c = WorkerConfig{
		APIID:               int(apiID),
		APIHash:             raw.APIHash,
		PhoneNumber:         raw.PhoneNumber,
		SourceChannelID:     sourceID,
		DestinationChannels: destinations,
		DelaySeconds:        delay,
		BotToken:            strings.TrimSpace(raw.BotToken),
		Status:              raw.Status,
	}
	if raw.SessionString != nil {
		c.SessionString = strings.TrimSpace(*raw.SessionString)
	}
	c.RestartRequested = parseFlexBool(raw.RestartRequested)
	return nil
}

// parseFlexBool 接受 true、"true"、null；无法识别时记录警告并视为 false
func parseFlexBool(data json.RawMessage) bool {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return false
	}

	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s = strings.TrimSpace(s); s == "" {
			return false
		}
		if v, err := strconv.ParseBool(s); err == nil {
			return v
		}
	}

	logger.L().Warnf("Ignoring malformed restart_requested value %s", string(data))
	return false
}

// flexNumber 接受 123、"123"、null
type flexNumber string

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = flexNumber(strings.TrimSpace(s))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("expected number or numeric string, got %s", string(data))
	}
	*n = flexNumber(num.String())
	return nil
}

func (n flexNumber) String() string { return string(n) }

func (n flexNumber) Int64() (int64, error) {
	if n == "" {
		return 0, nil
	}
	return strconv.ParseInt(string(n), 10, 64)
}

func (n flexNumber) Float64() (float64, error) {
	if n == "" {
		return 0, nil
	}
	return strconv.ParseFloat(string(n), 64)
}

// LogEntry 单次投递日志（每个消息 x 目标频道一条）
type LogEntry struct {
	ConfigID             string  `json:"config_id"`
	SourceChannelID      int64   `json:"source_channel_id"`
	DestinationChannelID string  `json:"destination_channel_id"`
	MessageType          string  `json:"message_type"`
	Status               string  `json:"status"`
	ErrorMessage         *string `json:"error_message"`
}

// Metrics 一个统计窗口内的投递指标
type Metrics struct {
	TotalMessages      int     `json:"total_messages"`
	SuccessfulMessages int     `json:"successful_messages"`
	FailedMessages     int     `json:"failed_messages"`
	AvgLatencySeconds  float64 `json:"avg_latency_seconds"`
}
