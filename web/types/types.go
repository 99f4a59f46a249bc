package types

import (
	"time"

	"github.com/google/uuid"
)

// AgentMessage represents a message in the format expected by the model API.
type AgentMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chart kinds understood by the front end.
const (
	ChartMetricOverTime = "metric_over_time"
	ChartVideoCard      = "video_card"
	ChartEngagement     = "engagement"
)

// ChartPoint is one labelled value in a series.
type ChartPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// VideoCard carries the fields the video renderer needs.
type VideoCard struct {
	Title     string  `json:"title"`
	VideoID   string  `json:"video_id,omitempty"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	Views     float64 `json:"views,omitempty"`
}

// Chart is a tagged payload describing one renderable chart. Only the fields
// relevant to Kind are populated.
type Chart struct {
	Kind   string       `json:"kind"`
	Title  string       `json:"title,omitempty"`
	Metric string       `json:"metric,omitempty"`
	Points []ChartPoint `json:"points,omitempty"`
	Video  *VideoCard   `json:"video,omitempty"`
}

// ToolCall records one local tool invocation made while answering a message.
type ToolCall struct {
	Name   string `json:"name"`
	Args   string `json:"args"`
	Result string `json:"result"`
}

// ChatMessage represents a single message in the chat, stored in the DB.
// Content never contains base64 payloads; those are stripped before storage.
type ChatMessage struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	Role        string     `json:"role"`
	Content     string     `json:"content"`
	Rendered    string     `json:"rendered,omitempty"`
	Attachments []string   `json:"attachments,omitempty"`
	Charts      []Chart    `json:"charts,omitempty"`
	ToolCalls   []ToolCall `json:"tool_calls,omitempty"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
}

// Session represents a chat session.
type Session struct {
	ID         uuid.UUID  `json:"id"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastActive time.Time  `json:"last_active"`
	Title      string     `json:"title"`
	IsActive   bool       `json:"is_active"`
}
