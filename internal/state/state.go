// Package state holds the per-session conversation record that the
// supervisor loop reads and mutates, and that the checkpoint store persists.
package state

import (
	"strings"
	"time"

	"Yelp-Navigator/internal/tools"
)

// Role 标识消息的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message 是会话日志中的一条记录。
type Message struct {
	Role    Role       `json:"role"`
	Content string     `json:"content"`
	Tool    tools.Name `json:"tool,omitempty"`
	At      time.Time  `json:"at"`
}

// CacheFlags 标记某个商户在实体缓存中已有的数据种类。
type CacheFlags struct {
	HasCore      bool `json:"has_core"`
	HasDetails   bool `json:"has_details"`
	HasSentiment bool `json:"has_sentiment"`
}

// ToolResults 保存最近一次各工具调用的完整载荷，仅用于组装回复。
type ToolResults struct {
	Search    *tools.SearchResult              `json:"search,omitempty"`
	Details   map[string]tools.BusinessDetails `json:"details,omitempty"`
	Sentiment map[string]tools.SentimentReport `json:"sentiment,omitempty"`
}

// Empty 判断是否没有任何可供总结的结果。
func (r ToolResults) Empty() bool {
	hasSearch := r.Search != nil && len(r.Search.Businesses) > 0
	return !hasSearch && len(r.Details) == 0 && len(r.Sentiment) == 0
}

// Conversation 是单个会话的完整状态。同一时刻只允许一个回合写入。
type Conversation struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`

	Query       string      `json:"query,omitempty"`
	Location    string      `json:"location,omitempty"`
	DetailLevel DetailLevel `json:"detail_level,omitempty"`

	KnownBusinessIDs     []string              `json:"known_business_ids,omitempty"`
	BusinessNames        map[string]string     `json:"business_names,omitempty"`
	CacheFlags           map[string]CacheFlags `json:"cache_flags,omitempty"`
	ToolResults          ToolResults           `json:"tool_results"`
	CurrentBusinessFocus string                `json:"current_business_focus,omitempty"`

	ErrorCount    int       `json:"error_count"`
	RetryCount    int       `json:"retry_count"`
	LastErrorKind ErrorKind `json:"last_error_kind,omitempty"`
	RevisionCount int       `json:"revision_count"`

	Phase                 Phase   `json:"phase"`
	Trail                 []Phase `json:"trail,omitempty"`
	Request               int     `json:"request"`
	RequestStart          int     `json:"request_start"`
	Steps                 int     `json:"steps"`
	ClarificationAttempts int     `json:"clarification_attempts"`
	AwaitingInput         bool    `json:"awaiting_input"`
	PendingQuestion       string  `json:"pending_question,omitempty"`
	Summary               string  `json:"summary,omitempty"`
	RevisionFeedback      string  `json:"revision_feedback,omitempty"`
	Response              string  `json:"response,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// New 创建一个处于 clarifying 状态的空会话。
func New(sessionID string) *Conversation {
	return &Conversation{
		SessionID:     sessionID,
		Phase:         PhaseClarifying,
		BusinessNames: make(map[string]string),
		CacheFlags:    make(map[string]CacheFlags),
		UpdatedAt:     time.Now().UTC(),
	}
}

// AppendMessage 追加一条消息，日志只增不改。
func (c *Conversation) AppendMessage(role Role, content string, tool tools.Name) {
	c.Messages = append(c.Messages, Message{Role: role, Content: content, Tool: tool, At: time.Now().UTC()})
}

// LastUserMessage 返回最近一条用户消息。
func (c *Conversation) LastUserMessage() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i].Content
		}
	}
	return ""
}

// UserMessagesSince 返回自第 from 条消息起的所有用户消息文本。
func (c *Conversation) UserMessagesSince(from int) []string {
	var out []string
	if from < 0 {
		from = 0
	}
	for i := from; i < len(c.Messages); i++ {
		if c.Messages[i].Role == RoleUser {
			out = append(out, c.Messages[i].Content)
		}
	}
	return out
}

// BeginRequest 为新的顶层请求重置计数器与本轮结果。
func (c *Conversation) BeginRequest() {
	c.Request++
	c.RequestStart = len(c.Messages)
	c.ErrorCount = 0
	c.RetryCount = 0
	c.LastErrorKind = ErrorNone
	c.RevisionCount = 0
	c.Steps = 0
	c.ClarificationAttempts = 0
	c.AwaitingInput = false
	c.PendingQuestion = ""
	c.Summary = ""
	c.RevisionFeedback = ""
	c.Response = ""
	c.ToolResults = ToolResults{}
	c.Phase = PhaseClarifying
	c.Trail = []Phase{PhaseClarifying}
}

// SetIntent 写入澄清后的意图。
func (c *Conversation) SetIntent(query, location string, level DetailLevel) {
	c.Query = strings.TrimSpace(query)
	c.Location = strings.TrimSpace(location)
	c.DetailLevel = level
}

// MoveTo 切换到下一个状态并记录轨迹。
func (c *Conversation) MoveTo(next Phase) {
	c.Phase = next
	c.Trail = append(c.Trail, next)
}

// AddKnownBusiness 以有序去重方式登记商户 ID。
func (c *Conversation) AddKnownBusiness(id string) bool {
	for _, known := range c.KnownBusinessIDs {
		if known == id {
			return false
		}
	}
	c.KnownBusinessIDs = append(c.KnownBusinessIDs, id)
	return true
}

// IsKnown 判断商户是否已登记。
func (c *Conversation) IsKnown(id string) bool {
	for _, known := range c.KnownBusinessIDs {
		if known == id {
			return true
		}
	}
	return false
}

// MarkCore 登记商户并设置 core 标记，是 HasCore 唯一的写入口。
func (c *Conversation) MarkCore(id, name string) {
	c.AddKnownBusiness(id)
	c.ensureMaps()
	if name != "" {
		c.BusinessNames[id] = name
	}
	flags := c.CacheFlags[id]
	flags.HasCore = true
	c.CacheFlags[id] = flags
}

// MarkDetails 设置详情标记。
func (c *Conversation) MarkDetails(id string) {
	c.ensureMaps()
	flags := c.CacheFlags[id]
	flags.HasDetails = true
	c.CacheFlags[id] = flags
}

// MarkSentiment 设置情感标记。
func (c *Conversation) MarkSentiment(id string) {
	c.ensureMaps()
	flags := c.CacheFlags[id]
	flags.HasSentiment = true
	c.CacheFlags[id] = flags
}

// Flags 返回商户的缓存标记。
func (c *Conversation) Flags(id string) CacheFlags {
	return c.CacheFlags[id]
}

// RecordFailure 记录一次节点失败。
func (c *Conversation) RecordFailure(kind ErrorKind, retries int) {
	c.ErrorCount++
	if retries > 0 {
		c.RetryCount += retries
	}
	c.LastErrorKind = kind
}

// SearchedThisRequest 判断本轮请求是否已有检索结果。
func (c *Conversation) SearchedThisRequest() bool {
	return c.ToolResults.Search != nil
}

// TargetIDs 返回本轮增强的目标商户：优先使用聚焦商户，否则取检索结果的前 limit 个。
func (c *Conversation) TargetIDs(limit int) []string {
	if c.CurrentBusinessFocus != "" {
		return []string{c.CurrentBusinessFocus}
	}
	ids := c.ToolResults.Search.IDs()
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

func (c *Conversation) ensureMaps() {
	if c.CacheFlags == nil {
		c.CacheFlags = make(map[string]CacheFlags)
	}
	if c.BusinessNames == nil {
		c.BusinessNames = make(map[string]string)
	}
}
