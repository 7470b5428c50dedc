// Package tools defines the boundary between the navigator and the concrete
// business directory: the three tool capabilities and the payloads they return.
package tools

import (
	"context"
	"strings"
)

// Name 标识一个工具节点。
type Name string

const (
	Search    Name = "search"
	Details   Name = "details"
	Sentiment Name = "sentiment"
)

// Business 是搜索结果中的单个商户摘要，同时作为 core 缓存记录的载荷。
type Business struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Rating      float64  `json:"rating,omitempty"`
	ReviewCount int      `json:"review_count,omitempty"`
	Price       string   `json:"price,omitempty"`
	Address     string   `json:"address,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	URL         string   `json:"url,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	Distance    float64  `json:"distance_m,omitempty"`
}

// SearchQuery 描述一次目录检索。
type SearchQuery struct {
	Term     string `json:"term"`
	Location string `json:"location"`
	Limit    int    `json:"limit,omitempty"`
}

// SearchResult 是一次检索返回的商户列表。
type SearchResult struct {
	Query      SearchQuery `json:"query"`
	Total      int         `json:"total"`
	Businesses []Business  `json:"businesses"`
}

// IDs 返回结果中商户 ID 的顺序列表。
func (r *SearchResult) IDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.Businesses))
	for _, b := range r.Businesses {
		ids = append(ids, b.ID)
	}
	return ids
}

// BusinessDetails 是详情增强的结果。Found 为 false 表示目录中没有更多信息。
type BusinessDetails struct {
	BusinessID   string   `json:"business_id"`
	Name         string   `json:"name,omitempty"`
	Found        bool     `json:"found"`
	Rating       float64  `json:"rating,omitempty"`
	Price        string   `json:"price,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	Website      string   `json:"website,omitempty"`
	Address      string   `json:"address,omitempty"`
	Hours        []string `json:"hours,omitempty"`
	IsOpenNow    bool     `json:"is_open_now,omitempty"`
	Transactions []string `json:"transactions,omitempty"`
	Photos       []string `json:"photos,omitempty"`
}

// SentimentReport 汇总商户评论的情感倾向。
type SentimentReport struct {
	BusinessID  string   `json:"business_id"`
	Score       float64  `json:"score"`
	Label       string   `json:"label"`
	ReviewCount int      `json:"review_count"`
	Highlights  []string `json:"highlights,omitempty"`
}

// Searcher 执行商户检索。
type Searcher interface {
	Search(ctx context.Context, query SearchQuery) (*SearchResult, error)
}

// DetailFetcher 获取单个商户的详情。
type DetailFetcher interface {
	FetchDetails(ctx context.Context, businessID string) (*BusinessDetails, error)
}

// SentimentAnalyzer 分析单个商户的评论情感。
type SentimentAnalyzer interface {
	AnalyzeSentiment(ctx context.Context, businessID string) (*SentimentReport, error)
}

// Label 将 [-1, 1] 区间的情感分数映射为标签。
func Label(score float64) string {
	switch {
	case score >= 0.35:
		return "positive"
	case score <= -0.35:
		return "negative"
	default:
		return "mixed"
	}
}

// ScoreFromRatings 将 1-5 星评分换算为 [-1, 1] 的情感分数。
func ScoreFromRatings(ratings []int) float64 {
	if len(ratings) == 0 {
		return 0
	}
	total := 0
	for _, r := range ratings {
		total += r
	}
	mean := float64(total) / float64(len(ratings))
	return (mean - 3) / 2
}

// NormalizeID 去除 ID 两端空白。
func NormalizeID(id string) string {
	return strings.TrimSpace(id)
}
