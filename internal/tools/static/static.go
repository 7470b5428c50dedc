// Package static is an offline business directory backed by a JSON file. It
// implements the three tool capabilities so the navigator can run without a
// Yelp API key.
package static

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"Yelp-Navigator/internal/tools"
)

//go:embed sample.json
var sampleData []byte

// Review 是一条离线评论。
type Review struct {
	Rating int    `json:"rating"`
	Text   string `json:"text"`
}

// Entry 是目录中的一个商户。
type Entry struct {
	tools.Business
	City     string                 `json:"city"`
	Keywords []string               `json:"keywords,omitempty"`
	Details  *tools.BusinessDetails `json:"details,omitempty"`
	Reviews  []Review               `json:"reviews,omitempty"`
}

// Directory 通过简单的关键字匹配提供检索、详情与评论情感。
type Directory struct {
	entries    []Entry
	byID       map[string]int
	maxResults int
}

// New 创建离线目录。
func New(entries []Entry, maxResults int) *Directory {
	if maxResults <= 0 {
		maxResults = 10
	}
	d := &Directory{entries: entries, byID: make(map[string]int, len(entries)), maxResults: maxResults}
	for i, e := range entries {
		d.byID[e.ID] = i
	}
	return d
}

// Load 从 JSON 文件加载目录条目。
func Load(path string, maxResults int) (*Directory, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("目录文件路径不能为空")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析目录路径失败: %w", err)
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取目录文件失败: %w", err)
	}
	return parse(content, maxResults)
}

// Sample 返回内置的示例目录。
func Sample() *Directory {
	d, err := parse(sampleData, 0)
	if err != nil {
		panic(err)
	}
	return d
}

func parse(content []byte, maxResults int) (*Directory, error) {
	var entries []Entry
	if err := json.Unmarshal(content, &entries); err != nil {
		return nil, fmt.Errorf("解析目录文件失败: %w", err)
	}
	return New(entries, maxResults), nil
}

// Search 实现 tools.Searcher。
func (d *Directory) Search(ctx context.Context, q tools.SearchQuery) (*tools.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 || limit > d.maxResults {
		limit = d.maxResults
	}
	term := strings.ToLower(strings.TrimSpace(q.Term))
	location := strings.ToLower(strings.TrimSpace(q.Location))

	result := &tools.SearchResult{Query: q}
	for _, e := range d.entries {
		if !inLocation(e, location) || !matches(e, term) {
			continue
		}
		result.Total++
		if len(result.Businesses) < limit {
			result.Businesses = append(result.Businesses, e.Business)
		}
	}
	return result, nil
}

// FetchDetails 实现 tools.DetailFetcher。未知商户返回 Found=false。
func (d *Directory) FetchDetails(ctx context.Context, businessID string) (*tools.BusinessDetails, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i, ok := d.byID[businessID]
	if !ok || d.entries[i].Details == nil {
		return &tools.BusinessDetails{BusinessID: businessID}, nil
	}
	e := d.entries[i]
	details := *e.Details
	details.BusinessID = businessID
	details.Name = e.Name
	details.Found = true
	if details.Rating == 0 {
		details.Rating = e.Rating
	}
	if details.Phone == "" {
		details.Phone = e.Phone
	}
	if details.Address == "" {
		details.Address = e.Address
	}
	if details.Price == "" {
		details.Price = e.Price
	}
	return &details, nil
}

// AnalyzeSentiment 实现 tools.SentimentAnalyzer。没有评论时返回 nil。
func (d *Directory) AnalyzeSentiment(ctx context.Context, businessID string) (*tools.SentimentReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i, ok := d.byID[businessID]
	if !ok || len(d.entries[i].Reviews) == 0 {
		return nil, nil
	}
	reviews := d.entries[i].Reviews
	ratings := make([]int, 0, len(reviews))
	var highlights []string
	for _, r := range reviews {
		ratings = append(ratings, r.Rating)
		if len(highlights) < 2 && strings.TrimSpace(r.Text) != "" {
			highlights = append(highlights, r.Text)
		}
	}
	score := tools.ScoreFromRatings(ratings)
	return &tools.SentimentReport{
		BusinessID:  businessID,
		Score:       score,
		Label:       tools.Label(score),
		ReviewCount: len(reviews),
		Highlights:  highlights,
	}, nil
}

func inLocation(e Entry, location string) bool {
	if location == "" {
		return true
	}
	city := strings.ToLower(e.City)
	if city == "" {
		return false
	}
	if strings.Contains(location, city) || strings.Contains(city, location) {
		return true
	}
	// 只写了城市名时，例如 "austin"
	name, _, _ := strings.Cut(city, ",")
	return strings.Contains(location, strings.TrimSpace(name))
}

func matches(e Entry, term string) bool {
	if term == "" {
		return true
	}
	candidates := make([]string, 0, len(e.Keywords)+len(e.Categories)+1)
	candidates = append(candidates, strings.ToLower(e.Name))
	for _, c := range e.Categories {
		candidates = append(candidates, strings.ToLower(c))
	}
	for _, k := range e.Keywords {
		candidates = append(candidates, strings.ToLower(strings.TrimSpace(k)))
	}

	for _, candidate := range candidates {
		if candidate != "" && strings.Contains(term, candidate) {
			return true
		}
	}
	for _, word := range strings.Fields(term) {
		word = strings.TrimSuffix(word, "s")
		if len(word) < 3 {
			continue
		}
		for _, candidate := range candidates {
			if strings.Contains(candidate, word) {
				return true
			}
		}
	}
	return false
}

var (
	_ tools.Searcher          = (*Directory)(nil)
	_ tools.DetailFetcher     = (*Directory)(nil)
	_ tools.SentimentAnalyzer = (*Directory)(nil)
)
