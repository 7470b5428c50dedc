// Package yelp implements the tool capabilities against the Yelp Fusion API.
package yelp

import (
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

	xerrors "Yelp-Navigator/internal/errors"
	"Yelp-Navigator/internal/tools"
)

const (
	defaultBaseURL = "https://api.yelp.com/v3"
	defaultTimeout = 10 * time.Second
	maxSearchLimit = 50
)

// Config 描述访问 Yelp Fusion API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client 同时实现 tools.Searcher、tools.DetailFetcher 与 tools.SentimentAnalyzer。
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

var (
	_ tools.Searcher          = (*Client)(nil)
	_ tools.DetailFetcher     = (*Client)(nil)
	_ tools.SentimentAnalyzer = (*Client)(nil)
)

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInitFailure, "未提供 Yelp API Key")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type apiLocation struct {
	DisplayAddress []string `json:"display_address"`
}

type apiCategory struct {
	Title string `json:"title"`
}

type apiBusiness struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Rating      float64       `json:"rating"`
	ReviewCount int           `json:"review_count"`
	Price       string        `json:"price"`
	Phone       string        `json:"display_phone"`
	URL         string        `json:"url"`
	Distance    float64       `json:"distance"`
	Categories  []apiCategory `json:"categories"`
	Location    apiLocation   `json:"location"`
}

func (b apiBusiness) toBusiness() tools.Business {
	out := tools.Business{
		ID:          b.ID,
		Name:        b.Name,
		Rating:      b.Rating,
		ReviewCount: b.ReviewCount,
		Price:       b.Price,
		Address:     strings.Join(b.Location.DisplayAddress, ", "),
		Phone:       b.Phone,
		URL:         b.URL,
		Distance:    b.Distance,
	}
	for _, c := range b.Categories {
		out.Categories = append(out.Categories, c.Title)
	}
	return out
}

// Search 调用 /businesses/search。
func (c *Client) Search(ctx context.Context, query tools.SearchQuery) (*tools.SearchResult, error) {
	if strings.TrimSpace(query.Term) == "" || strings.TrimSpace(query.Location) == "" {
		return nil, xerrors.New(xerrors.CodeMalformedRequest, "检索缺少关键词或地点")
	}
	limit := query.Limit
	if limit <= 0 || limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	params := url.Values{}
	params.Set("term", query.Term)
	params.Set("location", query.Location)
	params.Set("limit", strconv.Itoa(limit))

	var decoded struct {
		Total      int           `json:"total"`
		Businesses []apiBusiness `json:"businesses"`
	}
	if _, err := c.get(ctx, "/businesses/search?"+params.Encode(), &decoded); err != nil {
		return nil, err
	}

	result := &tools.SearchResult{Query: query, Total: decoded.Total}
	for _, b := range decoded.Businesses {
		if b.ID == "" {
			continue
		}
		result.Businesses = append(result.Businesses, b.toBusiness())
	}
	return result, nil
}

// FetchDetails 调用 /businesses/{id}。目录中不存在时返回 Found=false 的结果。
func (c *Client) FetchDetails(ctx context.Context, businessID string) (*tools.BusinessDetails, error) {
	id := tools.NormalizeID(businessID)
	if id == "" {
		return nil, xerrors.New(xerrors.CodeMalformedRequest, "商户 ID 为空")
	}

	var decoded struct {
		apiBusiness
		Photos       []string `json:"photos"`
		Transactions []string `json:"transactions"`
		Hours        []struct {
			IsOpenNow bool `json:"is_open_now"`
			Open      []struct {
				Day   int    `json:"day"`
				Start string `json:"start"`
				End   string `json:"end"`
			} `json:"open"`
		} `json:"hours"`
	}
	found, err := c.get(ctx, "/businesses/"+url.PathEscape(id), &decoded)
	if err != nil {
		return nil, err
	}
	if !found {
		return &tools.BusinessDetails{BusinessID: id}, nil
	}

	details := &tools.BusinessDetails{
		BusinessID:   id,
		Name:         decoded.Name,
		Found:        true,
		Rating:       decoded.Rating,
		Price:        decoded.Price,
		Phone:        decoded.Phone,
		Website:      decoded.URL,
		Address:      strings.Join(decoded.Location.DisplayAddress, ", "),
		Transactions: decoded.Transactions,
		Photos:       decoded.Photos,
	}
	if len(decoded.Hours) > 0 {
		details.IsOpenNow = decoded.Hours[0].IsOpenNow
		for _, slot := range decoded.Hours[0].Open {
			details.Hours = append(details.Hours, fmt.Sprintf("%s %s-%s", weekday(slot.Day), clock(slot.Start), clock(slot.End)))
		}
	}
	return details, nil
}

// AnalyzeSentiment 拉取 /businesses/{id}/reviews 并根据评分估算情感倾向。
func (c *Client) AnalyzeSentiment(ctx context.Context, businessID string) (*tools.SentimentReport, error) {
	id := tools.NormalizeID(businessID)
	if id == "" {
		return nil, xerrors.New(xerrors.CodeMalformedRequest, "商户 ID 为空")
	}

	var decoded struct {
		Reviews []struct {
			Rating int    `json:"rating"`
			Text   string `json:"text"`
		} `json:"reviews"`
	}
	found, err := c.get(ctx, "/businesses/"+url.PathEscape(id)+"/reviews", &decoded)
	if err != nil {
		return nil, err
	}
	if !found || len(decoded.Reviews) == 0 {
		return nil, nil
	}

	ratings := make([]int, 0, len(decoded.Reviews))
	report := &tools.SentimentReport{BusinessID: id, ReviewCount: len(decoded.Reviews)}
	for _, r := range decoded.Reviews {
		ratings = append(ratings, r.Rating)
		if text := strings.TrimSpace(r.Text); text != "" && len(report.Highlights) < 2 {
			report.Highlights = append(report.Highlights, text)
		}
	}
	report.Score = tools.ScoreFromRatings(ratings)
	report.Label = tools.Label(report.Score)
	return report, nil
}

// get 执行请求并解码响应。404 返回 found=false 且无错误。
func (c *Client) get(ctx context.Context, path string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeMalformedRequest, err, "构建 Yelp 请求失败")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return false, xerrors.Wrap(xerrors.CodeTimeout, err, "请求 Yelp 超时")
		}
		return false, xerrors.Wrap(xerrors.CodeToolTransient, err, "请求 Yelp 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return false, statusError(resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, xerrors.Wrap(xerrors.CodeToolTransient, err, "解析 Yelp 响应失败")
	}
	return true, nil
}

func statusError(status int, body string) error {
	msg := fmt.Sprintf("Yelp 返回错误状态 %d: %s", status, body)
	meta := xerrors.WithMetadata("status", strconv.Itoa(status))
	switch {
	case status == http.StatusTooManyRequests:
		return xerrors.New(xerrors.CodeRateLimited, msg, meta)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return xerrors.New(xerrors.CodeToolAuth, msg, meta)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return xerrors.New(xerrors.CodeMalformedRequest, msg, meta)
	default:
		return xerrors.New(xerrors.CodeToolTransient, msg, meta)
	}
}

var weekdays = [...]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

func weekday(day int) string {
	if day < 0 || day >= len(weekdays) {
		return "?"
	}
	return weekdays[day]
}

// clock 将 "1130" 格式转换为 "11:30"。
func clock(hhmm string) string {
	if len(hhmm) != 4 {
		return hhmm
	}
	return hhmm[:2] + ":" + hhmm[2:]
}
