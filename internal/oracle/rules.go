package oracle

import (
	"context"
	"regexp"
	"strings"

	"Yelp-Navigator/internal/state"
)

// Rules 是不依赖模型的确定性决策实现，用于离线运行与测试。
type Rules struct{}

// NewRules 创建规则预言机。
func NewRules() *Rules { return &Rules{} }

var (
	locationPattern = regexp.MustCompile(`(?i)^(.*?)\s+(?:in|near|around)\s+(.+)$`)
	fillerPattern   = regexp.MustCompile(`(?i)^(?:please\s+)?(?:can you\s+)?(?:find(?:\s+me)?|show(?:\s+me)?|search(?:\s+for)?|look(?:ing)?\s+for|i(?:'m| am)\s+looking\s+for|i\s+want|get\s+me|recommend|what\s+(?:do\s+)?people\s+(?:say|think)\s+about|reviews?\s+(?:of|for))\s+`)
	articlePattern  = regexp.MustCompile(`(?i)^(?:some|any|a|the|good)\s+`)
	levelTail       = regexp.MustCompile(`(?i)\s+(?:with|and|including)\s+(?:their\s+)?(?:reviews?|ratings?|details?|hours|phone(?:\s+numbers?)?|opinions?|what people say).*$`)
	reviewWords     = regexp.MustCompile(`(?i)\b(reviews?|what (?:do )?people (?:say|think)|opinions?|sentiment|reputation|worth it)\b`)
	detailWords     = regexp.MustCompile(`(?i)\b(details?|hours|open now|opening|phone|menu|website|tell me more|more about|address)\b`)
)

// Decide 实现 Oracle：先检索，再按粒度逐步增强，最后结束。
func (r *Rules) Decide(_ context.Context, in SupervisorContext) (SupervisorDecision, error) {
	if !in.HasFocus {
		if !in.HasSearchResults {
			if !in.SearchAttempted || in.LastErrorKind.Retryable() {
				return SupervisorDecision{Action: ActionRunSearch, Reason: "no search results yet"}, nil
			}
			return SupervisorDecision{Action: ActionFinalize, Reason: "search unavailable"}, nil
		}
		if in.ResultCount == 0 {
			return SupervisorDecision{Action: ActionFinalize, Reason: "search returned nothing"}, nil
		}
	}
	if in.DetailLevel == state.DetailGeneral {
		return SupervisorDecision{Action: ActionFinalize, Reason: "general overview is enough"}, nil
	}
	if in.DetailsMissing > 0 && !in.DetailsAttempted {
		return SupervisorDecision{Action: ActionRunDetails, Reason: "details requested"}, nil
	}
	if in.DetailLevel == state.DetailReviews && in.SentimentMissing > 0 && !in.SentimentAttempted {
		return SupervisorDecision{Action: ActionRunSentiment, Reason: "reviews requested"}, nil
	}
	return SupervisorDecision{Action: ActionFinalize, Reason: "requested data collected"}, nil
}

// Clarify 实现 Oracle：解析“X in Y”形式的请求，并识别对已知商户的追问。
func (r *Rules) Clarify(_ context.Context, in ClarifyContext) (ClarifyDecision, error) {
	if len(in.Messages) == 0 {
		return NeedsMoreInfo{Question: "What kind of business are you looking for, and where?"}, nil
	}
	joined := strings.Join(in.Messages, " ")
	level := levelFromText(joined)

	latest := in.Messages[len(in.Messages)-1]
	if id, ok := mentioned(in.KnownBusinesses, latest); ok {
		if level == state.DetailGeneral {
			level = state.DetailDetailed
		}
		return Clarified{Intent: Intent{
			Query:       in.PreviousQuery,
			Location:    in.PreviousLocation,
			DetailLevel: level,
			Focus:       id,
		}}, nil
	}

	query, location := "", ""
	for _, msg := range in.Messages {
		q, l := parseRequest(msg)
		switch {
		case l != "":
			location = l
			if query == "" {
				query = q
			}
		case query == "":
			query = q
		case location == "":
			location = trimPunct(strings.TrimSpace(msg))
		}
	}

	if query == "" {
		return NeedsMoreInfo{Question: "What kind of business are you looking for?"}, nil
	}
	if location == "" {
		return NeedsMoreInfo{Question: "Which city or neighborhood should I search in?"}, nil
	}
	return Clarified{Intent: Intent{Query: query, Location: location, DetailLevel: level}}, nil
}

// Summarize 实现 Oracle。
func (r *Rules) Summarize(_ context.Context, in SummaryContext) (string, error) {
	return Digest(in), nil
}

// Review 实现 Oracle：非空总结即通过。
func (r *Rules) Review(_ context.Context, in ApprovalContext) (ApprovalDecision, error) {
	if strings.TrimSpace(in.Summary) == "" {
		return Revise{Reason: "summary is empty"}, nil
	}
	return Approve{}, nil
}

func parseRequest(msg string) (query, location string) {
	msg = trimPunct(strings.TrimSpace(msg))
	if m := locationPattern.FindStringSubmatch(msg); m != nil {
		return cleanQuery(m[1]), trimPunct(levelTail.ReplaceAllString(strings.TrimSpace(m[2]), ""))
	}
	return cleanQuery(msg), ""
}

func cleanQuery(q string) string {
	q = strings.TrimSpace(q)
	q = levelTail.ReplaceAllString(q, "")
	q = fillerPattern.ReplaceAllString(q, "")
	q = articlePattern.ReplaceAllString(q, "")
	q = trimPunct(strings.TrimSpace(q))
	if len(strings.Fields(q)) == 0 || isGreeting(q) {
		return ""
	}
	return q
}

func isGreeting(q string) bool {
	switch strings.ToLower(q) {
	case "hi", "hello", "hey", "help", "thanks", "thank you", "yes", "no", "ok", "okay":
		return true
	default:
		return false
	}
}

func levelFromText(text string) state.DetailLevel {
	switch {
	case reviewWords.MatchString(text):
		return state.DetailReviews
	case detailWords.MatchString(text):
		return state.DetailDetailed
	default:
		return state.DetailGeneral
	}
}

func mentioned(known []BusinessRef, text string) (string, bool) {
	lowered := strings.ToLower(text)
	best, bestLen := "", 0
	for _, ref := range known {
		name := strings.ToLower(strings.TrimSpace(ref.Name))
		if name != "" && strings.Contains(lowered, name) && len(name) > bestLen {
			best, bestLen = ref.ID, len(name)
		}
	}
	return best, best != ""
}

func trimPunct(s string) string {
	return strings.Trim(s, " .!?;:")
}
