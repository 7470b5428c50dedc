package oracle

import (
	"fmt"
	"strings"

	"Yelp-Navigator/internal/state"
)

// Digest 根据结构化结果生成确定性的文本总结，不依赖模型。
func Digest(in SummaryContext) string {
	var b strings.Builder

	subject := strings.TrimSpace(in.Query)
	if subject == "" {
		subject = "businesses"
	}
	if len(in.Businesses) == 0 {
		fmt.Fprintf(&b, "I couldn't find any %s", subject)
		if in.Location != "" {
			fmt.Fprintf(&b, " in %s", in.Location)
		}
		b.WriteString(". Try a broader search term or a nearby location.")
		return b.String()
	}

	fmt.Fprintf(&b, "Here are %d %s", len(in.Businesses), pluralize(len(in.Businesses), "option", "options"))
	fmt.Fprintf(&b, " for %s", subject)
	if in.Location != "" {
		fmt.Fprintf(&b, " in %s", in.Location)
	}
	b.WriteString(":\n")

	for i, biz := range in.Businesses {
		fmt.Fprintf(&b, "%d. %s", i+1, displayName(biz))
		if facts := coreFacts(biz); facts != "" {
			fmt.Fprintf(&b, " (%s)", facts)
		}
		if biz.Address != "" {
			fmt.Fprintf(&b, " - %s", biz.Address)
		}
		b.WriteString("\n")

		if in.DetailLevel != state.DetailGeneral && biz.Details != nil && biz.Details.Found {
			if line := detailLine(biz); line != "" {
				fmt.Fprintf(&b, "   %s\n", line)
			}
		}
		if in.DetailLevel == state.DetailReviews && biz.Sentiment != nil {
			fmt.Fprintf(&b, "   Reviews: %s (score %.2f across %d reviews)", biz.Sentiment.Label, biz.Sentiment.Score, biz.Sentiment.ReviewCount)
			if len(biz.Sentiment.Highlights) > 0 {
				fmt.Fprintf(&b, ", e.g. %q", biz.Sentiment.Highlights[0])
			}
			b.WriteString("\n")
		}
	}
	if in.Partial {
		b.WriteString("Some lookups failed, so a few details may be missing.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func displayName(biz BusinessSummary) string {
	if biz.Name != "" {
		return biz.Name
	}
	if biz.Details != nil && biz.Details.Name != "" {
		return biz.Details.Name
	}
	return biz.ID
}

func coreFacts(biz BusinessSummary) string {
	var parts []string
	if biz.Rating > 0 {
		parts = append(parts, fmt.Sprintf("%.1f stars", biz.Rating))
	}
	if biz.ReviewCount > 0 {
		parts = append(parts, fmt.Sprintf("%d reviews", biz.ReviewCount))
	}
	if biz.Price != "" {
		parts = append(parts, biz.Price)
	}
	return strings.Join(parts, ", ")
}

func detailLine(biz BusinessSummary) string {
	d := biz.Details
	var parts []string
	if d.Phone != "" {
		parts = append(parts, "phone "+d.Phone)
	}
	if len(d.Hours) > 0 {
		parts = append(parts, "hours "+strings.Join(d.Hours, "; "))
	}
	if d.IsOpenNow {
		parts = append(parts, "open now")
	}
	if len(d.Transactions) > 0 {
		parts = append(parts, "offers "+strings.Join(d.Transactions, ", "))
	}
	if d.Website != "" {
		parts = append(parts, d.Website)
	}
	return strings.Join(parts, " | ")
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
