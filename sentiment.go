package behaviorsdk

import (
	"context"
	"strings"
)

// ──────────────────────────────────────────────
// Sentiment — lightweight rule-based scoring
// ──────────────────────────────────────────────

type weightedKeyword struct {
	keyword string
	weight  float64
}

// KeywordSentimentClassifier labels messages positive or negative via
// weighted keyword scoring. It is the zero-dependency default for the
// engine's sentiment hook; production deployments usually swap in an
// ML-backed SentimentClassifier.
type KeywordSentimentClassifier struct {
	positive  []weightedKeyword
	negative  []weightedKeyword
	threshold float64
}

// NewKeywordSentimentClassifier creates a classifier with the built-in
// English keyword tables.
func NewKeywordSentimentClassifier() *KeywordSentimentClassifier {
	return &KeywordSentimentClassifier{
		positive: []weightedKeyword{
			// Differentiated weights to reduce false positives: short
			// generic praise needs multiple hits to clear the threshold.
			{keyword: "thank you", weight: 0.4}, {keyword: "thanks", weight: 0.3},
			{keyword: "love", weight: 0.4}, {keyword: "miss you", weight: 0.4},
			{keyword: "happy", weight: 0.3}, {keyword: "glad", weight: 0.3},
			{keyword: "wonderful", weight: 0.4}, {keyword: "awesome", weight: 0.3},
			{keyword: "great", weight: 0.3}, {keyword: "nice", weight: 0.2},
			{keyword: "appreciate", weight: 0.4}, {keyword: "proud of you", weight: 0.4},
		},
		negative: []weightedKeyword{
			{keyword: "hate", weight: 0.5}, {keyword: "angry", weight: 0.4},
			{keyword: "annoying", weight: 0.4}, {keyword: "stupid", weight: 0.5},
			{keyword: "useless", weight: 0.5}, {keyword: "terrible", weight: 0.4},
			{keyword: "shut up", weight: 0.5}, {keyword: "leave me alone", weight: 0.4},
			{keyword: "disappointed", weight: 0.4}, {keyword: "whatever", weight: 0.2},
			{keyword: "forget it", weight: 0.3}, {keyword: "go away", weight: 0.4},
		},
		threshold: 0.3,
	}
}

// Sentiment scores one message. Scores below the threshold resolve to
// neutral rather than guessing.
func (c *KeywordSentimentClassifier) Sentiment(ctx context.Context, text string) (Sentiment, error) {
	lower := strings.ToLower(text)
	var pos, neg float64
	for _, kw := range c.positive {
		if strings.Contains(lower, kw.keyword) {
			pos += kw.weight
		}
	}
	for _, kw := range c.negative {
		if strings.Contains(lower, kw.keyword) {
			neg += kw.weight
		}
	}

	// Repeated exclamation marks intensify whichever polarity leads.
	if strings.Count(text, "!") >= 2 {
		if neg > pos {
			neg += 0.1
		} else if pos > neg {
			pos += 0.1
		}
	}

	switch {
	case neg >= c.threshold && neg > pos:
		return SentimentNegative, nil
	case pos >= c.threshold && pos > neg:
		return SentimentPositive, nil
	default:
		return SentimentNeutral, nil
	}
}

var _ SentimentClassifier = (*KeywordSentimentClassifier)(nil)
