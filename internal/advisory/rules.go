package advisory

import (
	"context"
	"strings"

	"tradepost/internal/model"

	"github.com/shopspring/decimal"
)

// lowPriceRatio flags offers below this fraction of the listing price.
var lowPriceRatio = decimal.NewFromFloat(0.5)

type rule struct {
	warning  string
	keywords []string
}

var textRules = []rule{
	{
		warning: "The other party is asking for payment outside the secure deal flow. Never pay in advance.",
		keywords: []string{
			"pay in advance", "prepay", "pay upfront", "deposit first",
			"wire transfer", "western union", "gift card", "crypto",
		},
	},
	{
		warning: "The other party is trying to move the conversation off the platform. Keep all communication here.",
		keywords: []string{
			"whatsapp", "telegram", "signal", "email me", "text me at",
			"off the app", "outside the platform",
		},
	},
	{
		warning: "High-pressure urgency is a common scam tactic. Take your time.",
		keywords: []string{
			"act now", "today only", "last chance", "urgent", "right away",
			"expires in", "immediately or",
		},
	},
}

// RuleEvaluator is the default evaluator: keyword heuristics over the chat
// text plus a low-price check against the listing price snapshot.
type RuleEvaluator struct{}

func NewRuleEvaluator() *RuleEvaluator {
	return &RuleEvaluator{}
}

func (e *RuleEvaluator) Evaluate(_ context.Context, transcript Transcript) (string, error) {
	var warnings []string
	seen := make(map[string]bool)

	for _, msg := range transcript.Messages {
		switch msg.Kind {
		case model.KindText:
			body := strings.ToLower(msg.Body)
			for _, r := range textRules {
				if seen[r.warning] {
					continue
				}
				for _, kw := range r.keywords {
					if strings.Contains(body, kw) {
						warnings = append(warnings, r.warning)
						seen[r.warning] = true
						break
					}
				}
			}
		case model.KindSystem:
			if msg.Offer != nil && !seen["low_price"] && e.suspiciouslyLow(transcript.Conversation, msg.Offer) {
				warnings = append(warnings, "The negotiated price is far below the listing price. Deals that look too good usually are.")
				seen["low_price"] = true
			}
		}
	}

	return strings.Join(warnings, " "), nil
}

func (e *RuleEvaluator) suspiciouslyLow(conv model.Conversation, offer *model.OfferPayload) bool {
	listingPrice, err := decimal.NewFromString(conv.ListingPrice)
	if err != nil || !listingPrice.IsPositive() {
		return false
	}

	offerPrice := offer.PriceDecimal()
	if !offerPrice.IsPositive() {
		return false
	}

	return offerPrice.LessThan(listingPrice.Mul(lowPriceRatio))
}
