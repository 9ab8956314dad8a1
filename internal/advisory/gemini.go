package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tradepost/internal/model"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiEvaluator asks a Gemini model to judge the transcript. It falls under
// the same contract as the rule evaluator: errors are swallowed upstream and
// degrade to "no warning".
type GeminiEvaluator struct {
	model *genai.GenerativeModel
}

func NewGeminiEvaluator(ctx context.Context, apiKey string) (*GeminiEvaluator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	m := client.GenerativeModel("gemini-2.0-flash-001")
	m.ResponseMIMEType = "application/json"

	return &GeminiEvaluator{model: m}, nil
}

type geminiVerdict struct {
	Risky   bool   `json:"risky"`
	Warning string `json:"warning"`
}

func (e *GeminiEvaluator) Evaluate(ctx context.Context, transcript Transcript) (string, error) {
	resp, err := e.model.GenerateContent(ctx, genai.Text(e.buildPrompt(transcript)))
	if err != nil {
		return "", fmt.Errorf("gemini evaluation: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini evaluation: empty response")
	}

	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", fmt.Errorf("gemini evaluation: unexpected part type")
	}

	var verdict geminiVerdict
	if err := json.Unmarshal([]byte(text), &verdict); err != nil {
		return "", fmt.Errorf("gemini evaluation: decode verdict: %w", err)
	}

	if !verdict.Risky {
		return "", nil
	}
	return verdict.Warning, nil
}

func (e *GeminiEvaluator) buildPrompt(transcript Transcript) string {
	var history strings.Builder
	for _, msg := range transcript.Messages {
		role := "Buyer"
		if msg.SenderID == transcript.Conversation.SellerID {
			role = "Seller"
		}

		switch msg.Kind {
		case model.KindText:
			fmt.Fprintf(&history, "- %s: %s\n", role, msg.Body)
		case model.KindImage:
			fmt.Fprintf(&history, "- %s: [sent an image]\n", role)
		case model.KindSystem:
			if msg.Offer != nil {
				fmt.Fprintf(&history, "- System: offer of %s is %s\n", msg.Offer.Price, msg.Offer.Status)
			}
			if msg.Escrow != nil {
				fmt.Fprintf(&history, "- System: deal is %s\n", msg.Escrow.Status)
			}
		}
	}

	return fmt.Sprintf(`You are a fraud analyst for a peer-to-peer marketplace chat.
Review this buyer/seller conversation about a listing priced at %s and decide
whether it shows hallmark scam patterns: prepayment requests, off-platform
redirection, suspiciously low prices, urgency pressure.

**Conversation:**
%s

Respond in JSON only: {"risky": bool, "warning": "one short sentence for the user, empty if not risky"}`,
		transcript.Conversation.ListingPrice, history.String())
}
