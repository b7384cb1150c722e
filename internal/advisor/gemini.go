package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/jask/moneyrules/internal/engine"
)

const defaultModel = "gemini-2.0-flash"

// Gemini drafts rules with the Gemini API. The client reads GOOGLE_API_KEY /
// GEMINI_API_KEY from the environment.
type Gemini struct {
	model   string
	timeout time.Duration
}

// NewGemini returns a Gemini advisor. An empty model selects the default.
func NewGemini(model string) *Gemini {
	if model == "" {
		model = defaultModel
	}
	return &Gemini{model: model, timeout: 15 * time.Second}
}

type geminiDraft struct {
	Pattern    string  `json:"pattern"`
	Field      string  `json:"field"`
	CategoryID string  `json:"category_id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

func (g *Gemini) SuggestRule(ctx context.Context, req SuggestRequest) (SuggestResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return SuggestResponse{}, fmt.Errorf("create genai client: %w", err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return SuggestResponse{}, err
	}
	prompt := "You draft categorization rules for personal-finance transactions.\n\n" +
		"Given a JSON sample of uncategorized transactions and the list of available categories,\n" +
		"propose ONE rule as STRICT JSON (no markdown, no code fences) with exactly these fields:\n" +
		"- \"pattern\": a short text pattern that identifies the merchant in the descriptions\n" +
		"- \"field\": \"description\" or \"merchant\"\n" +
		"- \"category_id\": the id of the best matching category from the list\n" +
		"- \"name\": a short human-readable rule name\n" +
		"- \"confidence\": number between 0 and 1\n" +
		"- \"rationale\": one sentence explaining the choice\n\n" +
		"Prefer longer, merchant-specific patterns over short generic words.\n" +
		"If no safe pattern exists, return {\"pattern\": \"\"}.\n\n" +
		"Input:\n" + string(payload)

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}
	resp, err := client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return SuggestResponse{}, fmt.Errorf("generate content: %w", err)
	}
	raw := resp.Text()
	if raw == "" {
		return SuggestResponse{}, fmt.Errorf("empty model response")
	}

	var draft geminiDraft
	if err := json.Unmarshal([]byte(stripFences(raw)), &draft); err != nil {
		return SuggestResponse{}, fmt.Errorf("parse model response: %w (raw: %.200s)", err, raw)
	}
	if draft.Pattern == "" {
		return SuggestResponse{Rationale: draft.Rationale}, nil
	}

	match := &engine.StringMatch{
		Operator:  engine.OpContains,
		Value:     strings.ToUpper(draft.Pattern),
		Semantics: engine.SemanticsToken,
	}
	out := SuggestResponse{
		Name:       draft.Name,
		Confidence: clamp01(draft.Confidence),
		Rationale:  draft.Rationale,
	}
	if draft.Field == "merchant" {
		out.Conditions.Merchant = match
	} else {
		out.Conditions.Description = match
	}
	if categoryKnown(req.Categories, draft.CategoryID) {
		id := draft.CategoryID
		out.Actions.SetCategoryID = &id
	}
	return out, nil
}

// stripFences removes markdown code fences a model may emit despite
// instructions, keeping only the outermost JSON object.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}

func categoryKnown(opts []CategoryOption, id string) bool {
	for _, o := range opts {
		if o.ID == id {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
