package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/genai"

	"stockledger_backend/platform/apperr"
	"stockledger_backend/platform/logger"
)

const (
	defaultModel = "gemini-2.0-flash"

	msgNotConfigured = "document extraction is not configured"
)

const extractionPrompt = `You are reading a stock-relevant document: a purchase invoice,
sales invoice, delivery note or stock usage sheet.

Extract every line item that moves physical goods. For each line report:
- description: the item description exactly as printed
- quantity: the amount moved, as a positive number
- unitRate: the per-unit price if printed, omit otherwise
- direction: "IN" when goods arrive into stock (purchases, returns in,
  goods received), "OUT" when goods leave stock (sales, usage, shipments)
- occurredAt: the document date as YYYY-MM-DD, omit if unreadable

Ignore subtotal, tax, shipping and rounding lines. Report an overall
confidence between 0 and 1 for the extraction.`

var extractionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"items": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"description": {Type: genai.TypeString},
					"quantity":    {Type: genai.TypeNumber},
					"unitRate":    {Type: genai.TypeNumber},
					"direction":   {Type: genai.TypeString, Enum: []string{"IN", "OUT"}},
					"occurredAt":  {Type: genai.TypeString, Description: "document date, YYYY-MM-DD"},
				},
				Required: []string{"description", "quantity", "direction"},
			},
		},
		"confidence": {Type: genai.TypeNumber},
	},
	Required: []string{"items", "confidence"},
}

type wireItem struct {
	Description string   `json:"description"`
	Quantity    float64  `json:"quantity"`
	UnitRate    *float64 `json:"unitRate,omitempty"`
	Direction   string   `json:"direction"`
	OccurredAt  string   `json:"occurredAt,omitempty"`
}

type wirePayload struct {
	Items      []wireItem `json:"items"`
	Confidence float64    `json:"confidence"`
}

// GeminiExtractor extracts line items with one structured-output call per
// document.
type GeminiExtractor struct {
	client *genai.Client
	model  string
	logger *logger.Logger
}

// NewGeminiExtractor creates the extractor. Without an API key it comes up
// disabled instead of failing, so the rest of the application still runs.
func NewGeminiExtractor(ctx context.Context, apiKey, model string, log *logger.Logger) (*GeminiExtractor, error) {
	if model == "" {
		model = defaultModel
	}
	if apiKey == "" {
		log.Info("extraction disabled: GEMINI_API_KEY not configured")
		return &GeminiExtractor{model: model, logger: log}, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	log.Info("extraction initialized", "model", model)
	return &GeminiExtractor{client: client, model: model, logger: log}, nil
}

// IsEnabled reports whether the extractor has a configured client.
func (e *GeminiExtractor) IsEnabled() bool {
	return e != nil && e.client != nil
}

var _ Extractor = (*GeminiExtractor)(nil)

// Extract runs one model call over the document's bytes and normalizes the
// structured response.
func (e *GeminiExtractor) Extract(ctx context.Context, doc Document) (*Result, error) {
	if !e.IsEnabled() {
		return nil, apperr.Unavailable(msgNotConfigured)
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: doc.MIME, Data: doc.Data}},
			genai.NewPartFromText(extractionPrompt),
		},
	}}

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.1),
		ResponseMIMEType: "application/json",
		ResponseSchema:   extractionSchema,
	}

	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("model returned no content for %s", doc.Name)
	}

	var payload wirePayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("decode model response for %s: %w", doc.Name, err)
	}

	fallback := doc.CapturedAt
	if fallback.IsZero() {
		fallback = time.Now().UTC()
	}
	return buildResult(payload, doc.Name, fallback, e.logger), nil
}

// buildResult sanitizes the model payload. Lines that cannot be trusted
// are dropped individually; the document as a whole still succeeds.
func buildResult(payload wirePayload, docName string, fallbackTime time.Time, log *logger.Logger) *Result {
	confidence := payload.Confidence
	// The model occasionally reports percentages despite the schema.
	if confidence > 1 {
		confidence = confidence / 100
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	items := make([]RawItem, 0, len(payload.Items))
	for _, item := range payload.Items {
		if strings.TrimSpace(item.Description) == "" {
			log.Debug("extraction dropped line without description", "document", docName)
			continue
		}
		if item.Quantity <= 0 {
			log.Debug("extraction dropped non-positive quantity",
				"document", docName, "description", item.Description, "quantity", item.Quantity)
			continue
		}

		direction := strings.ToUpper(strings.TrimSpace(item.Direction))
		if direction != "IN" && direction != "OUT" {
			log.Debug("extraction dropped unknown direction",
				"document", docName, "description", item.Description, "direction", item.Direction)
			continue
		}

		var rate *decimal.Decimal
		if item.UnitRate != nil && *item.UnitRate > 0 {
			d := decimal.NewFromFloat(*item.UnitRate)
			rate = &d
		}

		occurredAt := fallbackTime
		if item.OccurredAt != "" {
			if parsed, ok := parseDocumentDate(item.OccurredAt); ok {
				occurredAt = parsed
			} else {
				log.Debug("extraction kept unreadable date as upload time",
					"document", docName, "date", item.OccurredAt)
			}
		}

		items = append(items, RawItem{
			Description: strings.TrimSpace(item.Description),
			Quantity:    decimal.NewFromFloat(item.Quantity),
			UnitRate:    rate,
			Direction:   direction,
			OccurredAt:  occurredAt,
		})
	}

	return &Result{Items: items, Confidence: confidence}
}

func parseDocumentDate(s string) (time.Time, bool) {
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
