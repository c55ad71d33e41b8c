// Package extract turns inbound chat messages into structured order
// data. An LLM proposes the extraction via forced function calling
// (OpenAI-compatible primary, Gemini fallback); the Normalizer then
// rewrites everything the system does not trust: missing fields,
// completeness, stage and delivery-policy compliance are always
// recomputed deterministically.
package extract

import (
	"github.com/talkorder/talkorder-go/internal/order"
	"github.com/talkorder/talkorder-go/internal/storage"
)

// Result is one extraction outcome. Until Normalize has run, only the
// fields the LLM proposed are populated and none of them should be
// trusted for control flow.
type Result struct {
	Intent         order.Intent
	Confidence     float64
	IsContinuation bool
	Stage          order.Stage
	Order          order.Draft
	MissingFields  []string
	SuggestedReply string
	IsComplete     bool

	// Provenance, for usage accounting.
	Provider    string
	Model       string
	TotalTokens int
}

// Request carries everything one extraction call needs.
type Request struct {
	Message      string
	MerchantName string
	Collected    order.Draft
	StageHint    order.Stage
	History      []storage.Message
	CatalogText  string
	PolicyText   string
	Profile      Profile
}

// toolArgs is the wire shape of the record_order_extraction function
// call returned by either provider. Pointer fields distinguish "model
// omitted this" from zero values so defaults can be applied.
type toolArgs struct {
	Intent         string      `json:"intent"`
	Confidence     *float64    `json:"confidence"`
	IsContinuation *bool       `json:"is_continuation"`
	Stage          string      `json:"stage"`
	Order          order.Draft `json:"order"`
	MissingFields  []string    `json:"missing_fields"`
	SuggestedReply string      `json:"suggested_reply"`
	IsComplete     *bool       `json:"is_complete"`
}

// toResult converts wire arguments into a Result, applying the
// default-fill rules for absent fields.
func (a *toolArgs) toResult(provider, model string, totalTokens int) *Result {
	res := &Result{
		Intent:         order.IntentOther,
		Confidence:     0.5,
		IsContinuation: false,
		Stage:          order.Stage(a.Stage),
		Order:          a.Order,
		MissingFields:  a.MissingFields,
		SuggestedReply: a.SuggestedReply,
		Provider:       provider,
		Model:          model,
		TotalTokens:    totalTokens,
	}
	switch order.Intent(a.Intent) {
	case order.IntentOrder, order.IntentInquiry, order.IntentOther:
		res.Intent = order.Intent(a.Intent)
	}
	if a.Confidence != nil && *a.Confidence >= 0 && *a.Confidence <= 1 {
		res.Confidence = *a.Confidence
	}
	if a.IsContinuation != nil {
		res.IsContinuation = *a.IsContinuation
	}
	if a.IsComplete != nil {
		res.IsComplete = *a.IsComplete
	}
	return res
}
