// Package enrichment asks the summarization model for structured call facts.
// Any failure yields no enrichment rather than an error.
package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"freight_ops_backend/internal/callevents/domain"
	"freight_ops_backend/platform/ai"
	"freight_ops_backend/platform/logger"
	"freight_ops_backend/platform/phone"
	"freight_ops_backend/platform/sanitize"
)

// MinTranscriptLength is the shortest transcript worth sending to the model.
const MinTranscriptLength = 20

const systemPrompt = `You analyze phone calls between a freight brokerage and truck carriers or shippers.
Return ONLY a JSON object with exactly these keys:
  "sentiment": one of "positive", "neutral", "negative"
  "intent": short snake_case label for why the caller called, or null
  "outcome": one of "booked", "callback_requested", "declined", "no_action", "unknown"
  "summary": one or two sentences, or null
  "carrier_usdot": the USDOT number mentioned, digits only, or null
  "carrier_mc": the MC number mentioned, digits only, or null
  "carrier_name": the carrier company name mentioned, or null
  "equipment_type": trailer type mentioned (e.g. "dry_van", "reefer", "flatbed"), or null
  "lane": origin and destination mentioned as "Origin -> Destination", or null
Do not guess identifiers that were not spoken.`

// Options tune the service.
type Options struct {
	PromptLimit int
	Timeout     time.Duration
}

// Service enriches transcripts. A nil completer disables model calls.
type Service struct {
	completer   ai.Completer
	log         *logger.Logger
	promptLimit int
	timeout     time.Duration
}

// New creates a Service.
func New(completer ai.Completer, opts Options, log *logger.Logger) *Service {
	if opts.PromptLimit <= 0 {
		opts.PromptLimit = 3000
	}
	return &Service{
		completer:   completer,
		log:         log,
		promptLimit: opts.PromptLimit,
		timeout:     opts.Timeout,
	}
}

// Enabled reports whether a summarization model is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.completer != nil
}

// Enrich returns the structured facts for a transcript, or nil when nothing
// could be derived. providerSummary, when present, wins over the model's summary.
func (s *Service) Enrich(ctx context.Context, transcript, providerSummary string) *domain.Enrichment {
	provided := sanitize.TextPtr(domain.StrPtr(providerSummary))

	var result *domain.Enrichment
	if s.Enabled() && utf8.RuneCountInString(strings.TrimSpace(transcript)) > MinTranscriptLength {
		enriched, err := s.analyze(ctx, transcript)
		if err != nil {
			s.log.Warn("callevents: transcript enrichment unavailable", "model", s.completer.Name(), "error", err)
		} else {
			result = enriched
		}
	}

	if provided != nil {
		if result == nil {
			result = &domain.Enrichment{}
		}
		result.Summary = provided
	}
	return result
}

func (s *Service) analyze(ctx context.Context, transcript string) (*domain.Enrichment, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	reply, err := s.completer.Complete(ctx, systemPrompt, "Transcript:\n"+truncateRunes(transcript, s.promptLimit))
	if err != nil {
		return nil, err
	}
	return Parse(reply)
}

// Parse turns a model reply into an Enrichment with invalid enum values dropped.
func Parse(reply string) (*domain.Enrichment, error) {
	object, ok := ExtractJSONObject(reply)
	if !ok {
		return nil, errors.New("no JSON object in model reply")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(object), &raw); err != nil {
		return nil, fmt.Errorf("decode model reply: %w", err)
	}

	e := &domain.Enrichment{
		Intent:        stringField(raw, "intent"),
		Summary:       stringField(raw, "summary"),
		CarrierName:   stringField(raw, "carrier_name"),
		EquipmentType: stringField(raw, "equipment_type"),
		Lane:          stringField(raw, "lane"),
		CarrierUSDOT:  identifierField(raw, "carrier_usdot"),
		CarrierMC:     identifierField(raw, "carrier_mc"),
	}
	if v := stringField(raw, "sentiment"); v != nil {
		lower := strings.ToLower(*v)
		if domain.ValidSentiment(lower) {
			e.Sentiment = &lower
		}
	}
	if v := stringField(raw, "outcome"); v != nil {
		lower := strings.ToLower(*v)
		if domain.ValidOutcome(lower) {
			e.Outcome = &lower
		}
	}
	return e, nil
}

func stringField(raw map[string]any, key string) *string {
	v, ok := raw[key].(string)
	if !ok {
		return nil
	}
	v = sanitize.Text(v)
	if v == "" || strings.EqualFold(v, "null") || strings.EqualFold(v, "n/a") {
		return nil
	}
	return &v
}

// identifierField accepts numbers or strings like "MC-123456" and keeps digits.
func identifierField(raw map[string]any, key string) *string {
	var text string
	switch v := raw[key].(type) {
	case string:
		text = v
	case float64:
		text = fmt.Sprintf("%.0f", v)
	default:
		return nil
	}
	digits := phone.Digits(text)
	if digits == "" {
		return nil
	}
	return &digits
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
