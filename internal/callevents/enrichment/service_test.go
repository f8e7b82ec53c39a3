package enrichment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"freight_ops_backend/platform/logger"
)

type fakeCompleter struct {
	reply    string
	err      error
	calls    int
	lastUser string
	block    bool
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(ctx context.Context, _, user string) (string, error) {
	f.calls++
	f.lastUser = user
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

const longTranscript = "agent: hello\nuser: this is Swift Haulers, MC 778899, we want the Dallas reefer load"

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare", `{"a":1}`, `{"a":1}`, true},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, true},
		{"prose", `Sure! Here is the result: {"a":{"b":"}"}} hope it helps`, `{"a":{"b":"}"}}`, true},
		{"skips broken brace", `{oops} then {"a":2}`, `{"a":2}`, true},
		{"none", "I cannot help with that", "", false},
		{"unterminated", `{"a":`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSONObject(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("ExtractJSONObject(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestEnrichParsesAndValidates(t *testing.T) {
	model := &fakeCompleter{reply: `Result: {"sentiment":"Positive","intent":"load_inquiry","outcome":"maybe","summary":"Asked about Dallas.","carrier_usdot":null,"carrier_mc":"MC-778899","carrier_name":"Swift Haulers","equipment_type":"reefer","lane":"Dallas -> Atlanta"}`}
	svc := New(model, Options{PromptLimit: 3000, Timeout: time.Second}, logger.Discard())

	e := svc.Enrich(context.Background(), longTranscript, "")
	if e == nil {
		t.Fatalf("expected enrichment")
	}
	if e.Sentiment == nil || *e.Sentiment != "positive" {
		t.Fatalf("sentiment = %v", e.Sentiment)
	}
	if e.Outcome != nil {
		t.Fatalf("invalid outcome should be dropped, got %q", *e.Outcome)
	}
	if e.CarrierMC == nil || *e.CarrierMC != "778899" {
		t.Fatalf("carrier mc = %v", e.CarrierMC)
	}
	if e.CarrierUSDOT != nil {
		t.Fatalf("null usdot should stay nil")
	}
	if e.Summary == nil || *e.Summary != "Asked about Dallas." {
		t.Fatalf("summary = %v", e.Summary)
	}
	if e.EquipmentType == nil || *e.EquipmentType != "reefer" || e.Lane == nil {
		t.Fatalf("tag fields missing: %+v", e)
	}
}

func TestEnrichProviderSummaryWins(t *testing.T) {
	model := &fakeCompleter{reply: `{"summary":"model summary","outcome":"booked"}`}
	svc := New(model, Options{}, logger.Discard())

	e := svc.Enrich(context.Background(), longTranscript, "provider summary")
	if e == nil || e.Summary == nil || *e.Summary != "provider summary" {
		t.Fatalf("provider summary should take precedence, got %+v", e)
	}
	if e.OutcomeValue() != "booked" {
		t.Fatalf("model fields should still fill gaps, got %q", e.OutcomeValue())
	}
}

func TestEnrichDegradesToNil(t *testing.T) {
	cases := map[string]*fakeCompleter{
		"error":       {err: errors.New("502 bad gateway")},
		"unparseable": {reply: "no json here"},
	}
	for name, model := range cases {
		t.Run(name, func(t *testing.T) {
			svc := New(model, Options{}, logger.Discard())
			if e := svc.Enrich(context.Background(), longTranscript, ""); e != nil {
				t.Fatalf("expected nil enrichment, got %+v", e)
			}
		})
	}
}

func TestEnrichTimeout(t *testing.T) {
	model := &fakeCompleter{block: true}
	svc := New(model, Options{Timeout: 10 * time.Millisecond}, logger.Discard())
	if e := svc.Enrich(context.Background(), longTranscript, ""); e != nil {
		t.Fatalf("expected nil on timeout")
	}
}

func TestEnrichSkipsShortTranscriptAndDisabled(t *testing.T) {
	model := &fakeCompleter{reply: `{"outcome":"booked"}`}
	svc := New(model, Options{}, logger.Discard())
	if e := svc.Enrich(context.Background(), "too short", ""); e != nil {
		t.Fatalf("short transcript should not be analyzed")
	}
	if model.calls != 0 {
		t.Fatalf("model called for short transcript")
	}

	disabled := New(nil, Options{}, logger.Discard())
	if disabled.Enabled() {
		t.Fatalf("nil completer should disable enrichment")
	}
	if e := disabled.Enrich(context.Background(), longTranscript, ""); e != nil {
		t.Fatalf("disabled service returned %+v", e)
	}
}

func TestEnrichTruncatesPrompt(t *testing.T) {
	model := &fakeCompleter{reply: `{}`}
	svc := New(model, Options{PromptLimit: 50}, logger.Discard())
	svc.Enrich(context.Background(), strings.Repeat("é", 500), "")

	body := strings.TrimPrefix(model.lastUser, "Transcript:\n")
	if n := len([]rune(body)); n != 50 {
		t.Fatalf("prompt carried %d runes, want 50", n)
	}
}
