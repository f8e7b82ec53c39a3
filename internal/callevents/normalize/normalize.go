// Package normalize turns provider webhook payloads of any known version into
// domain.NormalizedEvent. It never fails; missing values become domain.Unknown.
package normalize

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"freight_ops_backend/internal/callevents/domain"

	"gopkg.in/yaml.v3"
)

//go:embed fieldpaths.yaml
var fieldPathsYAML []byte

// FieldPaths lists candidate payload paths per logical field.
type FieldPaths struct {
	ConversationID     []string `yaml:"conversation_id"`
	EventID            []string `yaml:"event_id"`
	EventType          []string `yaml:"event_type"`
	Status             []string `yaml:"status"`
	CallSID            []string `yaml:"call_sid"`
	AgentID            []string `yaml:"agent_id"`
	CallerNumber       []string `yaml:"caller_number"`
	AgentNumber        []string `yaml:"agent_number"`
	Direction          []string `yaml:"direction"`
	TerminationReason  []string `yaml:"termination_reason"`
	DurationSecs       []string `yaml:"duration_secs"`
	Cost               []string `yaml:"cost"`
	Transcript         []string `yaml:"transcript"`
	Summary            []string `yaml:"summary"`
	SummaryTitle       []string `yaml:"summary_title"`
	RecordingURL       []string `yaml:"recording_url"`
	OccurredAt         []string `yaml:"occurred_at"`
	TerminalEventTypes []string `yaml:"terminal_event_types"`
}

var defaultPaths = mustLoadPaths(fieldPathsYAML)

func mustLoadPaths(data []byte) FieldPaths {
	paths, err := LoadFieldPaths(data)
	if err != nil {
		panic("normalize: invalid embedded field paths: " + err.Error())
	}
	return paths
}

// LoadFieldPaths parses a field path table.
func LoadFieldPaths(data []byte) (FieldPaths, error) {
	var paths FieldPaths
	if err := yaml.Unmarshal(data, &paths); err != nil {
		return FieldPaths{}, err
	}
	return paths, nil
}

// DefaultFieldPaths returns the embedded table.
func DefaultFieldPaths() FieldPaths {
	return defaultPaths
}

// Normalize extracts the canonical fields using the embedded path table.
func Normalize(raw []byte) domain.NormalizedEvent {
	return NormalizeWith(defaultPaths, raw)
}

// NormalizeWith extracts the canonical fields using paths.
func NormalizeWith(paths FieldPaths, raw []byte) domain.NormalizedEvent {
	doc := decodeObject(raw)

	ev := domain.NormalizedEvent{
		ProviderEventID:      firstString(doc, paths.EventID),
		ConversationID:       firstString(doc, paths.ConversationID),
		EventType:            orUnknown(strings.ToLower(firstString(doc, paths.EventType))),
		Status:               orUnknown(firstString(doc, paths.Status)),
		CallSID:              firstString(doc, paths.CallSID),
		ProviderAgentID:      firstString(doc, paths.AgentID),
		CallerNumber:         orUnknown(firstString(doc, paths.CallerNumber)),
		AgentNumber:          orUnknown(firstString(doc, paths.AgentNumber)),
		Direction:            orUnknown(strings.ToLower(firstString(doc, paths.Direction))),
		TerminationReason:    orUnknown(firstString(doc, paths.TerminationReason)),
		DurationSecs:         firstInt(doc, paths.DurationSecs),
		Cost:                 firstFloat(doc, paths.Cost),
		Transcript:           firstTranscript(doc, paths.Transcript),
		ProviderSummary:      firstString(doc, paths.Summary),
		ProviderSummaryTitle: firstString(doc, paths.SummaryTitle),
		RecordingURL:         firstString(doc, paths.RecordingURL),
		OccurredAt:           firstTime(doc, paths.OccurredAt),
		Raw:                  canonicalRaw(raw, doc),
	}
	ev.Terminal = isTerminal(paths, ev)
	return ev
}

// IsTerminal reports whether the event should run the full pipeline.
func IsTerminal(ev domain.NormalizedEvent) bool {
	return isTerminal(defaultPaths, ev)
}

func isTerminal(paths FieldPaths, ev domain.NormalizedEvent) bool {
	if ev.HasTranscript() {
		return true
	}
	for _, t := range paths.TerminalEventTypes {
		if strings.EqualFold(ev.EventType, t) {
			return true
		}
	}
	return false
}

// SyntheticConversationID derives a stable id for events that carry none.
// Re-deliveries of the same call produce the same id.
func SyntheticConversationID(ev domain.NormalizedEvent) string {
	if ev.CallSID != "" {
		return "synthetic:sid:" + ev.CallSID
	}

	h := sha256.New()
	if ev.HasCaller() || ev.HasTranscript() {
		h.Write([]byte(ev.CallerNumber))
		h.Write([]byte{0})
		h.Write([]byte(ev.AgentNumber))
		h.Write([]byte{0})
		h.Write([]byte(ev.Transcript))
	} else {
		h.Write(ev.Raw)
	}
	return "synthetic:" + hex.EncodeToString(h.Sum(nil))[:32]
}

func decodeObject(raw []byte) map[string]any {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil || doc == nil {
		return map[string]any{}
	}
	return scrub(doc).(map[string]any)
}

// scrub drops NUL characters from every string and key. The decoder has
// already replaced invalid UTF-8 with U+FFFD.
func scrub(v any) any {
	switch t := v.(type) {
	case string:
		return strings.ReplaceAll(t, "\x00", "")
	case []any:
		for i := range t {
			t[i] = scrub(t[i])
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[strings.ReplaceAll(k, "\x00", "")] = scrub(val)
		}
		return out
	}
	return v
}

var escapedNUL = []byte(`\u0000`)

// canonicalRaw returns the payload as stored. Postgres JSONB rejects invalid
// UTF-8 and NUL, so such payloads are re-encoded from the scrubbed doc.
func canonicalRaw(raw []byte, doc map[string]any) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if !json.Valid(trimmed) {
		return json.RawMessage(`{}`)
	}
	if utf8.Valid(trimmed) && !bytes.Contains(trimmed, escapedNUL) {
		return json.RawMessage(trimmed)
	}
	if len(doc) > 0 {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(doc); err == nil {
			return json.RawMessage(bytes.TrimSpace(buf.Bytes()))
		}
	}
	cleaned := bytes.ReplaceAll(bytes.ToValidUTF8(trimmed, []byte("\uFFFD")), escapedNUL, nil)
	if !json.Valid(cleaned) {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(cleaned)
}

func lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func firstString(doc map[string]any, paths []string) string {
	for _, p := range paths {
		v, ok := lookup(doc, p)
		if !ok {
			continue
		}
		if s := scalarString(v); s != "" {
			return s
		}
	}
	return ""
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func firstFloatValue(doc map[string]any, paths []string) (float64, bool) {
	for _, p := range paths {
		v, ok := lookup(doc, p)
		if !ok {
			continue
		}
		s := scalarString(v)
		if s == "" {
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		return f, true
	}
	return 0, false
}

func firstInt(doc map[string]any, paths []string) int {
	f, ok := firstFloatValue(doc, paths)
	if !ok || f < 0 {
		return 0
	}
	return int(math.Round(f))
}

func firstFloat(doc map[string]any, paths []string) *float64 {
	f, ok := firstFloatValue(doc, paths)
	if !ok {
		return nil
	}
	return &f
}

func firstTime(doc map[string]any, paths []string) time.Time {
	for _, p := range paths {
		v, ok := lookup(doc, p)
		if !ok {
			continue
		}
		s := scalarString(v)
		if s == "" {
			continue
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil && n > 0 {
			if n > 1e12 {
				return time.UnixMilli(int64(n)).UTC()
			}
			return time.Unix(int64(n), 0).UTC()
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// firstTranscript accepts a plain string or a list of turns and renders turns
// as "role: message" lines.
func firstTranscript(doc map[string]any, paths []string) string {
	for _, p := range paths {
		v, ok := lookup(doc, p)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		case []any:
			if s := renderTurns(t); s != "" {
				return s
			}
		}
	}
	return ""
}

func renderTurns(turns []any) string {
	lines := make([]string, 0, len(turns))
	for _, item := range turns {
		turn, ok := item.(map[string]any)
		if !ok {
			if s := scalarString(item); s != "" {
				lines = append(lines, s)
			}
			continue
		}
		text := firstString(turn, []string{"message", "text", "content"})
		if text == "" {
			continue
		}
		role := firstString(turn, []string{"role", "speaker"})
		if role == "" {
			lines = append(lines, text)
			continue
		}
		lines = append(lines, role+": "+text)
	}
	return strings.Join(lines, "\n")
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return domain.Unknown
	}
	return v
}
