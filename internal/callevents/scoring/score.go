// Package scoring turns call signals into an intent score from 0 to 10.
//
// Every applicable signal contributes a floor and the score is the highest
// floor, so signals never add up and a stronger signal never lowers it.
package scoring

import (
	"math"

	"freight_ops_backend/internal/callevents/domain"
)

// Score bounds and thresholds.
const (
	MaxScore            = 10
	MinScore            = 0
	HighIntentThreshold = 7
	LongCallSecs        = 30
)

// Floors per signal.
const (
	floorBooked            = 10
	floorCallbackRequested = 8
	floorDeclined          = 2
	floorBaseline          = 5
	floorCarrierID         = 9
	floorPositive          = 7
	floorNegative          = 3
	floorLongCall          = 6
)

// Signal names used in Reason.
const (
	SignalOutcome   = "outcome"
	SignalCarrierID = "carrier_id"
	SignalSentiment = "sentiment"
	SignalDuration  = "duration"
	SignalKeyword   = "keyword"
	SignalThreshold = "score_threshold"
)

// Signals are the inputs gathered by earlier stages.
type Signals struct {
	Outcome        string
	Sentiment      string
	DurationSecs   int
	HasCarrierID   bool
	KeywordMatched bool
	KeywordWeight  float64
}

// Floor is one signal's contribution.
type Floor struct {
	Signal string `json:"signal"`
	Value  string `json:"value,omitempty"`
	Floor  int    `json:"floor"`
}

// Reason explains a score. It is stored with the call summary.
type Reason struct {
	Floors     []Floor  `json:"floors"`
	Winning    string   `json:"winning"`
	HighIntent []string `json:"highIntentBy,omitempty"`
}

// Result is the outcome of Score.
type Result struct {
	Score      int
	HighIntent bool
	Reason     Reason
}

// Score combines the signals.
func Score(s Signals) Result {
	floors := []Floor{outcomeFloor(s.Outcome)}
	if s.HasCarrierID {
		floors = append(floors, Floor{Signal: SignalCarrierID, Floor: floorCarrierID})
	}
	switch s.Sentiment {
	case domain.SentimentPositive:
		floors = append(floors, Floor{Signal: SignalSentiment, Value: s.Sentiment, Floor: floorPositive})
	case domain.SentimentNegative:
		floors = append(floors, Floor{Signal: SignalSentiment, Value: s.Sentiment, Floor: floorNegative})
	}
	if s.DurationSecs > LongCallSecs {
		floors = append(floors, Floor{Signal: SignalDuration, Floor: floorLongCall})
	}
	if s.KeywordMatched {
		floors = append(floors, Floor{Signal: SignalKeyword, Floor: KeywordFloor(s.KeywordWeight)})
	}

	best := floors[0]
	for _, f := range floors[1:] {
		if f.Floor > best.Floor {
			best = f
		}
	}
	score := clamp(best.Floor)

	var by []string
	if score >= HighIntentThreshold {
		by = append(by, SignalThreshold)
	}
	if s.HasCarrierID {
		by = append(by, SignalCarrierID)
	}
	if s.KeywordMatched {
		by = append(by, SignalKeyword)
	}

	return Result{
		Score:      score,
		HighIntent: len(by) > 0,
		Reason:     Reason{Floors: floors, Winning: best.Signal, HighIntent: by},
	}
}

// KeywordFloor converts a rule weight in [0,1] to a floor.
func KeywordFloor(weight float64) int {
	return clamp(int(math.Round(weight * MaxScore)))
}

func outcomeFloor(outcome string) Floor {
	f := Floor{Signal: SignalOutcome, Value: outcome, Floor: floorBaseline}
	switch outcome {
	case domain.OutcomeBooked:
		f.Floor = floorBooked
	case domain.OutcomeCallbackRequested:
		f.Floor = floorCallbackRequested
	case domain.OutcomeDeclined:
		f.Floor = floorDeclined
	}
	return f
}

func clamp(v int) int {
	return min(max(v, MinScore), MaxScore)
}
