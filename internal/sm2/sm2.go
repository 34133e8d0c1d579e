// Package sm2 implements the SuperMemo-2 spaced repetition algorithm.
// Every function is pure: callers pass in the clock.
package sm2

import (
	"math"
	"time"
)

const (
	DefaultEasinessFactor = 2.5
	MinEasinessFactor     = 1.3

	MinQuality     = 0
	MaxQuality     = 5
	PassingQuality = 3

	// RetentionDecay is the k in exp(-t / (k*EF)).
	RetentionDecay = 9.0
)

// Button is a UI answer choice mapped onto a canonical quality score.
type Button int

const (
	Again Button = iota
	Hard
	Good
	Easy
)

// Quality returns the canonical quality score for the button.
func (b Button) Quality() int {
	switch b {
	case Again:
		return 1
	case Hard:
		return 3
	case Good:
		return 4
	default:
		return 5
	}
}

// State holds the SM-2 memory state of a card.
type State struct {
	EasinessFactor float64
	IntervalDays   int
	Repetitions    int
}

// Result is the outcome of a review.
type Result struct {
	State          State
	NextReviewDate time.Time
}

// InitialState returns the state of a card that has never been reviewed.
func InitialState() State {
	return State{EasinessFactor: DefaultEasinessFactor}
}

// ClampQuality corrects a quality score into [MinQuality, MaxQuality].
func ClampQuality(q int) int {
	return min(max(q, MinQuality), MaxQuality)
}

// ValidQuality reports whether q needs no clamping.
func ValidQuality(q int) bool {
	return q >= MinQuality && q <= MaxQuality
}

// NextEasinessFactor applies EF' = EF + (0.1 - (5-q)*(0.08 + (5-q)*0.02)), floored at 1.3.
func NextEasinessFactor(ef float64, quality int) float64 {
	d := float64(MaxQuality - ClampQuality(quality))
	next := ef + (0.1 - d*(0.08+d*0.02))
	return math.Max(next, MinEasinessFactor)
}

// NextState computes the state that follows a review graded with quality.
func NextState(s State, quality int) State {
	q := ClampQuality(quality)
	s = normalize(s)
	ef := NextEasinessFactor(s.EasinessFactor, q)

	if q < PassingQuality {
		// A lapse restarts the schedule regardless of the previous interval.
		return State{EasinessFactor: ef, IntervalDays: 1, Repetitions: 0}
	}

	reps := s.Repetitions + 1
	var interval int
	switch reps {
	case 1:
		interval = 1
	case 2:
		interval = 6
	default:
		interval = max(1, int(math.Round(float64(s.IntervalDays)*ef)))
	}
	return State{EasinessFactor: ef, IntervalDays: interval, Repetitions: reps}
}

// CalculateNextReview computes the next state and the date the card is due again.
func CalculateNextReview(s State, quality int, now time.Time) Result {
	next := NextState(s, quality)
	return Result{
		State:          next,
		NextReviewDate: now.AddDate(0, 0, next.IntervalDays),
	}
}

// EstimateInterval replays the interval sequence for a card that has passed
// repetitions reviews in a row with a constant easiness factor.
func EstimateInterval(repetitions int, ef float64) int {
	ef = math.Max(ef, MinEasinessFactor)
	switch {
	case repetitions <= 0:
		return 0
	case repetitions == 1:
		return 1
	}
	interval := 6
	for i := 2; i < repetitions; i++ {
		interval = int(math.Round(float64(interval) * ef))
	}
	return interval
}

// Preview holds the interval, in days, each answer button would produce.
type Preview struct {
	Again int `json:"again"`
	Hard  int `json:"hard"`
	Good  int `json:"good"`
	Easy  int `json:"easy"`
}

// PreviewIntervals reports the interval each button would schedule without
// committing anything. Again <= Hard <= Good <= Easy holds for every state.
func PreviewIntervals(s State) Preview {
	return Preview{
		Again: NextState(s, Again.Quality()).IntervalDays,
		Hard:  NextState(s, Hard.Quality()).IntervalDays,
		Good:  NextState(s, Good.Quality()).IntervalDays,
		Easy:  NextState(s, Easy.Quality()).IntervalDays,
	}
}

// EstimateRetention is an advisory recall probability after daysSinceReview days.
func EstimateRetention(daysSinceReview float64, ef float64) float64 {
	if daysSinceReview <= 0 {
		return 1
	}
	ef = math.Max(ef, MinEasinessFactor)
	return math.Exp(-daysSinceReview / (RetentionDecay * ef))
}

// Difficulty is a presentational band of the easiness factor.
type Difficulty string

const (
	DifficultyEasy     Difficulty = "easy"
	DifficultyMedium   Difficulty = "medium"
	DifficultyHard     Difficulty = "hard"
	DifficultyVeryHard Difficulty = "very_hard"
)

// DifficultyCategory classifies an easiness factor.
func DifficultyCategory(ef float64) Difficulty {
	switch {
	case ef >= 2.5:
		return DifficultyEasy
	case ef >= 2.0:
		return DifficultyMedium
	case ef >= 1.6:
		return DifficultyHard
	default:
		return DifficultyVeryHard
	}
}

func normalize(s State) State {
	if s.EasinessFactor < MinEasinessFactor {
		s.EasinessFactor = MinEasinessFactor
	}
	s.IntervalDays = max(s.IntervalDays, 0)
	s.Repetitions = max(s.Repetitions, 0)
	return s
}
