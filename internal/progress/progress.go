// Package progress scores a user's treatment goal from habit counters.
//
// The score is built from three sequential bands (weeks). A band only unlocks
// the next one once every metric in it is fully met, so the total never
// exceeds the partial score of the first incomplete band.
package progress

import "math"

type Metric string

const (
	Capsule  Metric = "capsule_days"
	Water    Metric = "water_goal_days"
	Exercise Metric = "exercises"
	Recipe   Metric = "recipes"
	Detox    Metric = "detox"
)

// Counts are the raw, cumulative habit counters for one user.
type Counts struct {
	CapsuleDays   int `json:"capsule_days"`
	WaterGoalDays int `json:"water_goal_days"`
	Exercises     int `json:"exercises"`
	Recipes       int `json:"recipes"`
	Detox         int `json:"detox"`
}

func (c Counts) value(m Metric) int {
	switch m {
	case Capsule:
		return c.CapsuleDays
	case Water:
		return c.WaterGoalDays
	case Exercise:
		return c.Exercises
	case Recipe:
		return c.Recipes
	case Detox:
		return c.Detox
	default:
		return 0
	}
}

type Target struct {
	Metric Metric
	Count  int
}

// Band is one week of the program. Targets are cumulative counts.
type Band struct {
	Name    string
	Points  float64
	Targets []Target
}

// Bands is the fixed program: 30 + 25 + 45 points.
var Bands = []Band{
	{
		Name:   "week1",
		Points: 30,
		Targets: []Target{
			{Capsule, 5},
			{Water, 5},
			{Exercise, 3},
		},
	},
	{
		Name:   "week2",
		Points: 25,
		Targets: []Target{
			{Capsule, 10},
			{Water, 10},
			{Exercise, 6},
			{Recipe, 3},
		},
	},
	{
		Name:   "week3",
		Points: 45,
		Targets: []Target{
			{Capsule, 21},
			{Water, 21},
			{Exercise, 10},
			{Recipe, 6},
			{Detox, 3},
		},
	},
}

type MetricResult struct {
	Metric Metric  `json:"metric"`
	Count  int     `json:"count"`
	Target int     `json:"target"`
	Ratio  float64 `json:"ratio"`
}

type BandResult struct {
	Name     string         `json:"name"`
	Points   float64        `json:"points"`
	Score    float64        `json:"score"`
	Complete bool           `json:"complete"`
	Unlocked bool           `json:"unlocked"`
	Metrics  []MetricResult `json:"metrics"`
}

type Result struct {
	Total int          `json:"total_progress"`
	Bands []BandResult `json:"bands"`
}

// Calculate scores counts against Bands.
func Calculate(c Counts) Result {
	return calculate(Bands, c)
}

func calculate(bands []Band, c Counts) Result {
	res := Result{Bands: make([]BandResult, 0, len(bands))}
	reached := map[Metric]int{}
	unlocked := true
	total := 0.0

	for _, b := range bands {
		br := BandResult{Name: b.Name, Points: b.Points, Unlocked: unlocked, Complete: true}
		sum := 0.0
		for _, t := range b.Targets {
			base := reached[t.Metric]
			ratio := clamp(float64(c.value(t.Metric)-base) / float64(t.Count-base))
			if ratio < 1 {
				br.Complete = false
			}
			sum += ratio
			br.Metrics = append(br.Metrics, MetricResult{
				Metric: t.Metric,
				Count:  c.value(t.Metric),
				Target: t.Count,
				Ratio:  ratio,
			})
		}
		if len(b.Targets) > 0 {
			br.Score = sum / float64(len(b.Targets)) * b.Points
		}
		if unlocked {
			total += br.Score
		}
		if !br.Complete {
			unlocked = false
		}
		for _, t := range b.Targets {
			reached[t.Metric] = t.Count
		}
		res.Bands = append(res.Bands, br)
	}

	res.Total = int(math.Min(100, math.Round(total)))
	return res
}

func clamp(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
