// Package checker is the rule-based watering check used when the language
// model's answer cannot be parsed. It is a pure function of its input.
package checker

import (
	"fmt"
	"strconv"
	"strings"
)

// Thresholds of the five conditions
const (
	MinOutTempC       = 10.0
	MaxHumidityPct    = 80.0
	MaxRainSumMM      = 25.0
	MaxRainTodayMM    = 3.0
	MaxRainRateMMPerH = 0.0
)

// Input holds the aggregate values the check compares
type Input struct {
	OutTemp   float64 `json:"outTemp"`
	Humidity  float64 `json:"humidity"`
	RainSum   float64 `json:"rainSum"`
	RainToday float64 `json:"rainToday"`
	RainRate  float64 `json:"rainRate"`
}

// Evaluations holds the outcome of each condition
type Evaluations struct {
	OutTempCheck   bool `json:"outTempCheck"`
	HumidityCheck  bool `json:"humidityCheck"`
	RainSumCheck   bool `json:"rainSumCheck"`
	RainTodayCheck bool `json:"rainTodayCheck"`
	RainRateCheck  bool `json:"rainRateCheck"`
}

// Result is the outcome of Check together with the values compared
type Result struct {
	Evaluations    Evaluations `json:"evaluations"`
	ComparedValues Input       `json:"comparedValues"`
}

// Check evaluates all five conditions
func Check(in Input) Result {
	return Result{
		Evaluations: Evaluations{
			OutTempCheck:   in.OutTemp > MinOutTempC,
			HumidityCheck:  in.Humidity < MaxHumidityPct,
			RainSumCheck:   in.RainSum < MaxRainSumMM,
			RainTodayCheck: in.RainToday < MaxRainTodayMM,
			RainRateCheck:  in.RainRate <= MaxRainRateMMPerH,
		},
		ComparedValues: in,
	}
}

// AllConditionsMet reports whether watering is advised
func (r Result) AllConditionsMet() bool {
	e := r.Evaluations
	return e.OutTempCheck && e.HumidityCheck && e.RainSumCheck && e.RainTodayCheck && e.RainRateCheck
}

type sentence struct {
	label   string
	labelDE string
	unit    string
	op      string
	limit   float64
}

var sentences = []sentence{
	{"Mean temperature (7 days)", "Durchschnittstemperatur (7 Tage)", "°C", ">", MinOutTempC},
	{"Mean humidity (7 days)", "Mittlere Luftfeuchtigkeit (7 Tage)", "%", "<", MaxHumidityPct},
	{"Rain (4 days)", "Niederschlag (4 Tage)", "mm", "<", MaxRainSumMM},
	{"Rain today", "Niederschlag heute", "mm", "<", MaxRainTodayMM},
	{"Rain rate", "Niederschlagsrate", "mm/h", "<=", MaxRainRateMMPerH},
}

func (s sentence) format(value float64, ok bool) string {
	verdict, verdictDE := "met", "erfüllt"
	if !ok {
		verdict, verdictDE = "not met", "nicht erfüllt"
	}
	return fmt.Sprintf("%s / %s: %s %s (%s %g %s) %s / %s",
		s.label, s.labelDE, s.display(value), s.unit, s.op, s.limit, s.unit, verdict, verdictDE)
}

// display shows one decimal unless rounding would put the value on the limit
// or on its other side; then the exact value is shown.
func (s sentence) display(value float64) string {
	short := strconv.FormatFloat(value, 'f', 1, 64)
	if value == s.limit {
		return short
	}
	rounded, err := strconv.ParseFloat(short, 64)
	if err != nil || rounded == s.limit || (rounded < s.limit) != (value < s.limit) {
		return strconv.FormatFloat(value, 'f', -1, 64)
	}
	return short
}

// GenerateEvaluationSentences renders one line per condition in the order
// outTemp, humidity, rainSum, rainToday, rainRate.
func GenerateEvaluationSentences(r Result) string {
	v, e := r.ComparedValues, r.Evaluations
	values := []float64{v.OutTemp, v.Humidity, v.RainSum, v.RainToday, v.RainRate}
	checks := []bool{e.OutTempCheck, e.HumidityCheck, e.RainSumCheck, e.RainTodayCheck, e.RainRateCheck}

	lines := make([]string, len(sentences))
	for i, s := range sentences {
		lines[i] = s.format(values[i], checks[i])
	}
	return strings.Join(lines, "\n")
}
