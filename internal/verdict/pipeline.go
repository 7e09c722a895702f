// Package verdict decides whether to water today. A language model is asked
// first; when its answer does not say true or false, the rule-based checker
// decides instead.
package verdict

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/chrissnell/irrigationwx/internal/aggregates"
	"github.com/chrissnell/irrigationwx/internal/checker"
	"github.com/chrissnell/irrigationwx/internal/log"
	"github.com/chrissnell/irrigationwx/internal/types"
)

//go:embed templates/prompt.tmpl
var defaultPrompt string

// Notices returned in VerdictResult.Response when the checker decided
const (
	NoticeFallbackWater   = "The model's answer was inconclusive. All five weather conditions are met, so watering is advised."
	NoticeFallbackNoWater = "The model's answer was inconclusive. Not all weather conditions are met, so watering is not advised."
)

// Judge answers a free-text question
type Judge interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// Judgment is the parsed outcome of a judge response
type Judgment int

const (
	JudgmentAmbiguous Judgment = iota
	JudgmentTrue
	JudgmentFalse
)

func (j Judgment) String() string {
	switch j {
	case JudgmentTrue:
		return "true"
	case JudgmentFalse:
		return "false"
	default:
		return "ambiguous"
	}
}

func (j Judgment) MarshalText() ([]byte, error) {
	return []byte(j.String()), nil
}

var resultRe = regexp.MustCompile(`(?i)result\s+is\s+(true|false)`)

// ParseJudgment reads "result is true" or "result is false" from a response.
// A response that says neither, or both, is ambiguous.
func ParseJudgment(response string) Judgment {
	var sawTrue, sawFalse bool
	for _, m := range resultRe.FindAllStringSubmatch(response, -1) {
		if strings.EqualFold(m[1], "true") {
			sawTrue = true
		} else {
			sawFalse = true
		}
	}
	switch {
	case sawTrue && !sawFalse:
		return JudgmentTrue
	case sawFalse && !sawTrue:
		return JudgmentFalse
	default:
		return JudgmentAmbiguous
	}
}

// PromptData are the values substituted into the prompt template
type PromptData struct {
	OutTemp   float64
	Humidity  float64
	RainSum   float64
	RainToday float64
	RainRate  float64
	Weekday   string
	Month     string
}

// LoadTemplate parses the prompt template at path, or the built-in one when
// path is empty
func LoadTemplate(path string) (*template.Template, error) {
	text := defaultPrompt
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to read prompt template: %w", err)
		}
		text = string(raw)
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("unable to parse prompt template: %w", err)
	}
	return tmpl, nil
}

// Outcome is a verdict together with how it was reached
type Outcome struct {
	types.VerdictResult
	Judgment Judgment `json:"judgment"`
}

// Pipeline produces watering verdicts
type Pipeline struct {
	reader   *aggregates.Reader
	judge    Judge
	prompt   *template.Template
	location *time.Location
	clock    clockwork.Clock
	logger   *zap.SugaredLogger
}

// NewPipeline creates a Pipeline. A nil prompt uses the built-in template.
func NewPipeline(reader *aggregates.Reader, judge Judge, prompt *template.Template, loc *time.Location,
	clock clockwork.Clock, logger *zap.SugaredLogger) (*Pipeline, error) {
	if prompt == nil {
		var err error
		if prompt, err = LoadTemplate(""); err != nil {
			return nil, err
		}
	}
	if loc == nil {
		loc = time.Local
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		reader:   reader,
		judge:    judge,
		prompt:   prompt,
		location: loc,
		clock:    clock,
		logger:   log.OrNop(logger),
	}, nil
}

// Inputs reads the five checker values from the latest snapshot
func (p *Pipeline) Inputs(ctx context.Context) (checker.Input, error) {
	snap, err := p.reader.Latest(ctx)
	if err != nil {
		return checker.Input{}, err
	}

	var in checker.Input
	fields := []struct {
		window string
		name   string
		pick   func(types.WeatherAggregate) *float64
		dst    *float64
	}{
		{types.Window7d, "t_avg_c", func(a types.WeatherAggregate) *float64 { return a.TAvgC }, &in.OutTemp},
		{types.Window7d, "rh_mean_pct", func(a types.WeatherAggregate) *float64 { return a.RHMeanPct }, &in.Humidity},
		{types.Window4d, "rain_sum_mm", func(a types.WeatherAggregate) *float64 { return a.RainSumMM }, &in.RainSum},
		{types.Window24h, "rain_today_mm", func(a types.WeatherAggregate) *float64 { return a.RainTodayMM }, &in.RainToday},
		{types.Window24h, "rain_rate_mm_h", func(a types.WeatherAggregate) *float64 { return a.RainRateMMPerH }, &in.RainRate},
	}
	for _, f := range fields {
		win, err := snap.Window(f.window)
		if err != nil {
			return checker.Input{}, err
		}
		v, err := aggregates.Require("verdict", f.window+"."+f.name, f.pick(win))
		if err != nil {
			return checker.Input{}, err
		}
		*f.dst = v
	}
	return in, nil
}

// Prompt renders the judge question for in
func (p *Pipeline) Prompt(in checker.Input) (string, error) {
	now := p.clock.Now().In(p.location)
	data := PromptData{
		OutTemp:   in.OutTemp,
		Humidity:  in.Humidity,
		RainSum:   in.RainSum,
		RainToday: in.RainToday,
		RainRate:  in.RainRate,
		Weekday:   now.Weekday().String(),
		Month:     now.Month().String(),
	}

	var buf bytes.Buffer
	if err := p.prompt.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("unable to render prompt: %w", err)
	}
	return buf.String(), nil
}

// Run fetches the aggregates, asks the judge and falls back to the checker
// when the answer is ambiguous. Read and judge failures are returned as is.
func (p *Pipeline) Run(ctx context.Context) (*Outcome, error) {
	in, err := p.Inputs(ctx)
	if err != nil {
		return nil, err
	}

	prompt, err := p.Prompt(in)
	if err != nil {
		return nil, err
	}

	response, err := p.judge.Ask(ctx, prompt)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Judgment: ParseJudgment(response)}
	switch out.Judgment {
	case JudgmentTrue:
		out.Result, out.Response = true, response
	case JudgmentFalse:
		out.Result, out.Response = false, response
	default:
		res := checker.Check(in)
		sentences := checker.GenerateEvaluationSentences(res)
		out.Result = res.AllConditionsMet()
		out.Response = NoticeFallbackNoWater
		if out.Result {
			out.Response = NoticeFallbackWater
		}
		out.FormattedEvaluation = &sentences
		p.logger.Infof("judge answer was ambiguous, checker decided %v", out.Result)
	}

	p.logger.Debugf("verdict %v (%s)", out.Result, out.Judgment)
	return out, nil
}
