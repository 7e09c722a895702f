package verdict

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrissnell/irrigationwx/internal/aggregates"
	"github.com/chrissnell/irrigationwx/internal/checker"
	"github.com/chrissnell/irrigationwx/internal/kvstore"
	"github.com/chrissnell/irrigationwx/internal/types"
)

type stubJudge struct {
	answer string
	err    error
	prompt string
	calls  int
}

func (s *stubJudge) Ask(_ context.Context, prompt string) (string, error) {
	s.calls++
	s.prompt = prompt
	return s.answer, s.err
}

func f(v float64) *float64 { return &v }

func snapshot(outTemp, humidity, rainSum, rainToday, rainRate *float64) types.Snapshot {
	return types.Snapshot{Windows: map[string]types.WeatherAggregate{
		types.Window7d:  {TAvgC: outTemp, RHMeanPct: humidity},
		types.Window4d:  {RainSumMM: rainSum},
		types.Window24h: {RainTodayMM: rainToday, RainRateMMPerH: rainRate},
	}}
}

func newPipeline(t *testing.T, snap *types.Snapshot, judge Judge) *Pipeline {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 7, 3, 9, 0, 0, 0, time.UTC)) // a Wednesday
	store := kvstore.NewMemory(clock)
	if snap != nil {
		require.NoError(t, kvstore.SetJSON(context.Background(), store, types.KeyWeatherAggLatest, snap))
	}
	p, err := NewPipeline(aggregates.NewReader(store), judge, nil, time.UTC, clock, nil)
	require.NoError(t, err)
	return p
}

func TestParseJudgment(t *testing.T) {
	tests := []struct {
		response string
		want     Judgment
	}{
		{"Result is TRUE.", JudgmentTrue},
		{"After weighing it all up: result is true", JudgmentTrue},
		{"RESULT IS FALSE", JudgmentFalse},
		{"The result is\nfalse.", JudgmentFalse},
		{"unclear", JudgmentAmbiguous},
		{"", JudgmentAmbiguous},
		{"Result is true... actually result is false", JudgmentAmbiguous},
		{"results are true", JudgmentAmbiguous},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseJudgment(tt.response), "%q", tt.response)
	}
}

func TestRunJudgeTrue(t *testing.T) {
	snap := snapshot(f(18), f(55), f(2), f(0), f(0))
	judge := &stubJudge{answer: "Dry week. Result is TRUE."}
	p := newPipeline(t, &snap, judge)

	out, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Result)
	assert.Nil(t, out.FormattedEvaluation)
	assert.Equal(t, JudgmentTrue, out.Judgment)
	assert.Equal(t, "Dry week. Result is TRUE.", out.Response)

	assert.Contains(t, judge.prompt, "Wednesday")
	assert.Contains(t, judge.prompt, "July")
	assert.Contains(t, judge.prompt, "18.0 °C")
}

func TestRunJudgeFalse(t *testing.T) {
	snap := snapshot(f(18), f(55), f(2), f(0), f(0))
	p := newPipeline(t, &snap, &stubJudge{answer: "result is false"})

	out, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Result)
	assert.Nil(t, out.FormattedEvaluation)
}

func TestRunAmbiguousFallsBackToChecker(t *testing.T) {
	snap := snapshot(f(12), f(70), f(10), f(1), f(0))
	p := newPipeline(t, &snap, &stubJudge{answer: "unclear"})

	out, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Result)
	assert.Equal(t, JudgmentAmbiguous, out.Judgment)
	assert.Equal(t, NoticeFallbackWater, out.Response)
	require.NotNil(t, out.FormattedEvaluation)
	assert.Len(t, strings.Split(*out.FormattedEvaluation, "\n"), 5)
}

func TestRunAmbiguousFallbackNoWater(t *testing.T) {
	snap := snapshot(f(12), f(70), f(30), f(1), f(0))
	p := newPipeline(t, &snap, &stubJudge{answer: "maybe"})

	out, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Result)
	assert.Equal(t, NoticeFallbackNoWater, out.Response)
	require.NotNil(t, out.FormattedEvaluation)
}

func TestRunMissingAggregate(t *testing.T) {
	judge := &stubJudge{answer: "Result is true"}

	_, err := newPipeline(t, nil, judge).Run(context.Background())
	assert.True(t, errors.Is(err, types.ErrDataUnavailable))

	snap := snapshot(f(12), f(70), f(10), nil, f(0))
	_, err = newPipeline(t, &snap, judge).Run(context.Background())
	assert.True(t, errors.Is(err, types.ErrDataUnavailable))
	assert.Contains(t, err.Error(), "24h.rain_today_mm")

	assert.Zero(t, judge.calls, "judge must not be asked without complete data")
}

func TestRunJudgeErrorPropagates(t *testing.T) {
	snap := snapshot(f(12), f(70), f(10), f(1), f(0))
	boom := errors.New("judge unreachable")
	_, err := newPipeline(t, &snap, &stubJudge{err: boom}).Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestLoadTemplateFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.tmpl")
	require.NoError(t, os.WriteFile(path, []byte(`{{.Month}}: {{.RainSum}} mm`), 0o644))

	tmpl, err := LoadTemplate(path)
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC))
	p, err := NewPipeline(nil, nil, tmpl, time.UTC, clock, nil)
	require.NoError(t, err)
	prompt, err := p.Prompt(checker.Input{RainSum: 4})
	require.NoError(t, err)
	assert.Equal(t, "April: 4 mm", prompt)

	_, err = LoadTemplate(filepath.Join(t.TempDir(), "missing.tmpl"))
	assert.Error(t, err)
}
