package recurrence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Expand_Weekly(t *testing.T) {
	engine := NewEngine()
	ctx := context.Background()

	// Monday 09:00-10:00, weekly, 3 occurrences.
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) // a Monday
	end := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	in := Input{
		EventID: "e1",
		Span:    Span{Start: start, End: end},
		Rule:    &Rule{Freq: Weekly, Interval: 1, Count: 3},
	}
	window := Span{
		Start: start.AddDate(0, 0, -1),
		End:   start.AddDate(0, 0, 28), // 4 weeks
	}

	occs, err := engine.Expand(ctx, in, window)
	require.NoError(t, err)
	require.Len(t, occs, 3)
	for i, occ := range occs {
		assert.Equal(t, "e1", occ.EventID)
		assert.Equal(t, start.AddDate(0, 0, 7*i), occ.Start)
		assert.Equal(t, end.AddDate(0, 0, 7*i), occ.End)
		assert.Equal(t, time.Monday, occ.Start.Weekday())
	}
}

func TestEngine_Expand_ExceptionOmitted(t *testing.T) {
	engine := NewEngine()
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	in := Input{
		EventID:    "e1",
		Span:       Span{Start: start, End: start.Add(time.Hour)},
		Rule:       &Rule{Freq: Weekly, Interval: 1, Count: 3},
		Exceptions: []time.Time{start.AddDate(0, 0, 7)}, // 2nd occurrence
	}
	window := Span{Start: start, End: start.AddDate(0, 0, 28)}

	occs, err := engine.Expand(context.Background(), in, window)
	require.NoError(t, err)
	require.Len(t, occs, 2)
	assert.Equal(t, start, occs[0].Start)
	assert.Equal(t, start.AddDate(0, 0, 14), occs[1].Start)
}

func TestEngine_Expand_WindowClipping(t *testing.T) {
	engine := NewEngine()
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	in := Input{
		EventID: "e1",
		Span:    Span{Start: start, End: start.Add(time.Hour)},
		Rule:    &Rule{Freq: Daily, Interval: 1}, // unbounded
	}
	window := Span{
		Start: start.AddDate(0, 0, 5),
		End:   start.AddDate(0, 0, 8),
	}

	occs, err := engine.Expand(context.Background(), in, window)
	require.NoError(t, err)
	require.Len(t, occs, 3)
	assert.Equal(t, start.AddDate(0, 0, 5), occs[0].Start)
	assert.Equal(t, start.AddDate(0, 0, 7), occs[2].Start)
}

func TestEngine_Expand_MonthlySkipsShortMonths(t *testing.T) {
	engine := NewEngine()
	// Monthly on the 31st starting Jan 31; short months produce nothing.
	start := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	in := Input{
		EventID: "e1",
		Span:    Span{Start: start, End: start.Add(time.Hour)},
		Rule:    &Rule{Freq: Monthly, Interval: 1, ByMonthDay: []int{31}},
	}
	window := Span{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	occs, err := engine.Expand(context.Background(), in, window)
	require.NoError(t, err)
	var days []string
	for _, occ := range occs {
		days = append(days, occ.Start.Format("2006-01-02"))
	}
	assert.Equal(t, []string{"2024-01-31", "2024-03-31", "2024-05-31"}, days)
}

func TestEngine_Expand_NonRecurring(t *testing.T) {
	engine := NewEngine()
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	in := Input{
		EventID: "e1",
		Span:    Span{Start: start, End: start.Add(time.Hour)},
	}

	tests := []struct {
		name   string
		window Span
		want   int
	}{
		{
			name:   "overlapping window",
			window: Span{Start: start.Add(-time.Hour), End: start.Add(2 * time.Hour)},
			want:   1,
		},
		{
			name:   "window before event",
			window: Span{Start: start.Add(-2 * time.Hour), End: start.Add(-time.Hour)},
			want:   0,
		},
		{
			name: "back-to-back window does not overlap",
			// Window starts exactly where the event ends.
			window: Span{Start: start.Add(time.Hour), End: start.Add(2 * time.Hour)},
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			occs, err := engine.Expand(context.Background(), in, tt.window)
			require.NoError(t, err)
			assert.Len(t, occs, tt.want)
		})
	}
}

func TestEngine_Expand_InvalidInputs(t *testing.T) {
	engine := NewEngine()
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	until := start.AddDate(0, 1, 0)
	span := Span{Start: start, End: start.Add(time.Hour)}
	window := Span{Start: start, End: start.AddDate(0, 1, 0)}

	t.Run("interval below one", func(t *testing.T) {
		_, err := engine.Expand(context.Background(), Input{
			EventID: "e1", Span: span,
			Rule: &Rule{Freq: Daily, Interval: 0},
		}, window)
		assert.ErrorIs(t, err, ErrInvalidRule)
	})

	t.Run("count and until both set", func(t *testing.T) {
		_, err := engine.Expand(context.Background(), Input{
			EventID: "e1", Span: span,
			Rule: &Rule{Freq: Daily, Interval: 1, Count: 3, Until: &until},
		}, window)
		assert.ErrorIs(t, err, ErrInvalidRule)
	})

	t.Run("window start after end", func(t *testing.T) {
		_, err := engine.Expand(context.Background(), Input{
			EventID: "e1", Span: span,
			Rule: &Rule{Freq: Daily, Interval: 1},
		}, Span{Start: window.End, End: window.Start})
		assert.ErrorIs(t, err, ErrInvalidWindow)
	})
}

func TestEngine_Expand_Deterministic(t *testing.T) {
	engine := NewEngine()
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	in := Input{
		EventID: "e1",
		Span:    Span{Start: start, End: start.Add(time.Hour)},
		Rule:    &Rule{Freq: Daily, Interval: 2, Count: 10},
	}
	window := Span{Start: start, End: start.AddDate(0, 2, 0)}

	first, err := engine.Expand(context.Background(), in, window)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := engine.Expand(context.Background(), in, window)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEngine_Expand_Cancellation(t *testing.T) {
	engine := NewEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	in := Input{
		EventID: "e1",
		Span:    Span{Start: start, End: start.Add(time.Hour)},
		Rule:    &Rule{Freq: Daily, Interval: 1},
	}
	window := Span{Start: start, End: start.AddDate(10, 0, 0)}

	_, err := engine.Expand(ctx, in, window)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRule_Validate(t *testing.T) {
	until := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{name: "valid weekly", rule: Rule{Freq: Weekly, Interval: 1, Count: 3}},
		{name: "valid until", rule: Rule{Freq: Monthly, Interval: 2, Until: &until}},
		{name: "zero interval", rule: Rule{Freq: Daily, Interval: 0}, wantErr: true},
		{name: "negative interval", rule: Rule{Freq: Daily, Interval: -2}, wantErr: true},
		{name: "count and until", rule: Rule{Freq: Daily, Interval: 1, Count: 1, Until: &until}, wantErr: true},
		{name: "month day out of range", rule: Rule{Freq: Monthly, Interval: 1, ByMonthDay: []int{32}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRule)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
