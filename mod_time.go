package meadow

import (
	"time"
)

type Time struct {
	Time    time.Time
	Dt      time.Duration
	Elapsed time.Duration
	Frame   uint64

	// FixedDt, when set, replaces the wall-clock step. Headless runs use it
	// to make frames reproducible.
	FixedDt time.Duration
}

// DtSeconds returns the last frame step in seconds.
func (t *Time) DtSeconds() float32 { return float32(t.Dt.Seconds()) }

type TimeModule struct {
	FixedDt time.Duration
}

func (mod TimeModule) Install(app *App, cmd *Commands) {
	cmd.AddResources(&Time{
		Time:    time.Now(),
		FixedDt: mod.FixedDt,
	})
	app.UseSystem(System(timeSystem).InStage(Prelude).RunAlways())
}

func timeSystem(t *Time) {
	now := time.Now()
	if t.FixedDt > 0 {
		t.Dt = t.FixedDt
	} else {
		t.Dt = now.Sub(t.Time)
	}
	t.Time = now
	t.Elapsed += t.Dt
	t.Frame++
}
