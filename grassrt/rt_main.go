package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/gekko3d/meadow"
	"github.com/gekko3d/meadow/grassrt/rt/app"
	"github.com/gekko3d/meadow/grassrt/rt/tile"

	"github.com/go-gl/glfw/v3.3/glfw"
)

func init() {
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("config", "", "YAML file overriding the embedded defaults")
	debug := flag.Bool("debug", false, "Enable debug logging and the profiler report")
	headless := flag.Bool("headless", false, "Run on the host device without a window")
	frames := flag.Int("frames", 600, "Frames to run in headless mode")
	perfCSV := flag.String("perf-csv", "", "Write per-frame timings to this CSV file on exit")
	flag.Parse()

	cfg, err := meadow.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *perfCSV != "" {
		cfg.Perf.CSVPath = *perfCSV
	}
	logger := meadow.NewDefaultLogger(cfg.Log.Prefix, cfg.Log.Debug || *debug)

	if *headless || cfg.Device.Backend == string(meadow.DeviceSoft) {
		runHeadless(cfg, logger, *frames)
		return
	}
	if err := runWindowed(cfg, logger, *debug); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

// runHeadless drives the ECS app on the soft device for a fixed number of
// frames.
func runHeadless(cfg *meadow.Config, logger *meadow.DefaultLogger, frames int) {
	a := meadow.NewApp()
	a.Commands().AddResources(logger)
	a.UseModules(meadow.TimeModule{})
	a.UseDevice(meadow.DeviceSoft, meadow.SoftDeviceModule{
		Options:         cfg.SoftOptions(),
		ValidateShaders: cfg.Device.ValidateShaders,
	})
	a.UseModules(
		meadow.ConfigModule{Config: cfg},
		meadow.PerfStatsModule{
			ReportEvery: cfg.Perf.ReportEvery,
			CSVPath:     cfg.Perf.CSVPath,
			MaxSamples:  cfg.Perf.MaxSamples,
		},
	)
	a.UseSystem(meadow.System(func(t *meadow.Time, cmd *meadow.Commands) {
		if t.Frame >= uint64(frames) {
			cmd.Quit()
		}
	}).InStage(meadow.Finale))
	a.Run()
}

func runWindowed(cfg *meadow.Config, logger *meadow.DefaultLogger, debug bool) error {
	if err := glfw.Init(); err != nil {
		return err
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(cfg.Window.Width, cfg.Window.Height, cfg.Window.Title, nil, nil)
	if err != nil {
		return err
	}
	defer window.Destroy()

	application := app.NewApp(window, logger)
	application.DebugMode = debug
	application.ClearColor = cfg.ClearColor()
	if err := application.Init(); err != nil {
		return err
	}
	defer application.Close()
	cfg.ApplyCamera(application.Camera)
	application.Light = cfg.PointLight()

	tiles, err := cfg.TileConfigs()
	if err != nil {
		return err
	}
	mesh := cfg.BladeMesh()
	for _, tc := range tiles {
		if _, err := application.AddTile(tc, tile.WithMesh(mesh)); err != nil {
			return err
		}
	}

	window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		application.Resize(width, height)
	})

	var lastX, lastY float64
	window.SetCursorPosCallback(func(w *glfw.Window, xpos, ypos float64) {
		if application.MouseCaptured {
			application.Camera.Look(float32(xpos-lastX), float32(ypos-lastY))
		}
		lastX, lastY = xpos, ypos
	})

	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if action != glfw.Press {
			return
		}
		switch key {
		case glfw.KeyTab:
			application.MouseCaptured = !application.MouseCaptured
			if application.MouseCaptured {
				w.SetInputMode(glfw.CursorMode, glfw.CursorDisabled)
			} else {
				w.SetInputMode(glfw.CursorMode, glfw.CursorNormal)
			}
		case glfw.KeyEscape:
			w.SetShouldClose(true)
		case glfw.KeyR:
			reseed(application)
		case glfw.KeyBackspace:
			removeLastTile(application)
		}
	})

	stats := meadow.NewPerfStats(cfg.Perf.MaxSamples)
	last := time.Now()
	sinceReport := time.Duration(0)
	for !window.ShouldClose() {
		glfw.PollEvents()
		application.Update()
		application.Render()

		now := time.Now()
		dt := now.Sub(last)
		last = now
		stats.RecordScene(dt, len(application.Tiles), application.Profiler.Counts["Instances"])
		if sinceReport += dt; cfg.Perf.ReportEvery > 0 && sinceReport >= cfg.Perf.ReportEvery {
			sinceReport = 0
			logger.Infof("%s", stats.String())
		}
	}

	logger.Infof("%s", stats.String())
	if cfg.Perf.CSVPath != "" {
		f, err := os.Create(cfg.Perf.CSVPath)
		if err != nil {
			return err
		}
		defer f.Close()
		return stats.WriteCSV(f)
	}
	return nil
}

func removeLastTile(application *app.App) {
	if len(application.Tiles) == 0 {
		return
	}
	t := application.Tiles[len(application.Tiles)-1]
	if err := application.RemoveTile(t); err != nil {
		application.Logger.Errorf("remove %s: %v", t.ID(), err)
		return
	}
	application.Logger.Infof("grass tile %s removed, %d left", t.ID(), len(application.Tiles))
}

// reseed rebuilds every tile with the next seed.
func reseed(application *app.App) {
	for _, t := range application.Tiles {
		cfg := t.Config()
		cfg.Seed++
		if err := t.Reconfigure(cfg); err != nil {
			application.Logger.Errorf("reseed %s: %v", t.ID(), err)
			continue
		}
		application.Logger.Infof("grass tile %s reseeded to %d", t.ID(), cfg.Seed)
	}
}
