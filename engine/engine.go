package engine

import (
	"errors"
	"sync/atomic"

	"github.com/spaghettifunk/halcyon/engine/config"
	"github.com/spaghettifunk/halcyon/engine/core"
	"github.com/spaghettifunk/halcyon/engine/platform"
	"github.com/spaghettifunk/halcyon/engine/renderer"
	"github.com/spaghettifunk/halcyon/engine/renderer/device"
	"github.com/spaghettifunk/halcyon/engine/renderer/metadata"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// App wires the platform, the device and the renderer together and paces the
// frame loop. In headless mode no window is created and frames run unpaced
// until the game returns ErrQuit.
type App struct {
	currentStage Stage
	cfg          *config.Config
	gameInstance Game
	platform     *platform.Platform
	renderer     *renderer.Renderer
	watcher      *config.Watcher

	isRunning   atomic.Bool
	isSuspended bool
	width       uint32
	height      uint32
	clock       *core.Clock

	// Native is the backend-specific context handed to device.Open, such as
	// a *vulkan.Context built from externally created handles. Set it between
	// New and Initialize; the soft backend needs none.
	Native interface{}
}

func New(cfg *config.Config, g Game) (*App, error) {
	if cfg == nil {
		return nil, core.Errorf("engine requires a configuration")
	}
	if g == nil {
		return nil, core.Errorf("engine requires a game instance")
	}
	return &App{
		currentStage: EngineStageUninitialized,
		cfg:          cfg,
		gameInstance: g,
		platform:     platform.New(),
		clock:        core.NewClock(),
		width:        cfg.Width,
		height:       cfg.Height,
	}, nil
}

func (a *App) Initialize() error {
	a.currentStage = EngineStageInitializing

	core.SetLogLevel(a.cfg.LogLevel)

	if !core.EventSystemInitialize() {
		return core.Errorf("failed to initialize the event system")
	}
	if err := core.MetricsInitialize(); err != nil {
		return err
	}

	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, a.onEvent)
	core.EventRegister(core.EVENT_CODE_RESIZED, a.onResized)

	if !a.cfg.Headless {
		if err := a.platform.Startup(a.cfg.AppName, 100, 100, a.cfg.Width, a.cfg.Height); err != nil {
			return err
		}
	}

	dev, err := device.Open(a.cfg.Backend, device.Options{
		Extent: metadata.Extent2D{Width: a.cfg.Width, Height: a.cfg.Height},
		Slots:  a.cfg.Slots,
		Native: a.Native,
	})
	if err != nil {
		return core.Errorf("failed to open %s device: %w", a.cfg.Backend, err)
	}

	r, err := renderer.New(dev, a.cfg)
	if err != nil {
		dev.Shutdown()
		return err
	}
	a.renderer = r

	if a.cfg.Path() != "" {
		w, err := config.Watch(a.cfg.Path(), func(next *config.Config) {
			a.renderer.ApplyConfig(next)
		})
		if err != nil {
			core.LogWarn("config watching disabled: %s", err.Error())
		} else {
			a.watcher = w
		}
	}

	if err := a.gameInstance.Initialize(a); err != nil {
		return err
	}

	a.currentStage = EngineStageInitialized
	return nil
}

func (a *App) Run() error {
	if a.currentStage != EngineStageInitialized {
		return core.Errorf("engine is not initialized")
	}
	a.currentStage = EngineStageRunning
	a.isRunning.Store(true)

	a.clock.Start()

	var targetFrameSeconds float64 = 1.0 / 60.0
	var runErr error

	for a.isRunning.Load() {
		if !a.cfg.Headless && !a.platform.PumpMessages() {
			break
		}

		if a.isSuspended {
			// Minimized. Nothing to render, just keep pumping.
			a.platform.Sleep(100)
			continue
		}

		// Update clock and get delta time.
		a.clock.Update()
		delta := a.clock.DeltaSeconds()
		frameStartTime := platform.GetAbsoluteTime()

		if err := a.gameInstance.Update(delta); err != nil {
			core.LogError("game update failed, shutting down: %s", err.Error())
			runErr = err
			break
		}

		// Call the game's render routine.
		if err := a.gameInstance.Render(a, delta); err != nil {
			if errors.Is(err, ErrQuit) {
				core.LogInfo("quit requested by the game")
				break
			}
			core.LogError("game render failed, shutting down: %s", err.Error())
			runErr = err
			break
		}

		frameElapsedTime := platform.GetAbsoluteTime() - frameStartTime
		core.MetricsUpdate(frameElapsedTime)

		// Figure out how long the frame took and, if below the target,
		// give the remainder back to the OS.
		remainingSeconds := targetFrameSeconds - frameElapsedTime
		if !a.cfg.Headless && remainingSeconds > 0 {
			remainingMS := remainingSeconds * 1000
			if remainingMS > 1 {
				a.platform.Sleep(remainingMS - 1)
			}
		}
	}

	a.isRunning.Store(false)
	return runErr
}

// RequestClose asks the run loop to stop after the current frame. Safe to
// call from any goroutine, such as a signal handler.
func (a *App) RequestClose() {
	core.EventFire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT})
}

func (a *App) Shutdown() error {
	if a.currentStage == EngineStageShuttingDown {
		return nil
	}
	a.currentStage = EngineStageShuttingDown
	a.isRunning.Store(false)

	if err := a.gameInstance.Shutdown(); err != nil {
		core.LogWarn("game shutdown failed: %s", err.Error())
	}
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			core.LogWarn("config watcher close failed: %s", err.Error())
		}
	}
	if a.renderer != nil {
		if err := a.renderer.Shutdown(); err != nil {
			return err
		}
	}
	if err := core.EventSystemShutdown(); err != nil {
		return err
	}
	if !a.cfg.Headless {
		if err := a.platform.Shutdown(); err != nil {
			return err
		}
	}
	return nil
}

// Renderer exposes the renderer to the game callbacks.
func (a *App) Renderer() *renderer.Renderer {
	return a.renderer
}

// Config returns the configuration the engine was built with.
func (a *App) Config() *config.Config {
	return a.cfg
}

// GetFramebufferSize returns the width and height (in this order)
// of the application framebuffer.
func (a *App) GetFramebufferSize() (uint32, uint32) {
	return a.width, a.height
}

func (a *App) onEvent(context core.EventContext) {
	switch context.Type {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		a.isRunning.Store(false)
	}
}

func (a *App) onResized(context core.EventContext) {
	re, ok := context.Data.(*core.ResizeEvent)
	if !ok {
		core.LogError("wrong event data associated with the event type `%d`", context.Type)
		return
	}

	if re.Width == a.width && re.Height == a.height {
		return
	}
	a.width = re.Width
	a.height = re.Height

	if re.Width == 0 || re.Height == 0 {
		core.LogInfo("window minimized, suspending application")
		a.isSuspended = true
		return
	}

	if a.isSuspended {
		core.LogInfo("window restored, resuming application")
		a.isSuspended = false
	}
	if err := a.gameInstance.OnResize(re.Width, re.Height); err != nil {
		core.LogError("game resize handler failed: %s", err.Error())
	}
}
