package engine

import "errors"

// ErrQuit stops the run loop without reporting a failure. A Game returns it
// from Render when it has produced everything it wanted, such as the headless
// testbed after its screenshot frame.
var ErrQuit = errors.New("engine: quit requested")

// Game is the application half of the engine contract. The engine owns the
// window, the device and frame pacing; the game records rendering against the
// renderer it is handed through App.
type Game interface {
	// Initialize runs once, after the renderer is ready and before the first
	// frame. Resource creation belongs here.
	Initialize(app *App) error

	// Update advances game state by deltaTime seconds.
	Update(deltaTime float64) error

	// Render records and submits one frame. Returning ErrQuit ends the run
	// loop cleanly, any other error shuts the engine down as a failure.
	Render(app *App, deltaTime float64) error

	// OnResize reports a new framebuffer extent. Not called in headless mode.
	OnResize(width uint32, height uint32) error

	// Shutdown releases game resources while the renderer is still alive.
	Shutdown() error
}
