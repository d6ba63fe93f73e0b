package runctl

import "errors"

// Errors attached to terminal updates. Spawn failures carry a
// *supervisor.SpawnError instead.
var (
	ErrEnvironmentConflict = errors.New("a server with a different environment is already running")
	ErrStoppedExternally   = errors.New("server was stopped by another process")
	ErrForcedExit          = errors.New("interrupted")
	ErrUserCancelled       = errors.New("cancelled by user")
)

const (
	reasonUserQuit           = "User quit before server could finish starting up"
	reasonStoppedExternally  = "It seems like the server was stopped by a separate process."
	reasonInterruptStarting  = "CTRL-C received. Server startup cancelled."
	reasonInterruptRunning   = "CTRL-C received. Kicked off a request to stop the server but we have to exit NOW."
	reasonSpawnFailed        = "Could not start server process: "
	reasonEnvConflictFormat  = "A server is already running using a different environment configuration (want = %s, current = %s)"
	reasonLauncherExitFormat = "Server process exited with code %d before startup completed"
)
