// Package process supervises long-running child processes.
//
// Motion Core uses it to run intiface-engine locally when
// intiface.engine.managed is set, so that a lost Bluetooth stack or a
// crashed engine is restarted without operator action.
//
// Features:
//   - Graceful shutdown: SIGTERM to the process group, SIGKILL after a timeout
//   - Restart on failure with exponential backoff, reset after a stable run
//   - Periodic health checks; a hung process is killed and restarted
//   - Line-based capture of stdout/stderr into the logger
//
// Example usage:
//
//	cfg, err := process.EngineConfig(appCfg.Intiface)
//	if err != nil {
//	    return err
//	}
//	mgr := process.NewManager(cfg)
//	mgr.SetLogger(logger)
//	return mgr.Run(ctx) // blocks until ctx is cancelled
package process
