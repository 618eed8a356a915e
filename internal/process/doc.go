// Package process supervises long-running tasks inside the bridge.
//
// A task is a func(ctx) error that owns its loop: the serial read loop,
// the panel simulator, the health reporter, the status server and the
// journal pruner are all run this way.
//
// Features:
//   - Restart on failure with exponential backoff, capped
//   - Restart counter reset after a stable run
//   - Attempt limit and permanent (non-recoverable) errors
//   - Panic recovery inside the task goroutine
//   - Context-based cancellation with a graceful timeout
//
// Example usage:
//
//	group := process.NewGroup()
//	group.Add(process.DefaultConfig("serial", port.Run))
//	group.Add(process.DefaultConfig("health", reporter.Run))
//
//	if err := group.Start(ctx); err != nil {
//	    return err
//	}
//	defer group.Stop()
package process
