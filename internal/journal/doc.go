// Package journal stores every bridged message in SQLite.
//
// A Recorder is registered as a bridge observer; it queues events without
// blocking the bridge and writes them from its own task, pruning entries
// older than the configured retention once per interval. The status
// server reads pages back through Repository.List.
package journal
