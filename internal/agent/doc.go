// Package agent defines the data model shared by the agent loop:
// tasks, tool definitions and calls, action and reflection records,
// run state, run configuration and the final result.
//
// State is a flat value. It holds no executors, models or stores, so a
// checkpoint is simply its JSON encoding.
package agent
