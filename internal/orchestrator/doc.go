// Package orchestrator runs the agent loop.
//
// A run moves through init, then repeated iterations of planning,
// executing and reflecting, until the stopping policy ends it as
// complete, failed, aborted, or waiting_for_clarification:
//
//	load guidance -> loop { plan -> execute -> reflect -> decide -> checkpoint? } -> record session
//
// The Orchestrator is the only writer of a run's agent.State. Cancellation
// and the time budget are checked at the top of each iteration; a step
// already in progress finishes under its own StepTimeout. Checkpoints are
// written every CheckpointInterval iterations and whenever the run stops,
// so a cancelled or paused run can be continued with Resume.
//
// Panics and errors from the planner or reflection step never escape Run.
// They are recorded against the "planner" or "reflection" error counter and
// the loop continues with a null action or a fallback reflection.
package orchestrator
