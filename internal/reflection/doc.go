// Package reflection assesses task progress after each iteration.
//
// An Engine asks the model once per iteration for a verdict on the run
// (assessment, progress, confidence, next action) using the recent action
// history and the memory guidance. Confidence is adjusted by a Calibrator
// against the task type's historical accuracy. When the model is absent,
// unreachable, or returns output that cannot be repaired into a valid
// record, the Engine returns an explicit fallback record instead of an
// error so the loop can continue.
//
// # Repetition
//
// When the last three actions are the same call, the record is flagged and
// the prompt carries a warning. If those calls also returned identical
// results, an in_progress verdict is turned into blocked.
package reflection
