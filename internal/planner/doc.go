// Package planner chooses the next tool call, runs it, and diagnoses
// tools that keep failing.
//
// Planning asks the model for a JSON plan when one is configured and
// falls back to keyword overlap between the task and the tool catalog
// when the model is absent, fails, or is unsure. Required arguments the
// model leaves out are filled by an ArgumentInferrer. A plan that names
// an unknown tool or cannot satisfy a required argument becomes a null
// action; planning problems never stop a run.
package planner
