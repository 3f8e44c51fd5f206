// Package secrets redacts credentials from tool output.
//
// Tool results are copied into checkpoints, reflection prompts, outcome
// records and episodes. A Redactor runs over every result before the
// orchestrator records it, so a tool that prints an environment file or a
// connection string does not leak the credential into memory or to the
// model. Only rule ids and counts are kept about what was removed.
package secrets
