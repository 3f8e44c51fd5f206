// Package memory persists what the agent learns and where it stopped.
//
// Manager is the entry point used by the orchestrator. It combines:
//
//   - a CheckpointStore (files or Redis) holding resumable run state
//   - an OutcomeLog, an append-only record of finished sessions from which
//     success and failure patterns and calibration accuracy are derived
//   - an EpisodeIndex over past sessions, searched by similarity
//   - user Preferences read from a TOML file and optionally hot reloaded
//   - a SessionCounter issuing monotonically increasing session ids
//
// Every durable record is written as a checksummed envelope. File writes
// go through a temp file, fsync and rename, so readers never observe a
// partial record. Records that fail to parse or verify are treated as
// absent.
package memory
