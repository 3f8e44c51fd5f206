// Package executor provides agent.Executor implementations: an
// in-process Registry of Go handlers, a set of read-only filesystem
// builtins, and an MCP client that exposes a remote server's tools.
package executor
