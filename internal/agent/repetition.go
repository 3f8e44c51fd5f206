package agent

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// RepetitionWindow is the number of trailing actions compared when
// looking for a stuck loop.
const RepetitionWindow = 3

// Signature returns a deterministic identity for a call: the tool name
// plus a hash of its canonical JSON arguments. Map keys marshal sorted,
// so argument order does not matter.
func (c ToolCall) Signature() string {
	args, err := json.Marshal(c.Arguments)
	if err != nil {
		args = []byte(fmt.Sprint(c.Arguments))
	}
	h := sha256.Sum256(args)
	return fmt.Sprintf("%s:%x", c.Tool, h[:8])
}

// RepeatedCalls reports whether the last RepetitionWindow actions all
// carry the same call. Null actions never count as a repeat.
func RepeatedCalls(actions []ActionRecord) bool {
	if len(actions) < RepetitionWindow {
		return false
	}
	tail := actions[len(actions)-RepetitionWindow:]
	if tail[0].Call == nil {
		return false
	}
	sig := tail[0].Call.Signature()
	for _, a := range tail[1:] {
		if a.Call == nil || a.Call.Signature() != sig {
			return false
		}
	}
	return true
}

// NoNewInformation reports whether the last RepetitionWindow actions
// produced identical results.
func NoNewInformation(actions []ActionRecord) bool {
	if len(actions) < RepetitionWindow {
		return false
	}
	tail := actions[len(actions)-RepetitionWindow:]
	for _, a := range tail[1:] {
		if a.Result != tail[0].Result {
			return false
		}
	}
	return true
}
