// Package trace loads abstract test traces.
//
// A trace is an ITF-style JSON document:
//
//	{
//	  "#meta":  {"actions": [...], "action_variable": "action", ...},
//	  "vars":   ["action", "balances"],
//	  "states": [{"#meta": {"index": 0}, "action": ..., "balances": ...}, ...]
//	}
//
// Opening a trace validates the metadata against an embedded JSON Schema and
// then decodes every state once without retaining it. States are re-read from
// the source on every call to States, so a trace can be iterated any number of
// times without holding the whole document in memory.
package trace
