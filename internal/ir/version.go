package ir

// Version constants for the value encoding and engine.
const (
	// IRVersion is the tagged value encoding version.
	IRVersion = "1"

	// EngineVersion is the kraft engine version recorded in artifacts.
	EngineVersion = "0.1.0"
)
