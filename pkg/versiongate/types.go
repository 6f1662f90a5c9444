package versiongate

type Config struct {
	VersionGate Spec `yaml:"versionGate"`
}

// Spec selects the version-declaration file and how to pull the marker out
// of it. Exactly one of Regexp and JSONPath is used; Regexp wins when both
// are set, and an unset pair falls back to the Cargo.toml-style default.
type Spec struct {
	File string `yaml:"file"`

	Regexp   string `yaml:"regexp"`
	JSONPath string `yaml:"jsonPath"`
}

// Decision is the gate's verdict for one pipeline run. It is computed once
// and never mutated; every downstream stage receives it by value.
type Decision struct {
	ShouldRelease bool
	Version       string
}
