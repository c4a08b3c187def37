package model

import "time"

// ReportKey names one unit of cacheable generation work: a preset applied to
// a user. Two requests with the same key must never both call the model.
type ReportKey struct {
	Preset   string
	Username string
}

// NewReportKey builds the key for a preset and username.
func NewReportKey(preset, username string) ReportKey {
	return ReportKey{Preset: preset, Username: username}
}

// String serializes the key as "{preset}:{username}". It is the suffix of
// both the report:… and pending:… store keys.
func (k ReportKey) String() string {
	return k.Preset + ":" + k.Username
}

// Report is a finished, persisted report. It is written once and replaced
// wholesale on forced regeneration.
type Report struct {
	Preset      string    `json:"preset"`
	Username    string    `json:"username"`
	Text        string    `json:"text"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Preset is a named prompt template. Prompt may contain the placeholders
// {{commit_data}} and {{username}}.
type Preset struct {
	Key         string `json:"name"        yaml:"key"`
	Description string `json:"description" yaml:"description"`
	Prompt      string `json:"-"           yaml:"prompt"`
}
