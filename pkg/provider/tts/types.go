package tts

// VoiceProfile selects and tunes a synthesis voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier ("Kore", "coral").
	// Empty selects the provider default.
	ID string

	// Instructions steer delivery (tone, pace, accent) on backends that
	// accept free-form style prompts.
	Instructions string

	// SpeedFactor adjusts speaking rate (0.25–4.0, 0 or 1.0 = default).
	SpeedFactor float64
}

// WithDefault returns v with ID replaced by id when v.ID is empty.
func (v VoiceProfile) WithDefault(id string) VoiceProfile {
	if v.ID == "" {
		v.ID = id
	}
	return v
}
