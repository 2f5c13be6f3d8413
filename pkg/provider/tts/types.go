package tts

// DefaultRate is the speaking rate in words per minute used when a profile
// leaves Rate at zero.
const DefaultRate = 150

// VoiceProfile selects a voice and its delivery.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier. Empty selects the
	// provider's default voice.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS backend this voice belongs to.
	Provider string

	// Rate is the speaking rate in words per minute. Zero means DefaultRate.
	Rate int

	// Volume is the output gain in [0, 1]. Zero means full volume; use a
	// small positive value for near-silence.
	Volume float64

	// Metadata holds provider-specific voice attributes (gender, language, ...).
	Metadata map[string]string
}

// SpeedFactor returns Rate relative to DefaultRate, for backends that take a
// multiplier instead of words per minute.
func (v VoiceProfile) SpeedFactor() float64 {
	if v.Rate <= 0 {
		return 1
	}
	return float64(v.Rate) / DefaultRate
}

// Gain returns the effective volume multiplier in (0, 1].
func (v VoiceProfile) Gain() float64 {
	if v.Volume <= 0 || v.Volume > 1 {
		return 1
	}
	return v.Volume
}
