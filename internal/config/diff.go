package config

// Diff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked.
type Diff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TeacherChanged is set when the persona, voices or default mode
	// changed. New classrooms pick up the new values; open ones keep theirs.
	TeacherChanged bool
	NewTeacher     TeacherConfig

	// RestartRequired lists top-level sections that changed but only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return !d.LogLevelChanged && !d.TeacherChanged && len(d.RestartRequired) == 0
}

// Compare returns what changed from old to new.
func Compare(old, new *Config) Diff {
	var d Diff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Teacher != new.Teacher {
		d.TeacherChanged = true
		d.NewTeacher = new.Teacher
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Lessons != new.Lessons {
		d.RestartRequired = append(d.RestartRequired, "lessons")
	}
	if old.Resilience != new.Resilience {
		d.RestartRequired = append(d.RestartRequired, "resilience")
	}
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameProviders(a, b ProvidersConfig) bool {
	if !sameEntry(a.LLM, b.LLM) || !sameEntry(a.TTS, b.TTS) || !sameEntry(a.S2S, b.S2S) {
		return false
	}
	if len(a.TTSFallbacks) != len(b.TTSFallbacks) {
		return false
	}
	for i := range a.TTSFallbacks {
		if !sameEntry(a.TTSFallbacks[i], b.TTSFallbacks[i]) {
			return false
		}
	}
	return true
}

// sameEntry ignores Options, which hold provider-specific tuning.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
