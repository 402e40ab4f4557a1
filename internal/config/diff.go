package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; transport and
// listener settings require a restart and are deliberately not diffed.
type ConfigDiff struct {
	// TutorsChanged is true if any tutor's model assignment changed.
	TutorsChanged bool
	// TutorChanges holds the per-tutor diffs.
	TutorChanges []TutorDiff

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DefaultModelChanged is true if llm.default_llm_model changed. This
	// affects every tutor without an explicit override, so the engine cache
	// should be flushed wholesale.
	DefaultModelChanged bool
}

// TutorDiff describes what changed for a single tutor between two configs.
// A changed or removed tutor's engine must be released so the next request
// rebuilds it with the new model.
type TutorDiff struct {
	TutorID      int
	ModelChanged bool
	Added        bool
	Removed      bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.LLM.DefaultModel != new.LLM.DefaultModel {
		d.DefaultModelChanged = true
	}

	// Detect modified and removed tutor overrides.
	for id, oldTutor := range old.Tutors {
		newTutor, exists := new.Tutors[id]
		if !exists {
			d.TutorChanges = append(d.TutorChanges, TutorDiff{
				TutorID: id,
				Removed: true,
			})
			d.TutorsChanged = true
			continue
		}
		if oldTutor.LLMModel != newTutor.LLMModel {
			d.TutorChanges = append(d.TutorChanges, TutorDiff{
				TutorID:      id,
				ModelChanged: true,
			})
			d.TutorsChanged = true
		}
	}

	// Detect added tutor overrides.
	for id := range new.Tutors {
		if _, exists := old.Tutors[id]; !exists {
			d.TutorChanges = append(d.TutorChanges, TutorDiff{
				TutorID: id,
				Added:   true,
			})
			d.TutorsChanged = true
		}
	}

	return d
}
