package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider and
// database changes require a restart and are deliberately ignored here.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CategoriesChanged is true when the classification category list
	// differs. Applies to sessions classified after the reload.
	CategoriesChanged bool
	NewCategories     []string

	// SilenceThresholdChanged is true when the streaming silence gate
	// changed. Applies to streams opened after the reload.
	SilenceThresholdChanged bool
	NewSilenceThreshold     float64
}

// Changed reports whether the diff carries any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.CategoriesChanged || d.SilenceThresholdChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Categories, new.Categories) {
		d.CategoriesChanged = true
		d.NewCategories = slices.Clone(new.Categories)
	}

	if old.Recording.SilenceThreshold != new.Recording.SilenceThreshold {
		d.SilenceThresholdChanged = true
		d.NewSilenceThreshold = new.Recording.SilenceThreshold
	}

	return d
}
