package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; adapter and
// engine credential changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PoliciesChanged is true if the default policy or any per-language
	// policy changed.
	PoliciesChanged bool
	PolicyChanges   []PolicyDiff

	// CacheLimitsChanged is true if max_entries or max_age_seconds changed.
	CacheLimitsChanged bool

	// RateLimitChanged is true if any rate_limit field changed.
	RateLimitChanged bool
}

// Empty reports whether the diff carries no hot-reloadable change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PoliciesChanged &&
		!d.CacheLimitsChanged && !d.RateLimitChanged
}

// PolicyDiff describes the change to one language's engine priority list.
// The empty Lang denotes the default policy.
type PolicyDiff struct {
	Lang    string
	Added   bool
	Removed bool
	Changed bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Policies.Default, new.Policies.Default) {
		d.PolicyChanges = append(d.PolicyChanges, PolicyDiff{Changed: true})
		d.PoliciesChanged = true
	}

	// Detect modified and removed per-language policies.
	for lang, oldNames := range old.Policies.Languages {
		newNames, exists := new.Policies.Languages[lang]
		if !exists {
			d.PolicyChanges = append(d.PolicyChanges, PolicyDiff{Lang: lang, Removed: true})
			d.PoliciesChanged = true
			continue
		}
		if !slices.Equal(oldNames, newNames) {
			d.PolicyChanges = append(d.PolicyChanges, PolicyDiff{Lang: lang, Changed: true})
			d.PoliciesChanged = true
		}
	}

	// Detect added per-language policies.
	for lang := range new.Policies.Languages {
		if _, exists := old.Policies.Languages[lang]; !exists {
			d.PolicyChanges = append(d.PolicyChanges, PolicyDiff{Lang: lang, Added: true})
			d.PoliciesChanged = true
		}
	}

	if old.Cache.MaxEntries != new.Cache.MaxEntries ||
		old.Cache.MaxAgeSeconds != new.Cache.MaxAgeSeconds {
		d.CacheLimitsChanged = true
	}

	if old.RateLimit != new.RateLimit {
		d.RateLimitChanged = true
	}

	return d
}
