package secrets

import (
	"fmt"
	"regexp"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// newDetector builds a gitleaks detector with the default rule set
// (800+ patterns) and the merged allowlist applied.
func newDetector(allowlist *Allowlist, extraRegexes []string) (*detect.Detector, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("create gitleaks detector: %w", err)
	}

	merged := &Allowlist{}
	if allowlist != nil {
		merged.Paths = append(merged.Paths, allowlist.Paths...)
		merged.Regexes = append(merged.Regexes, allowlist.Regexes...)
	}
	merged.Regexes = append(merged.Regexes, extraRegexes...)

	if len(merged.Paths) > 0 || len(merged.Regexes) > 0 {
		applyAllowlist(&detector.Config, merged)
	}

	return detector, nil
}

// applyAllowlist merges allowlist patterns into the gitleaks config.
// Patterns are pre-validated in loadTOML and Config.Validate; a
// compile failure here means validation was bypassed.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	global := &gitleaksConfig.Allowlist{
		Description: "Taskforge project/user allowlist",
	}

	for _, pattern := range allowlist.Paths {
		re, err := regexp.Compile(pattern)
		if err != nil {
			panic("BUG: pre-validated regex pattern failed to compile: " + pattern + ": " + err.Error())
		}
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(re))
	}

	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			panic("BUG: pre-validated regex pattern failed to compile: " + pattern + ": " + err.Error())
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}

	global.StopWords = append(global.StopWords, allowlist.Regexes...)

	cfg.Allowlists = append(cfg.Allowlists, global)
}
