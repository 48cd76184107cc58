package notes

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"

	"github.com/fyrsmithlabs/relkit/internal/fault"
)

// AllowlistFileName is the per-dist-repo allowlist file the gate honors.
const AllowlistFileName = ".relkit-allowlist.toml"

// Allowlist holds path and content regex patterns excluded from secret
// detection.
type Allowlist struct {
	Paths   []string
	Regexes []string
}

// LoadAllowlists merges the dist-repo allowlist and the user allowlist.
// Missing files are skipped; unreadable TOML or invalid regexes are errors.
func LoadAllowlists(projectDir, userPath string) (*Allowlist, error) {
	merged := &Allowlist{}

	if projectDir != "" {
		if err := mergeAllowlistFile(merged, filepath.Join(projectDir, AllowlistFileName)); err != nil {
			return nil, err
		}
	}
	if userPath != "" {
		if err := mergeAllowlistFile(merged, userPath); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

func mergeAllowlistFile(into *Allowlist, path string) error {
	var doc struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fault.Wrapf(fault.IOFailed, err, "checking allowlist %s", path)
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return fault.Wrapf(fault.InvalidInput, err, "allowlist %s is not valid TOML", path)
	}

	for _, pattern := range append(doc.Allowlist.Paths, doc.Allowlist.Regexes...) {
		if _, err := regexp.Compile(pattern); err != nil {
			return fault.Wrapf(fault.InvalidInput, err, "allowlist %s has invalid pattern %q", path, pattern)
		}
	}

	into.Paths = append(into.Paths, doc.Allowlist.Paths...)
	into.Regexes = append(into.Regexes, doc.Allowlist.Regexes...)
	return nil
}

// Gate scans rendered notes for secrets and rejects the release if any are
// found. Findings are reported by rule and line, never by matched value.
func Gate(content string, allow *Allowlist) error {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return fault.Wrapf(fault.IOFailed, err, "initializing secret detector")
	}
	if allow != nil {
		applyAllowlist(&detector.Config, allow)
	}

	findings := detector.DetectString(content)
	if len(findings) == 0 {
		return nil
	}

	hits := make([]string, 0, len(findings))
	for _, f := range findings {
		hits = append(hits, fmt.Sprintf("%s (line %d)", f.RuleID, f.StartLine))
	}
	return fault.Newf(fault.InvalidInput, "release notes contain %d potential secret(s): %s",
		len(findings), strings.Join(hits, ", ")).
		WithHintf("redact the flagged values or allowlist them in %s", AllowlistFileName)
}

// applyAllowlist merges operator patterns into the detector config. Patterns
// are pre-validated at load time.
func applyAllowlist(cfg *gitleaksconfig.Config, allow *Allowlist) {
	global := &gitleaksconfig.Allowlist{Description: "relkit release-notes allowlist"}

	for _, pattern := range allow.Paths {
		global.Paths = append(global.Paths, (*gitleaksregexp.Regexp)(regexp.MustCompile(pattern)))
	}
	for _, pattern := range allow.Regexes {
		global.Regexes = append(global.Regexes, (*gitleaksregexp.Regexp)(regexp.MustCompile(pattern)))
	}
	global.StopWords = append(global.StopWords, allow.Regexes...)

	cfg.Allowlists = append(cfg.Allowlists, global)
}
