// Package validator implements the pattern-based operation risk classifier.
//
// Classification is deterministic and side-effect free: no logging, no I/O,
// no clock. The same operation and context always yield the same verdict,
// which keeps the classifier independently testable and safe to call from
// any goroutine.
package validator

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aegis-labs/aegis/internal/config"
	v1 "github.com/aegis-labs/aegis/pkg/aegis/v1"
)

// Context carries the optional execution context for a single validation.
type Context struct {
	// RecursionDepth is the nesting depth of the plan issuing the operation.
	// Depth beyond deepRecursionThreshold amplifies any existing risk.
	RecursionDepth int
	// PlanID identifies the issuing plan, for verdict messages only.
	PlanID string
	// TargetPath, when set, is checked against the extension allow-list.
	TargetPath string
}

// Verdict is the classifier's result. Rejection is a value, never an error.
type Verdict struct {
	Allowed  bool
	Risk     v1.RiskLevel
	Message  string
	Warnings []string
}

// deepRecursionThreshold is the recursion depth beyond which an already
// risky operation is escalated to CRITICAL.
const deepRecursionThreshold = 3

// category groups patterns that share a risk tier and an explanation.
type category struct {
	name     string
	risk     v1.RiskLevel
	patterns []*regexp.Regexp
}

// The three pattern categories, evaluated in fixed order so verdict
// messages are deterministic. Risk only ratchets upward across matches.
var defaultCategories = []category{
	{
		name: "destructive file operation",
		risk: v1.RiskHigh,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\brm\s+-[a-z]*r[a-z]*f`),
			regexp.MustCompile(`(?i)\brm\s+-[a-z]*f[a-z]*r`),
			regexp.MustCompile(`(?i)\brm\s+--force\b`),
			regexp.MustCompile(`(?i)\bmkfs(\.[a-z0-9]+)?\b`),
			regexp.MustCompile(`(?i)\bformat\s+[a-z]:`),
			regexp.MustCompile(`(?i)\bdd\s+if=\S+\s+of=/dev/`),
			regexp.MustCompile(`(?i)\bshred\b`),
			regexp.MustCompile(`(?i)\bdel\s+/[fsq]\b`),
		},
	},
	{
		name: "privileged system command",
		risk: v1.RiskCritical,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bsudo\b`),
			regexp.MustCompile(`(?i)\bdoas\b`),
			regexp.MustCompile(`(?i)\bchmod\s+(-[a-z]+\s+)?([0-7]?777|a\+rwx)\b`),
			regexp.MustCompile(`(?i)\bchown\s+(-[a-z]+\s+)?root\b`),
			regexp.MustCompile(`(?i)\bset(uid|cap)\b`),
			regexp.MustCompile(`(?i)\b(shutdown|reboot|poweroff|halt)\b`),
			regexp.MustCompile(`(?i)\binit\s+0\b`),
			regexp.MustCompile(`(?i)\bsystemctl\s+(stop|disable|mask)\b`),
		},
	},
	{
		name: "network/firewall manipulation",
		risk: v1.RiskMedium,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\biptables\b`),
			regexp.MustCompile(`(?i)\bnftables\b|\bnft\s+(add|delete)\b`),
			regexp.MustCompile(`(?i)\bufw\s+(disable|allow|deny|delete)\b`),
			regexp.MustCompile(`(?i)\bfirewall-cmd\b`),
			regexp.MustCompile(`(?i)\bnetsh\s+(adv)?firewall\b`),
			regexp.MustCompile(`(?i)\bnc\s+-[a-z]*l`),
			regexp.MustCompile(`(?i)\broute\s+(add|del)\b`),
		},
	},
}

// Validator classifies operation strings against a block-list, pattern
// categories and a file extension allow-list. Construct once per limits
// configuration; Validate is safe for concurrent use.
type Validator struct {
	blocked     []string
	allowedExts map[string]struct{}
	categories  []category
}

// New builds a validator from the given (fully defaulted) limits.
func New(limits *config.SafetyLimits) *Validator {
	blocked := make([]string, 0, len(limits.BlockedOperations))
	for _, op := range limits.BlockedOperations {
		blocked = append(blocked, strings.ToLower(op))
	}
	allowedExts := make(map[string]struct{}, len(limits.AllowedExtensions))
	for _, ext := range limits.AllowedExtensions {
		allowedExts[strings.ToLower(ext)] = struct{}{}
	}
	return &Validator{
		blocked:     blocked,
		allowedExts: allowedExts,
		categories:  defaultCategories,
	}
}

// Validate classifies one operation string under the given context.
//
// The block-list check short-circuits everything else: a match is an
// immediate CRITICAL rejection no later step can soften.
func (v *Validator) Validate(operation string, vctx Context) Verdict {
	lowerOp := strings.ToLower(operation)

	for _, blocked := range v.blocked {
		if strings.Contains(lowerOp, blocked) {
			return Verdict{
				Allowed: false,
				Risk:    v1.RiskCritical,
				Message: fmt.Sprintf("contains forbidden operation: %s", blocked),
			}
		}
	}

	risk := v1.RiskLow
	var warnings []string

	for _, cat := range v.categories {
		for _, pattern := range cat.patterns {
			if pattern.MatchString(operation) {
				risk = v1.MaxRiskLevel(risk, cat.risk)
				warnings = append(warnings, fmt.Sprintf("%s detected: pattern '%s'", cat.name, pattern.String()))
				break
			}
		}
	}

	// Deep recursion amplifies the blast radius of an already risky
	// operation.
	if vctx.RecursionDepth > deepRecursionThreshold && risk >= v1.RiskMedium {
		risk = v1.RiskCritical
		warnings = append(warnings, fmt.Sprintf("risky operation at recursion depth %d escalated to CRITICAL", vctx.RecursionDepth))
	}

	// The extension allow-list overrides pattern results: an unapproved
	// target file type is rejected even when the operation text is clean.
	if vctx.TargetPath != "" {
		ext := strings.ToLower(filepath.Ext(vctx.TargetPath))
		if _, ok := v.allowedExts[ext]; !ok {
			risk = v1.MaxRiskLevel(risk, v1.RiskHigh)
			warnings = append(warnings, fmt.Sprintf("target file extension '%s' is not allow-listed", ext))
			return Verdict{
				Allowed:  false,
				Risk:     risk,
				Message:  strings.Join(warnings, "; "),
				Warnings: warnings,
			}
		}
	}

	switch {
	case risk >= v1.RiskCritical:
		return Verdict{
			Allowed:  false,
			Risk:     risk,
			Message:  "operation rejected: " + strings.Join(warnings, "; "),
			Warnings: warnings,
		}
	case len(warnings) > 0:
		return Verdict{
			Allowed:  true,
			Risk:     risk,
			Message:  "approved with warnings: " + strings.Join(warnings, "; "),
			Warnings: warnings,
		}
	default:
		return Verdict{
			Allowed: true,
			Risk:    risk,
			Message: "operation passed safety validation",
		}
	}
}
