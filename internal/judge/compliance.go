package judge

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/aegis-gov/aegis/internal/ledger"
)

// ComplianceConfig configures the free-text document scanning rule.
type ComplianceConfig struct {
	// RedFlags are the terms whose presence in a scanned document is a
	// violation. Matching is case-insensitive substring search.
	RedFlags []string `yaml:"red_flags"`
}

// LoadComplianceConfig reads a compliance rule configuration from a YAML
// file. A missing file is not an error; it returns (nil, nil) and the rule
// simply stays unregistered.
func LoadComplianceConfig(path string) (*ComplianceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read compliance config: %w", err)
	}
	cfg := &ComplianceConfig{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse compliance config: %w", err)
	}
	return cfg, nil
}

// RegisterCompliance loads the compliance configuration at path and, when
// present, registers the document-scanning rule. When the file is absent the
// rule is disabled and the engine is left unchanged.
func RegisterCompliance(e *Engine, path string, logger *zap.Logger) error {
	cfg, err := LoadComplianceConfig(path)
	if err != nil {
		return err
	}
	if cfg == nil {
		logger.Info("compliance config absent, document scanning disabled", zap.String("path", path))
		return nil
	}
	logger.Info("document scanning enabled",
		zap.String("path", path),
		zap.Int("red_flags", len(cfg.RedFlags)),
	)
	return e.Register(ComplianceRule(cfg))
}

// ComplianceRule builds the semantic-compliance rule from a configuration.
// Unlike the event-history rules it reads the snapshot's Documents: the
// free-text compliance scanner supplies its evidence through the evaluation
// context, not the ledger.
func ComplianceRule(cfg *ComplianceConfig) Rule {
	terms := make([]string, 0, len(cfg.RedFlags))
	for _, t := range cfg.RedFlags {
		if t = strings.TrimSpace(strings.ToLower(t)); t != "" {
			terms = append(terms, t)
		}
	}

	return NewRule(
		"SEMANTIC_COMPLIANCE",
		"Scanned documents must not contain configured red-flag terms.",
		SeverityHigh,
		func(_ []*ledger.Event, snap *Snapshot) []Finding {
			var findings []Finding

			// Deterministic order over the document map.
			names := make([]string, 0, len(snap.Documents))
			for name := range snap.Documents {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				lower := strings.ToLower(snap.Documents[name])
				for _, term := range terms {
					if strings.Contains(lower, term) {
						findings = append(findings, Finding{
							Message:    fmt.Sprintf("document %q contains red-flag term %q", name, term),
							EventIndex: -1,
						})
					}
				}
			}
			return findings
		},
	)
}
