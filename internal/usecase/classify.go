package usecase

// Classifier decides, for any RP, whether it is in scope, ignored, or
// a secret, consulting the configuration's managed roots, extra
// files, ignore patterns, and secret rules (spec §4.1, component C3).
// It holds no state beyond the configuration snapshot it was built
// from — operations pass it explicitly rather than reaching for
// ambient config (spec §9, "avoid back-pointers from secret rules to
// configuration").
type Classifier struct {
	roots        []RP
	extraFiles   map[RP]struct{}
	ignore       []string
	secretRules  []SecretRule
	ciphertextBy map[RP]struct{}
	plaintextBy  map[RP]struct{}
	allowOutside bool
}

// NewClassifier builds a Classifier from a validated ConfigFile.
func NewClassifier(cfg ConfigFile) *Classifier {
	c := &Classifier{
		roots:        cfg.Manage.Roots,
		extraFiles:   make(map[RP]struct{}, len(cfg.Manage.ExtraFiles)),
		ignore:       cfg.Ignore.Patterns,
		secretRules:  cfg.Secrets.Rules,
		ciphertextBy: make(map[RP]struct{}, len(cfg.Secrets.Rules)),
		plaintextBy:  make(map[RP]struct{}, len(cfg.Secrets.Rules)),
		allowOutside: cfg.Manage.AllowOutside,
	}
	for _, f := range cfg.Manage.ExtraFiles {
		c.extraFiles[NormalizeRP(f)] = struct{}{}
	}
	for _, rule := range cfg.Secrets.Rules {
		c.plaintextBy[NormalizeRP(rule.PlaintextPath)] = struct{}{}
		c.ciphertextBy[NormalizeRP(rule.CiphertextPath)] = struct{}{}
	}
	return c
}

// Classify applies the ordered rules of spec §4.1. allowOutside, when
// true, overrides the configured manage.allow_outside for this single
// call (the CLI's per-invocation --allow-outside flag).
func (c *Classifier) Classify(p RP, allowOutside bool) Verdict {
	p = NormalizeRP(p)

	if _, ok := c.ciphertextBy[p]; ok {
		return Verdict{Class: ClassSecretCiphertext}
	}
	if _, ok := c.plaintextBy[p]; ok {
		return Verdict{Class: ClassSecretPlaintext, Reason: ReasonIsSecret}
	}
	for _, pattern := range c.ignore {
		if MatchIgnorePattern(pattern, p) {
			return Verdict{Class: ClassIgnored, Reason: ReasonIgnored}
		}
	}
	for _, root := range c.roots {
		if IsWithinRoot(p, NormalizeRP(root)) {
			return Verdict{Class: ClassInRoot}
		}
	}
	if _, ok := c.extraFiles[p]; ok {
		return Verdict{Class: ClassExtraFile}
	}
	if c.allowOutside || allowOutside {
		// A path outside every root and not yet a declared extra file,
		// but explicitly permitted: it stays out of scope (not managed),
		// with reason not-managed rather than ignored so Track can add it
		// to manage.extra_files without --force (that flag is for
		// ignore-pattern overrides only).
		return Verdict{Class: ClassIgnored, Reason: ReasonNotManaged}
	}
	return Verdict{Class: ClassOutsideAndDisallowed, Reason: ReasonNotManaged}
}

// Managed is a convenience wrapper returning whether p classifies as
// managed (InRoot or ExtraFile) under the default (non-allow-outside)
// call, matching the watcher's scope invariant (spec §8).
func (c *Classifier) Managed(p RP) bool {
	return c.Classify(p, false).Class.Managed()
}

// SecretRuleForPlaintext returns the secret rule whose plaintext_path
// equals p, if any.
func (c *Classifier) SecretRuleForPlaintext(p RP) (SecretRule, bool) {
	p = NormalizeRP(p)
	for _, rule := range c.secretRules {
		if NormalizeRP(rule.PlaintextPath) == p {
			return rule, true
		}
	}
	return SecretRule{}, false
}

// SecretRuleForCiphertext returns the secret rule whose ciphertext_path
// equals p, if any.
func (c *Classifier) SecretRuleForCiphertext(p RP) (SecretRule, bool) {
	p = NormalizeRP(p)
	for _, rule := range c.secretRules {
		if NormalizeRP(rule.CiphertextPath) == p {
			return rule, true
		}
	}
	return SecretRule{}, false
}

// Roots returns the configured managed roots, normalized.
func (c *Classifier) Roots() []RP {
	out := make([]RP, len(c.roots))
	for i, r := range c.roots {
		out[i] = NormalizeRP(r)
	}
	return out
}

// ExtraFiles returns the configured extra files, normalized.
func (c *Classifier) ExtraFiles() []RP {
	out := make([]RP, 0, len(c.extraFiles))
	for f := range c.extraFiles {
		out = append(out, f)
	}
	return out
}
