package usecase

import (
	"context"
	"time"
)

// Watcher implements the debounced, allowlisted auto-add staging loop
// of spec §4.8 (component C10). It is deliberately transport-agnostic:
// an adapter (internal/adapters/watcher) feeds raw filesystem events
// through HandleEvent and drives the debounce timer, calling Flush
// periodically. Watcher itself never touches the filesystem directly
// beyond what RepoPort/SecretsEngine require.
type Watcher struct {
	classifier   *Classifier
	repo         RepoPort
	secrets      *SecretsEngine // nil when secrets.enabled is false
	cfg          WatchConfig
	pending      map[RP]time.Time
	inhibitUntil time.Time
	inhibitRsn   string
}

// NewWatcher builds a Watcher.
func NewWatcher(classifier *Classifier, repo RepoPort, secrets *SecretsEngine, cfg WatchConfig) *Watcher {
	return &Watcher{
		classifier: classifier,
		repo:       repo,
		secrets:    secrets,
		cfg:        cfg,
		pending:    make(map[RP]time.Time),
	}
}

// Reload atomically swaps the classifier, secrets engine, and watch
// configuration a running watcher consults (spec §4.9: "reload
// atomically swaps configuration and watch roots"; §9: "the running
// configuration inside the watcher ... must be swapped atomically on
// reload — readers never observe a half-updated structure"). The
// caller must only invoke Reload from the same single-threaded loop
// that calls HandleEvent/Flush/DrainAll, never concurrently with them.
func (w *Watcher) Reload(classifier *Classifier, secrets *SecretsEngine, cfg WatchConfig) {
	w.classifier = classifier
	w.secrets = secrets
	w.cfg = cfg
}

// FlushResult reports what happened to one debounced path, for the
// watcher's info/debug logging (spec §4.8 step 4).
type FlushResult struct {
	Path      RP
	Staged    bool
	AutoAdded bool
	Rejected  bool
	Reason    string
}

// DefaultPauseTTL is the pause command's default inhibit duration
// (spec §4.8, "Pause/inhibit").
const DefaultPauseTTL = 300 * time.Second

// Paused reports whether staging is currently suppressed.
func (w *Watcher) Paused(now time.Time) bool {
	return now.Before(w.inhibitUntil)
}

// Pause installs a time-bounded inhibit marker.
func (w *Watcher) Pause(now time.Time, ttl time.Duration, reason string) {
	if ttl <= 0 {
		ttl = DefaultPauseTTL
	}
	w.inhibitUntil = now.Add(ttl)
	w.inhibitRsn = reason
}

// Resume clears any inhibit marker immediately.
func (w *Watcher) Resume() {
	w.inhibitUntil = time.Time{}
	w.inhibitRsn = ""
}

// InhibitReason returns the reason given to the most recent Pause, if
// the marker is still active.
func (w *Watcher) InhibitReason(now time.Time) string {
	if !w.Paused(now) {
		return ""
	}
	return w.inhibitRsn
}

// HandleEvent implements spec §4.8 step 1-2: normalize, classify, drop
// ineligible paths, and insert the rest into the debounce buffer keyed
// by RP with the event's timestamp.
func (w *Watcher) HandleEvent(path string, now time.Time) *FlushResult {
	if w.Paused(now) {
		return nil
	}
	rp := NormalizeRP(path)
	verdict := w.classifier.Classify(rp, false)

	switch verdict.Class {
	case ClassSecretCiphertext:
		return &FlushResult{Path: rp, Rejected: true, Reason: ReasonIsSecret}
	case ClassIgnored:
		return &FlushResult{Path: rp, Rejected: true, Reason: ReasonIgnored}
	case ClassOutsideAndDisallowed:
		return &FlushResult{Path: rp, Rejected: true, Reason: ReasonNotManaged}
	}

	w.pending[rp] = now
	return nil
}

// ReadyPaths returns the buffered paths whose debounce window has
// elapsed as of now.
func (w *Watcher) ReadyPaths(now time.Time) []RP {
	debounce := time.Duration(w.cfg.DebounceMS) * time.Millisecond
	var ready []RP
	for rp, t := range w.pending {
		if now.Sub(t) >= debounce {
			ready = append(ready, rp)
		}
	}
	return ready
}

// Flush processes every path whose debounce window has elapsed,
// implementing spec §4.8 step 3's staging/auto-add/re-encrypt
// decision tree.
func (w *Watcher) Flush(ctx context.Context, now time.Time) ([]FlushResult, error) {
	ready := w.ReadyPaths(now)
	results := make([]FlushResult, 0, len(ready))
	for _, rp := range ready {
		result, err := w.flushOne(ctx, rp)
		if err != nil {
			return results, err
		}
		results = append(results, result)
		delete(w.pending, rp)
	}
	return results, nil
}

// DrainAll performs one final unconditional flush of every buffered
// path regardless of elapsed debounce time, for cooperative shutdown
// (spec §4.8, "Cancellation").
func (w *Watcher) DrainAll(ctx context.Context) ([]FlushResult, error) {
	paths := make([]RP, 0, len(w.pending))
	for rp := range w.pending {
		paths = append(paths, rp)
	}
	results := make([]FlushResult, 0, len(paths))
	for _, rp := range paths {
		result, err := w.flushOne(ctx, rp)
		if err != nil {
			return results, err
		}
		results = append(results, result)
		delete(w.pending, rp)
	}
	return results, nil
}

func (w *Watcher) flushOne(ctx context.Context, rp RP) (FlushResult, error) {
	verdict := w.classifier.Classify(rp, false)

	if verdict.Class == ClassSecretPlaintext {
		if w.secrets == nil {
			return FlushResult{Path: rp, Rejected: true, Reason: ReasonIsSecret}, nil
		}
		rule, ok := w.classifier.SecretRuleForPlaintext(rp)
		if !ok {
			return FlushResult{Path: rp, Rejected: true, Reason: ReasonIsSecret}, nil
		}
		if err := w.secrets.Encrypt(ctx, rule); err != nil {
			return FlushResult{}, err
		}
		return FlushResult{Path: rp, Staged: true}, nil
	}

	if !verdict.Class.Managed() {
		return FlushResult{Path: rp, Rejected: true, Reason: ReasonNotManaged}, nil
	}

	if w.cfg.AutoStageTrackedOnly {
		status, err := w.repo.IndexStatus(ctx, rp)
		if err != nil {
			return FlushResult{}, err
		}
		if status == StatusUntracked {
			if !w.autoAddEligible(rp) {
				return FlushResult{Path: rp, Rejected: true, Reason: ReasonAllowlistMiss}, nil
			}
			if err := w.repo.Stage(ctx, rp); err != nil {
				return FlushResult{}, err
			}
			return FlushResult{Path: rp, Staged: true, AutoAdded: true}, nil
		}
	}

	if err := w.repo.Stage(ctx, rp); err != nil {
		return FlushResult{}, err
	}
	return FlushResult{Path: rp, Staged: true}, nil
}

func (w *Watcher) autoAddEligible(rp RP) bool {
	if !w.cfg.AutoAddNew || len(w.cfg.AutoAddAllowPatterns) == 0 {
		return false
	}
	for _, pattern := range w.cfg.AutoAddAllowPatterns {
		if MatchIgnorePattern(pattern, rp) {
			return true
		}
	}
	return false
}

// WatchRoots returns the concrete directories (managed roots and
// extra files, skipping anything containing a glob metacharacter) the
// filesystem event source should register on (spec §4.8: "registers on
// concrete directories ... only"; "No recursive full-home scan ever
// occurs").
func WatchRoots(classifier *Classifier) []RP {
	var roots []RP
	for _, r := range classifier.Roots() {
		if !containsGlobMeta(r) {
			roots = append(roots, r)
		}
	}
	for _, f := range classifier.ExtraFiles() {
		if !containsGlobMeta(f) {
			roots = append(roots, f)
		}
	}
	return roots
}

func containsGlobMeta(p string) bool {
	for _, r := range p {
		switch r {
		case '*', '?', '[', ']':
			return true
		}
	}
	return false
}
