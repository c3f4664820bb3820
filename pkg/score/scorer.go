package score

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/modhealthd/modhealthd/pkg/config"
)

// Deduction weights per check. The score starts at 100 and each failed
// check subtracts its weight; the result is clamped to [0,100].
const (
	weightModulePresent   = 25
	weightManifestPresent = 20
	weightManifestRead    = 5
	weightSourceTree      = 18
	weightDepsInstalled   = 15
	weightLockFile        = 5
	weightArtifacts       = 10
	weightTypecheck       = 12
	weightDepsFootprint   = 3
)

const defaultFootprintLimit = 1000

// Scorer computes weighted-deduction health records for modules.
type Scorer struct {
	prober         Prober
	footprintLimit int
	now            func() time.Time
}

// ScorerOption customises a Scorer.
type ScorerOption func(*Scorer)

// WithTimeSource injects a custom time source, enabling deterministic tests.
func WithTimeSource(fn func() time.Time) ScorerOption {
	return func(s *Scorer) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithFootprintLimit overrides the advisory dependency-footprint entry limit.
func WithFootprintLimit(n int) ScorerOption {
	return func(s *Scorer) {
		if n > 0 {
			s.footprintLimit = n
		}
	}
}

// NewScorer constructs a Scorer backed by the provided prober.
func NewScorer(prober Prober, opts ...ScorerOption) (*Scorer, error) {
	if prober == nil {
		return nil, fmt.Errorf("prober must not be nil")
	}
	scorer := &Scorer{
		prober:         prober,
		footprintLimit: defaultFootprintLimit,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(scorer)
	}
	return scorer, nil
}

// Score evaluates one module and always returns a record; individual probe
// failures lower the score but never surface as errors.
func (s *Scorer) Score(ctx context.Context, module config.ModuleConfig) Record {
	start := s.now()
	rec := Record{ModuleID: module.ID, ScoredAt: start}

	present := s.prober.Exists(ctx, module)
	rec.Checks = append(rec.Checks, Check{
		Name:       "module_present",
		Passed:     present.Passed,
		Weight:     weightModulePresent,
		Diagnostic: present.Diagnostic,
	})
	if !present.Passed {
		// Unlocatable module: scoring stops early with a hard floor.
		rec.Score = 0
		rec.Status = StatusOffline
		rec.Duration = s.now().Sub(start)
		return rec
	}

	rec.Checks = append(rec.Checks, s.manifestChecks(module)...)
	rec.Checks = append(rec.Checks, s.treeCheck("source_tree", filepath.Join(module.Path, module.SourceDir), weightSourceTree))
	rec.Checks = append(rec.Checks, s.treeCheck("deps_installed", filepath.Join(module.Path, module.DepsDir), weightDepsInstalled))
	rec.Checks = append(rec.Checks, s.fileCheck("lock_file_present", filepath.Join(module.Path, module.LockFile), weightLockFile))
	rec.Checks = append(rec.Checks, s.treeCheck("artifacts_present", filepath.Join(module.Path, module.ArtifactDir), weightArtifacts))
	rec.Checks = append(rec.Checks, s.typecheckCheck(ctx, module))
	rec.Checks = append(rec.Checks, s.footprintCheck(module))

	score := 100
	for _, check := range rec.Checks {
		if !check.Passed {
			score -= check.Weight
		}
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	rec.Score = score
	rec.Status = StatusForScore(score)
	rec.Duration = s.now().Sub(start)
	return rec
}

// ScoreAll evaluates every module through a bounded worker pool and returns
// records in input order once all probes finished. Workers share no mutable
// state; each writes only its own slot.
func (s *Scorer) ScoreAll(ctx context.Context, modules []config.ModuleConfig, workers int) []Record {
	if workers <= 0 {
		workers = 1
	}

	records := make([]Record, len(modules))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for i, module := range modules {
		i, module := i, module
		group.Go(func() error {
			records[i] = s.Score(groupCtx, module)
			return nil
		})
	}
	_ = group.Wait()
	return records
}

func (s *Scorer) manifestChecks(module config.ModuleConfig) []Check {
	path := filepath.Join(module.Path, module.Manifest)
	checks := make([]Check, 0, 2)

	info, err := os.Stat(path)
	presentCheck := Check{Name: "manifest_present", Weight: weightManifestPresent, Passed: err == nil && !info.IsDir()}
	if !presentCheck.Passed {
		presentCheck.Diagnostic = fmt.Sprintf("manifest %s missing", module.Manifest)
	}
	checks = append(checks, presentCheck)
	if !presentCheck.Passed {
		return checks
	}

	readCheck := Check{Name: "manifest_readable", Weight: weightManifestRead, Passed: true}
	f, err := os.Open(path)
	if err != nil {
		readCheck.Passed = false
		readCheck.Diagnostic = fmt.Sprintf("open manifest: %v", err)
	} else {
		f.Close()
	}
	checks = append(checks, readCheck)
	return checks
}

func (s *Scorer) treeCheck(name, path string, weight int) Check {
	check := Check{Name: name, Weight: weight}
	entries, err := os.ReadDir(path)
	if err != nil {
		check.Diagnostic = fmt.Sprintf("%s missing", path)
		return check
	}
	if len(entries) == 0 {
		check.Diagnostic = fmt.Sprintf("%s is empty", path)
		return check
	}
	check.Passed = true
	return check
}

func (s *Scorer) fileCheck(name, path string, weight int) Check {
	check := Check{Name: name, Weight: weight}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		check.Diagnostic = fmt.Sprintf("%s missing", path)
		return check
	}
	check.Passed = true
	return check
}

// typecheckCheck asks the build and type-check/test questions; the scored
// check fails when either answer is negative.
func (s *Scorer) typecheckCheck(ctx context.Context, module config.ModuleConfig) Check {
	check := Check{Name: "typecheck_passes", Weight: weightTypecheck}

	build := s.prober.Builds(ctx, module)
	if !build.Passed {
		check.Diagnostic = build.Diagnostic
		return check
	}
	tests := s.prober.Tests(ctx, module)
	if !tests.Passed {
		check.Diagnostic = tests.Diagnostic
		return check
	}
	check.Passed = true
	return check
}

func (s *Scorer) footprintCheck(module config.ModuleConfig) Check {
	// Advisory only: an oversized dependency tree costs a token deduction.
	check := Check{Name: "deps_footprint", Weight: weightDepsFootprint, Passed: true}
	entries, err := os.ReadDir(filepath.Join(module.Path, module.DepsDir))
	if err != nil {
		// Missing deps are already penalised by deps_installed.
		return check
	}
	if len(entries) > s.footprintLimit {
		check.Passed = false
		check.Diagnostic = fmt.Sprintf("%d dependency entries exceeds advisory limit %d", len(entries), s.footprintLimit)
	}
	return check
}
