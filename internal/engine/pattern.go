package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultPatternTimeout bounds a single pattern engine run.
const DefaultPatternTimeout = 30 * time.Second

// PatternMatcher is an external byte-pattern engine.
type PatternMatcher interface {
	// Configured reports whether the engine can run at all.
	Configured() bool
	// Match returns the ids of the rules that matched path. An empty slice
	// means no match.
	Match(ctx context.Context, path string) ([]string, error)
}

// YaraMatcher runs the yr command line scanner against compiled rules.
type YaraMatcher struct {
	Binary  string
	Rules   string
	Timeout time.Duration
}

// NewYaraMatcher returns a matcher using binary and the compiled rules file.
func NewYaraMatcher(binary, rules string, timeout time.Duration) *YaraMatcher {
	if timeout <= 0 {
		timeout = DefaultPatternTimeout
	}
	return &YaraMatcher{
		Binary:  binary,
		Rules:   rules,
		Timeout: timeout,
	}
}

// WithRules returns a copy of the matcher that uses a different rules file.
func (y *YaraMatcher) WithRules(rules string) *YaraMatcher {
	c := *y
	c.Rules = rules
	return &c
}

func (y *YaraMatcher) Configured() bool {
	if y == nil || y.Binary == "" || y.Rules == "" {
		return false
	}
	if _, err := os.Stat(y.Rules); err != nil {
		return false
	}
	if _, err := exec.LookPath(y.Binary); err != nil {
		return false
	}
	return true
}

// Match runs `yr scan -C <rules> <path>`. Exit status 0 with output means
// at least one rule matched; each output line starts with the rule id.
func (y *YaraMatcher) Match(ctx context.Context, path string) ([]string, error) {
	// A run is bounded by its own timeout and is not interrupted when the
	// calling scan is cancelled.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), y.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, y.Binary, "scan", "-C", y.Rules, path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, &PatternEngineError{Path: path, Err: fmt.Errorf("timed out after %s", y.Timeout)}
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return nil, &PatternEngineError{Path: path, Err: err}
	}

	return parseRuleIDs(stdout.String()), nil
}

func parseRuleIDs(output string) []string {
	var rules []string
	seen := make(map[string]struct{})
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		id := fields[0]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		rules = append(rules, id)
	}
	return rules
}
