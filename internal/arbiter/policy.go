package arbiter

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"decisiond/internal/logging"
	"decisiond/internal/types"
)

// Policy is the operator-controlled part of the arbiter's behavior. The three
// core rules are fixed; policy only tunes their parameters.
type Policy struct {
	// Version stamps every decision validated under this policy.
	Version string `yaml:"version"`

	// ResourceHeadroom is the fraction of each resource reserved from the
	// availability snapshot before rule 3 is evaluated. 0 means none.
	ResourceHeadroom float64 `yaml:"resource_headroom"`

	// MaxSafetyImpact is the highest safety impact a proposal may carry.
	// Empty disables the ceiling.
	MaxSafetyImpact types.SafetyImpact `yaml:"max_safety_impact"`

	// BlockedActions lists action IDs or action classes ("risk", or
	// "offer.retention_bonus") the operator has switched off.
	BlockedActions []string `yaml:"blocked_actions"`
}

// Blocks reports whether the policy blocks the given action, by exact ID or
// by its class (the segment before the first dot).
func (p Policy) Blocks(actionID string) bool {
	class := actionID
	if i := strings.IndexByte(actionID, '.'); i > 0 {
		class = actionID[:i]
	}
	for _, b := range p.BlockedActions {
		if b == actionID || b == class {
			return true
		}
	}
	return false
}

// DefaultPolicy is the built-in policy used when no file is configured.
func DefaultPolicy() Policy {
	return Policy{Version: "builtin-v1"}
}

// Validate rejects policies the arbiter cannot apply.
func (p Policy) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("policy missing version")
	}
	if p.ResourceHeadroom < 0 || p.ResourceHeadroom >= 1 {
		return fmt.Errorf("resource_headroom must be in [0,1), got %v", p.ResourceHeadroom)
	}
	return nil
}

// PolicyStore holds the active policy and supports atomic hot-reload from a
// YAML file watched with fsnotify.
type PolicyStore struct {
	mu      sync.RWMutex
	current Policy
	path    string

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewPolicyStore returns a store serving the given policy.
func NewPolicyStore(p Policy) *PolicyStore {
	return &PolicyStore{current: p}
}

// LoadPolicyStore reads the policy file at path. Empty path means defaults.
func LoadPolicyStore(path string) (*PolicyStore, error) {
	if path == "" {
		return NewPolicyStore(DefaultPolicy()), nil
	}
	pol, err := readPolicy(path)
	if err != nil {
		return nil, err
	}
	return &PolicyStore{current: pol, path: path}, nil
}

func readPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy %s: %w", path, err)
	}
	pol := DefaultPolicy()
	if err := yaml.Unmarshal(data, &pol); err != nil {
		return Policy{}, fmt.Errorf("parse policy %s: %w", path, err)
	}
	if err := pol.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid policy %s: %w", path, err)
	}
	return pol, nil
}

// Current returns the active policy.
func (s *PolicyStore) Current() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Replace swaps in a new policy after validation.
func (s *PolicyStore) Replace(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
	logging.L(logging.CategoryArbiter).Info("policy replaced", zap.String("version", p.Version))
	return nil
}

// Watch hot-reloads the policy file on changes until Stop is called. A reload
// that fails to parse or validate is logged and the previous policy stays
// active; the gate never runs without a valid policy.
func (s *PolicyStore) Watch() error {
	if s.path == "" {
		return fmt.Errorf("policy store has no file to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch policy %s: %w", s.path, err)
	}

	s.watcher = watcher
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run()
	return nil
}

func (s *PolicyStore) run() {
	defer close(s.doneCh)
	log := logging.L(logging.CategoryArbiter)

	// Editors often emit bursts of writes for one save.
	var lastReload time.Time
	const debounce = 200 * time.Millisecond

	for {
		select {
		case <-s.stopCh:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if time.Since(lastReload) < debounce {
				continue
			}
			lastReload = time.Now()

			pol, err := readPolicy(s.path)
			if err != nil {
				log.Warn("policy reload failed, keeping previous", zap.Error(err))
				continue
			}
			if err := s.Replace(pol); err != nil {
				log.Warn("policy reload rejected", zap.Error(err))
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("policy watcher error", zap.Error(err))
		}
	}
}

// Stop halts the watcher, if running.
func (s *PolicyStore) Stop() {
	if s.watcher == nil {
		return
	}
	close(s.stopCh)
	s.watcher.Close()
	<-s.doneCh
	s.watcher = nil
}
