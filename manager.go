package vpnkit

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/go-log/log"
)

// Forwards owns a set of running forwards and reconciles it against
// desired rule sets, so rules can appear and disappear while the
// daemon runs. It implements Reloader over the one-rule-per-line
// format of rule files, and Stoppable so a reload loop winds down
// with it.
type Forwards struct {
	connector Connector

	mu       sync.Mutex
	forwards map[string]*Forward
	period   time.Duration
	stopped  bool
}

// NewForwards creates an empty forward set dialing through c.
func NewForwards(c Connector) *Forwards {
	return &Forwards{
		connector: c,
		forwards:  make(map[string]*Forward),
	}
}

// Set reconciles the running set against rules: forwards whose rule
// is gone are stopped, new rules are started, unchanged rules are
// left alone. Rules are keyed by their unresolved description, so a
// rule that asked for an ephemeral port is not restarted on every
// reload. Set processes the whole list and returns the first start
// error, if any.
func (fs *Forwards) Set(rules []Rule) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.stopped {
		return errors.New("forwards: stopped")
	}

	desired := make(map[string]Rule)
	for _, r := range rules {
		desired[r.String()] = r
	}

	for key, f := range fs.forwards {
		if _, ok := desired[key]; !ok {
			f.Stop()
			delete(fs.forwards, key)
		}
	}

	var firstErr error
	for key, r := range desired {
		if _, ok := fs.forwards[key]; ok {
			continue
		}
		f, err := Start(fs.connector, r)
		if err != nil {
			log.Logf("[forward] %s : %s", r, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fs.forwards[key] = f
	}
	return firstErr
}

// Rules returns the resolved rules of the running forwards.
func (fs *Forwards) Rules() []Rule {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rules := make([]Rule, 0, len(fs.forwards))
	for _, f := range fs.forwards {
		rules = append(rules, f.Rule())
	}
	return rules
}

// Stop stops every running forward. The set refuses changes afterwards.
func (fs *Forwards) Stop() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.stopped {
		return
	}
	fs.stopped = true
	for key, f := range fs.forwards {
		f.Stop()
		delete(fs.forwards, key)
	}
}

// Stopped reports whether Stop has been called.
func (fs *Forwards) Stopped() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.stopped
}

// Reload parses a rule file and reconciles the running set with it,
// implementing Reloader.
func (fs *Forwards) Reload(r io.Reader) error {
	rules, err := ParseRules(r)
	if err != nil {
		return err
	}
	return fs.Set(rules)
}

// Period returns the rule file poll interval. It is negative once the
// set is stopped, which ends the reload loop.
func (fs *Forwards) Period() time.Duration {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.stopped {
		return -1
	}
	return fs.period
}

// SetPeriod sets the rule file poll interval.
func (fs *Forwards) SetPeriod(d time.Duration) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.period = d
}
