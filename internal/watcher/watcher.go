// Package watcher implements the Watcher: a push-based, fsnotify-driven
// tailer over three directory roots under a config home (spec §4.5). It
// turns filesystem events into StateManager mutations without ever letting
// an error escape into shared state — every failure is swallowed at the
// boundary, per spec §7.
package watcher

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agent-racer/backend/internal/guard"
	"github.com/agent-racer/backend/internal/parser"
	"github.com/agent-racer/backend/internal/state"
	"github.com/fsnotify/fsnotify"
)

// defaultChangeDebounce coalesces rapid writes to one transcript path.
const defaultChangeDebounce = 100 * time.Millisecond

// defaultStalenessInterval is how often the sweep re-evaluates every
// tracked session.
const defaultStalenessInterval = 15 * time.Second

// defaultWaitingCheckDelay is the primary per-change idle-waiting check's
// delay (spec §4.5 step 5); sweepStaleness's 45s case is its backup.
const defaultWaitingCheckDelay = 45 * time.Second

// initialScanWindow and subagentInitialScanWindow bound the initial-scan
// flood filter: files older than these, discovered before the watcher is
// ready, are skipped entirely.
const (
	initialScanWindow         = 24 * time.Hour
	subagentInitialScanWindow = 5 * time.Minute
)

// fileKind distinguishes the three watched file categories.
type fileKind int

const (
	kindTeamConfig fileKind = iota
	kindTaskFile
	kindTranscript
)

// trackedFile is the per-file bookkeeping the spec calls "offset" + "tracked".
type trackedFile struct {
	kind fileKind

	// transcript fields
	sessionID          string
	parentSessionID    string
	agentID            string
	isSubagent         bool
	isInternalSubagent bool
	lastToolUseAt      time.Time
	pendingToolName    string

	// team/task fields
	teamName string
	taskID   string
}

// Watcher tails teams/, tasks/, and projects/ under root, mutating sm.
type Watcher struct {
	root   string
	sm     *state.Manager
	guards *guard.Manager
	runner parser.CommandRunner

	fs *fsnotify.Watcher

	mu                 sync.Mutex
	offsets            map[string]int64
	tracked            map[string]*trackedFile
	registeredSessions map[string]bool
	debounce           map[string]*time.Timer
	waitingCheck       map[string]*time.Timer
	ready              bool

	// timingsMu guards the two live-reloadable knobs: how long a burst of
	// writes to one transcript is coalesced before replay, and how often
	// the staleness sweep runs. Both default to the package constants and
	// can be adjusted at runtime via SetTimings (SIGHUP config reload).
	timingsMu         sync.RWMutex
	changeDebounce    time.Duration
	stalenessInterval time.Duration
	stalenessReconfig chan struct{}

	health *healthTracker

	// waitingCheckDelay is the primary 45s idle-waiting check's delay
	// (transcripts.go's scheduleWaitingCheck). Not live-reloadable; only
	// overridden directly by tests that need a shorter wait.
	waitingCheckDelay time.Duration

	wg sync.WaitGroup // pending initial-scan detections
}

// SetTimings updates the debounce window and staleness sweep interval
// live. Zero values leave the corresponding knob unchanged. Safe to call
// while Run is active.
func (w *Watcher) SetTimings(changeDebounce, stalenessInterval time.Duration) {
	w.timingsMu.Lock()
	if changeDebounce > 0 {
		w.changeDebounce = changeDebounce
	}
	if stalenessInterval > 0 {
		w.stalenessInterval = stalenessInterval
	}
	w.timingsMu.Unlock()

	select {
	case w.stalenessReconfig <- struct{}{}:
	default:
	}
}

func (w *Watcher) getChangeDebounce() time.Duration {
	w.timingsMu.RLock()
	defer w.timingsMu.RUnlock()
	return w.changeDebounce
}

func (w *Watcher) getStalenessInterval() time.Duration {
	w.timingsMu.RLock()
	defer w.timingsMu.RUnlock()
	return w.stalenessInterval
}

// New returns a Watcher rooted at root (typically "<home>/.claude").
func New(root string, sm *state.Manager, guards *guard.Manager, runner parser.CommandRunner) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	roots := []string{
		filepath.Join(root, "teams"),
		filepath.Join(root, "tasks"),
		filepath.Join(root, "projects"),
	}
	return &Watcher{
		root:               root,
		sm:                 sm,
		guards:             guards,
		runner:             runner,
		fs:                 fsw,
		offsets:            make(map[string]int64),
		tracked:            make(map[string]*trackedFile),
		registeredSessions: make(map[string]bool),
		debounce:           make(map[string]*time.Timer),
		waitingCheck:       make(map[string]*time.Timer),
		changeDebounce:     defaultChangeDebounce,
		stalenessInterval:  defaultStalenessInterval,
		stalenessReconfig:  make(chan struct{}, 1),
		health:             newHealthTracker(roots),
		waitingCheckDelay:  defaultWaitingCheckDelay,
	}, nil
}

// Run performs the initial scan, then services fsnotify events and the
// staleness sweep until stop is closed (or fsnotify closes its channels).
// Blocking; call as a goroutine.
func (w *Watcher) Run(stop <-chan struct{}) {
	defer w.fs.Close()

	w.addRootWatches()
	w.initialScan()

	w.wg.Wait()
	w.mu.Lock()
	w.ready = true
	w.mu.Unlock()
	w.sm.SelectMostInterestingSession()

	sweep := time.NewTicker(w.getStalenessInterval())
	defer sweep.Stop()

	for {
		select {
		case <-stop:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleFsEvent(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: fsnotify error: %v", err)
			for root := range w.health.roots {
				w.health.recordFailure(root, err.Error())
			}
		case <-sweep.C:
			w.sweepStaleness()
		case <-w.stalenessReconfig:
			sweep.Stop()
			sweep = time.NewTicker(w.getStalenessInterval())
		}
	}
}

func (w *Watcher) addRootWatches() {
	roots := []string{
		filepath.Join(w.root, "teams"),
		filepath.Join(w.root, "tasks"),
		filepath.Join(w.root, "projects"),
	}
	for _, r := range roots {
		if _, err := os.Stat(r); err != nil {
			w.health.recordFailure(r, err.Error())
			continue
		}
		w.addRecursive(r)
		w.health.recordSuccess(r)
	}
}

// addRecursive adds watches for dir and every subdirectory beneath it, to
// the depth needed to catch projects/<dir>/<sessionId>/subagents/*.jsonl.
func (w *Watcher) addRecursive(dir string) {
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // directory may not exist yet; non-fatal
		}
		if info.IsDir() {
			if addErr := w.fs.Add(path); addErr != nil {
				log.Printf("watcher: failed to watch %s: %v", path, addErr)
			}
		}
		return nil
	})
}

func (w *Watcher) handleFsEvent(ev fsnotify.Event) {
	w.health.recordSuccess(rootForPath(w.root, ev.Name))
	switch classifyPath(w.root, ev.Name) {
	case kindTeamConfig:
		if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			w.handleTeamConfigRemove(ev.Name)
			return
		}
		if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
			if ev.Op&fsnotify.Create != 0 && isDir(ev.Name) {
				w.addRecursive(ev.Name)
				return
			}
			w.handleTeamConfigChange(ev.Name)
		}
	case kindTaskFile:
		if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			w.handleTaskFileRemove(ev.Name)
			return
		}
		if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
			if ev.Op&fsnotify.Create != 0 && isDir(ev.Name) {
				w.addRecursive(ev.Name)
				return
			}
			w.handleTaskFileChange(ev.Name)
		}
	default:
		if ev.Op&fsnotify.Create != 0 && isDir(ev.Name) {
			w.addRecursive(ev.Name)
			return
		}
		if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			w.handleTranscriptRemove(ev.Name)
			return
		}
		if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && isJSONL(ev.Name) {
			w.scheduleTranscriptChange(ev.Name)
		}
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isJSONL(path string) bool {
	return filepath.Ext(path) == ".jsonl"
}

// classifyPath determines which of the three watch roots path falls under.
func classifyPath(root, path string) fileKind {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return kindTranscript
	}
	switch {
	case hasPrefixSegment(rel, "teams"):
		return kindTeamConfig
	case hasPrefixSegment(rel, "tasks"):
		return kindTaskFile
	default:
		return kindTranscript
	}
}

func hasPrefixSegment(rel, seg string) bool {
	return rel == seg || len(rel) > len(seg) && rel[:len(seg)+1] == seg+string(filepath.Separator)
}

// rootForPath maps an event path back to one of the three watch roots for
// health reporting.
func rootForPath(root, path string) string {
	switch classifyPath(root, path) {
	case kindTeamConfig:
		return filepath.Join(root, "teams")
	case kindTaskFile:
		return filepath.Join(root, "tasks")
	default:
		return filepath.Join(root, "projects")
	}
}
