package watcher

import (
	"os"
	"path/filepath"
	"time"
)

// initialScan walks the three roots once at startup, applying the
// initial-scan flood filter (spec §4.5): files older than 24h (5min for
// subagent files) are skipped entirely rather than replayed into state.
func (w *Watcher) initialScan() {
	w.scanTeams()
	w.scanTasks()
	w.scanTranscripts()
}

func (w *Watcher) scanTeams() {
	root := filepath.Join(w.root, "teams")
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		cfgPath := filepath.Join(root, e.Name(), "config.json")
		if _, err := os.Stat(cfgPath); err == nil {
			w.handleTeamConfigChange(cfgPath)
		}
	}
}

func (w *Watcher) scanTasks() {
	root := filepath.Join(w.root, "tasks")
	teamDirs, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, td := range teamDirs {
		if !td.IsDir() {
			continue
		}
		teamRoot := filepath.Join(root, td.Name())
		files, err := os.ReadDir(teamRoot)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || f.Name() == "config.json" || filepath.Ext(f.Name()) != ".json" {
				continue
			}
			w.handleTaskFileChange(filepath.Join(teamRoot, f.Name()))
		}
	}
}

func (w *Watcher) scanTranscripts() {
	root := filepath.Join(w.root, "projects")
	projectDirs, err := os.ReadDir(root)
	if err != nil {
		return
	}
	now := time.Now()
	for _, pd := range projectDirs {
		if !pd.IsDir() {
			continue
		}
		projectPath := filepath.Join(root, pd.Name())
		w.scanProjectDir(projectPath, now)
	}
}

func (w *Watcher) scanProjectDir(projectPath string, now time.Time) {
	entries, err := os.ReadDir(projectPath)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			subPath := filepath.Join(projectPath, e.Name(), "subagents")
			subEntries, err := os.ReadDir(subPath)
			if err != nil {
				continue
			}
			for _, se := range subEntries {
				if se.IsDir() || filepath.Ext(se.Name()) != ".jsonl" {
					continue
				}
				w.initialScanFile(filepath.Join(subPath, se.Name()), now, true)
			}
			continue
		}
		if filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		w.initialScanFile(filepath.Join(projectPath, e.Name()), now, false)
	}
}

func (w *Watcher) initialScanFile(path string, now time.Time, isSubagentFile bool) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	window := initialScanWindow
	if isSubagentFile {
		window = subagentInitialScanWindow
	}
	if now.Sub(info.ModTime()) > window {
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.detectSession(path)
	}()
}
