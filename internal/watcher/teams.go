package watcher

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"

	"github.com/agent-racer/backend/internal/parser"
	"github.com/agent-racer/backend/internal/state"
)

// teamMember mirrors one entry of teams/<team>/config.json's members array.
type teamMember struct {
	Name      string `json:"name"`
	AgentID   string `json:"agentId"`
	AgentType string `json:"agentType"`
}

type teamConfig struct {
	Members []teamMember `json:"members"`
}

// handleTeamConfigChange parses teams/<team>/config.json and applies
// EnsureTeamSession + SetAgents, then rescans the team's task files
// (spec §4.5).
func (w *Watcher) handleTeamConfigChange(path string) {
	teamName := filepath.Base(filepath.Dir(path))
	if teamName == "" || teamName == "." {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("watcher: reading team config %s: %v", path, err)
		}
		return
	}

	var cfg teamConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Printf("watcher: malformed team config %s: %v", path, err)
		return
	}

	w.sm.EnsureTeamSession(teamName)

	agents := make([]*state.Agent, 0, len(cfg.Members))
	for _, m := range cfg.Members {
		id := m.AgentID
		if id == "" {
			id = m.Name
		}
		agents = append(agents, &state.Agent{
			ID:       id,
			Name:     m.Name,
			Role:     parser.InferRole(m.AgentType, m.Name),
			TeamName: teamName,
			Status:   state.StatusIdle,
		})
	}
	w.sm.SetAgents(teamName, agents)

	w.scanSiblingTaskFiles(teamName)
}

// scanSiblingTaskFiles re-reads every task file for teamName, per spec
// §4.5's "scan sibling task files" step after a team config change.
func (w *Watcher) scanSiblingTaskFiles(teamName string) {
	teamRoot := filepath.Join(w.root, "tasks", teamName)
	entries, err := os.ReadDir(teamRoot)
	if err != nil {
		return
	}
	for _, f := range entries {
		if f.IsDir() || f.Name() == "config.json" || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		w.handleTaskFileChange(filepath.Join(teamRoot, f.Name()))
	}
}

// handleTeamConfigRemove implements the spec's "never full reset" unlink
// behavior: only this team's agents are cleared, solo sessions survive.
func (w *Watcher) handleTeamConfigRemove(path string) {
	teamName := filepath.Base(filepath.Dir(path))
	if teamName == "" || teamName == "." {
		return
	}
	w.sm.ClearTeamAgents(teamName)
}
