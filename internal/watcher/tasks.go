package watcher

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/agent-racer/backend/internal/state"
)

// taskFile mirrors one tasks/<team>/<taskId>.json document.
type taskFile struct {
	ID        string   `json:"id"`
	Subject   string   `json:"subject"`
	Status    string   `json:"status"`
	Owner     string   `json:"owner"`
	BlockedBy []string `json:"blockedBy"`
	Blocks    []string `json:"blocks"`
}

// handleTaskFileChange parses tasks/<team>/<taskId>.json and applies
// updateTask, always followed by reconcileAgentStatuses (spec §4.5).
func (w *Watcher) handleTaskFileChange(path string) {
	defer w.sm.ReconcileAgentStatuses()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("watcher: reading task file %s: %v", path, err)
		}
		return
	}

	var tf taskFile
	if err := json.Unmarshal(data, &tf); err != nil {
		log.Printf("watcher: malformed task file %s: %v", path, err)
		return
	}

	id := tf.ID
	if id == "" {
		id = taskIDFromPath(path)
	}
	if tf.Status == "" {
		tf.Status = state.TaskPending
	}

	w.sm.UpdateTask(&state.Task{
		ID:        id,
		Subject:   tf.Subject,
		Status:    tf.Status,
		Owner:     tf.Owner,
		BlockedBy: tf.BlockedBy,
		Blocks:    tf.Blocks,
	})
}

// handleTaskFileRemove deletes the task keyed by the file's basename,
// always followed by reconcileAgentStatuses.
func (w *Watcher) handleTaskFileRemove(path string) {
	w.sm.RemoveTask(taskIDFromPath(path))
	w.sm.ReconcileAgentStatuses()
}

func taskIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
