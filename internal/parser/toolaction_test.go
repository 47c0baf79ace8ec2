package parser

import (
	"testing"

	"github.com/tidwall/gjson"
)

func input(json string) gjson.Result {
	return gjson.Parse(json)
}

func TestDescribeToolActionEditWriteRead(t *testing.T) {
	action, context := DescribeToolAction("Read", input(`{"file_path":"/src/app.ts"}`))
	if action != "Reading app.ts" {
		t.Fatalf("unexpected action %q", action)
	}
	if context != "src" {
		t.Fatalf("unexpected context %q", context)
	}
}

func TestDescribeToolActionBash(t *testing.T) {
	action, _ := DescribeToolAction("Bash", input(`{"command":"npm test && npm run lint"}`))
	if action != "Running: npm test" {
		t.Fatalf("unexpected action %q", action)
	}

	action, _ = DescribeToolAction("Bash", input(`{}`))
	if action != "Running command" {
		t.Fatalf("expected fallback, got %q", action)
	}
}

func TestDescribeToolActionGrep(t *testing.T) {
	action, context := DescribeToolAction("Grep", input(`{"pattern":"TODO","glob":"*.go"}`))
	if action != "Searching: TODO" || context != "in *.go" {
		t.Fatalf("unexpected %q / %q", action, context)
	}
}

func TestDescribeToolActionTask(t *testing.T) {
	action, context := DescribeToolAction("Task", input(`{"description":"investigate flaky test","subagent_type":"tester"}`))
	if action != "Spawning: investigate flaky test" || context != "(tester)" {
		t.Fatalf("unexpected %q / %q", action, context)
	}
}

func TestDescribeToolActionSendMessageVariants(t *testing.T) {
	action, _ := DescribeToolAction("SendMessage", input(`{"type":"broadcast"}`))
	if action != "Broadcasting to team" {
		t.Fatalf("unexpected %q", action)
	}
	action, _ = DescribeToolAction("SendMessage", input(`{"type":"shutdown_request","to":"worker-1"}`))
	if action != "Requesting worker-1 shutdown" {
		t.Fatalf("unexpected %q", action)
	}
	action, _ = DescribeToolAction("SendMessage", input(`{"to":"tester"}`))
	if action != "Messaging tester" {
		t.Fatalf("unexpected %q", action)
	}
}

func TestDescribeToolActionDefault(t *testing.T) {
	action, _ := DescribeToolAction("SomeCustomTool", input(`{}`))
	if action != "SomeCustomTool" {
		t.Fatalf("unexpected default action %q", action)
	}
}

func TestIsGitMutatingBash(t *testing.T) {
	if !IsGitMutatingBash("git commit -m 'fix'") {
		t.Fatal("expected git commit to match")
	}
	if !IsGitMutatingBash("gh pr create") {
		t.Fatal("expected gh pr to match")
	}
	if IsGitMutatingBash("git status") {
		t.Fatal("git status should not match")
	}
}
