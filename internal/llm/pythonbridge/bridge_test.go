package pythonbridge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"Yelp-Navigator/internal/llm"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.sh")
	if err := os.WriteFile(path, []byte(body), 0o700); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestGenerate(t *testing.T) {
	requireShell(t)
	script := writeScript(t, `cat > /dev/null
cat <<'JSON'
{"text":"{\"action\":\"finalize\"}","model":"local"}
JSON
`)
	client, err := NewClient(Config{Executable: "sh", Script: script})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	resp, err := client.Generate(context.Background(), llm.Request{System: "s", Prompt: "p", JSON: true})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Text != `{"action":"finalize"}` || resp.Model != "local" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGenerateErrors(t *testing.T) {
	requireShell(t)

	t.Run("script error field", func(t *testing.T) {
		script := writeScript(t, "cat > /dev/null\nprintf '{\"error\":\"model not loaded\"}'\n")
		client, _ := NewClient(Config{Executable: "sh", Script: script})
		if _, err := client.Generate(context.Background(), llm.Request{}); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("non-zero exit", func(t *testing.T) {
		script := writeScript(t, "echo boom >&2\nexit 3\n")
		client, _ := NewClient(Config{Executable: "sh", Script: script})
		if _, err := client.Generate(context.Background(), llm.Request{}); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("invalid output", func(t *testing.T) {
		script := writeScript(t, "cat > /dev/null\necho not-json\n")
		client, _ := NewClient(Config{Executable: "sh", Script: script})
		if _, err := client.Generate(context.Background(), llm.Request{}); err == nil {
			t.Fatalf("expected error")
		}
	})
}

func TestNewClientRequiresScript(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error for missing script")
	}
	client, err := NewClient(Config{Script: "infer.py"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.executable != "python3" {
		t.Fatalf("unexpected default executable: %s", client.executable)
	}
}

func TestResolveScriptPath(t *testing.T) {
	if got := ResolveScriptPath("/srv", "infer.py"); got != filepath.Join("/srv", "infer.py") {
		t.Fatalf("unexpected path: %s", got)
	}
	if got := ResolveScriptPath("/srv", "/opt/infer.py"); got != "/opt/infer.py" {
		t.Fatalf("unexpected path: %s", got)
	}
	if got := ResolveScriptPath("", "infer.py"); got != "infer.py" {
		t.Fatalf("unexpected path: %s", got)
	}
}
