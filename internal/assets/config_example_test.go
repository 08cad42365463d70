package assets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joelklabo/shep/internal/config"
)

func TestConfigExampleLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, ConfigExample, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Agent.Binary != "codex" || cfg.UI.Addr != "127.0.0.1:3030" {
		t.Fatalf("unexpected values: %+v", cfg)
	}
	if cfg.Notify.Nostr.Enable {
		t.Fatalf("nostr should be off in the example")
	}
}
