package rules

import "testing"

func TestHardcodedDenyBeatsAllowList(t *testing.T) {
	m := New(Lists{Allow: []string{"rm -rf /", "*"}})

	res := m.Evaluate("rm -rf /", Context{Type: Terminal})
	if res.Approved {
		t.Fatal("expected rm -rf / to be blocked despite allow list")
	}
	if res.Rule != TagHardcodedDeny {
		t.Fatalf("expected %s, got %s", TagHardcodedDeny, res.Rule)
	}
}

func TestHardcodedDenyPatterns(t *testing.T) {
	m := New(Lists{})

	tests := []string{
		"rm -rf /",
		"sudo rm -rf / --no-preserve-root",
		"mkfs.ext4 /dev/sdb1",
		":(){ :|:& };:",
		"dd if=/dev/zero of=/dev/sda bs=1M",
		"sudo shutdown -h now",
		"REBOOT",
		"Format C: /q",
	}
	for _, cmd := range tests {
		t.Run(cmd, func(t *testing.T) {
			res := m.Evaluate(cmd, Context{Type: Terminal})
			if res.Approved || res.Rule != TagHardcodedDeny {
				t.Errorf("expected hardcoded deny for %q, got %+v", cmd, res)
			}
		})
	}
}

func TestUserAllow(t *testing.T) {
	m := New(Lists{Allow: []string{"npm install"}})

	res := m.Evaluate("npm install lodash", Context{Type: Terminal})
	if !res.Approved {
		t.Fatal("expected npm install to be approved")
	}
	if res.Rule != TagUserAllow {
		t.Fatalf("expected %s, got %s", TagUserAllow, res.Rule)
	}
	if res.Pattern != "npm install" {
		t.Fatalf("expected pattern npm install, got %q", res.Pattern)
	}
}

func TestUserDenyBeatsUserAllow(t *testing.T) {
	m := New(Lists{
		Allow: []string{"git"},
		Deny:  []string{"git push"},
	})

	res := m.Evaluate("git push origin main", Context{Type: Terminal})
	if res.Approved || res.Rule != TagUserDeny {
		t.Fatalf("expected user deny, got %+v", res)
	}

	res = m.Evaluate("git status", Context{Type: Terminal})
	if !res.Approved || res.Rule != TagUserAllow {
		t.Fatalf("expected user allow, got %+v", res)
	}
}

func TestDefaultPolicy(t *testing.T) {
	m := New(Lists{})

	tests := []struct {
		typ      OperationType
		approved bool
		rule     string
	}{
		{Terminal, true, TagDefaultAllow},
		{FileEdit, true, TagDefaultAllow},
		{"browser", false, TagDefaultDeny},
		{"", false, TagDefaultDeny},
	}
	for _, tt := range tests {
		res := m.Evaluate("ls -la", Context{Type: tt.typ})
		if res.Approved != tt.approved || res.Rule != tt.rule {
			t.Errorf("type %q: expected approved=%v rule=%s, got %+v", tt.typ, tt.approved, tt.rule, res)
		}
	}

	res := m.Evaluate("ls -la", Context{Type: "browser"})
	if res.Reason != "unknown operation type" {
		t.Errorf("expected unknown operation type reason, got %q", res.Reason)
	}
}

func TestWildcardMatching(t *testing.T) {
	tests := []struct {
		text    string
		pattern string
		want    bool
	}{
		{"npm run build", "npm run *", true},
		{"npm test", "npm run *", false},
		{"docker compose up -d", "docker * up*", true},
		{"NPM RUN LINT", "npm run *", true},
		{"  go test ./...  ", "go test", true},
		{"echo hello", "", false},
		{"make", "make*", true},
	}
	for _, tt := range tests {
		if got := Matches(tt.text, tt.pattern); got != tt.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tt.text, tt.pattern, got, tt.want)
		}
	}
}

func TestCaseInsensitiveDeny(t *testing.T) {
	m := New(Lists{Deny: []string{"DROP TABLE"}})

	res := m.Evaluate("psql -c 'drop table users'", Context{Type: Terminal})
	if res.Approved {
		t.Fatal("expected case-insensitive deny match")
	}
}

func TestUpdateRulesHotReload(t *testing.T) {
	m := New(Lists{})

	if res := m.Evaluate("curl example.com", Context{Type: "other"}); res.Approved {
		t.Fatal("expected unknown type to be denied before allow rule exists")
	}

	m.UpdateRules(Lists{Allow: []string{"curl"}})

	res := m.Evaluate("curl example.com", Context{Type: "other"})
	if !res.Approved || res.Rule != TagUserAllow {
		t.Fatalf("expected allow after reload, got %+v", res)
	}

	got := m.Lists()
	if len(got.Allow) != 1 || got.Allow[0] != "curl" {
		t.Fatalf("unexpected lists after update: %+v", got)
	}
}
