package locator

import "testing"

func TestProcessNameFor(t *testing.T) {
	tests := []struct {
		goos, goarch, want string
	}{
		{"windows", "amd64", "language_server_windows_x64.exe"},
		{"darwin", "arm64", "language_server_macos_arm"},
		{"darwin", "amd64", "language_server_macos"},
		{"linux", "amd64", "language_server_linux_x64"},
		{"linux", "arm64", "language_server_linux_arm"},
	}
	for _, tt := range tests {
		got, err := ProcessNameFor(tt.goos, tt.goarch)
		if err != nil || got != tt.want {
			t.Errorf("ProcessNameFor(%s, %s) = %q, %v; want %q", tt.goos, tt.goarch, got, err, tt.want)
		}
	}
	if _, err := StrategyFor("plan9", "amd64"); err == nil {
		t.Error("expected error for unsupported platform")
	}
}

func TestParsePSSkipsGarbage(t *testing.T) {
	out := []byte("  PID ARGS\n  12 /bin/bash -l\nnot-a-pid foo\n\n 34 /usr/bin/python3 x.py\n")
	procs := ParsePS(out)
	if len(procs) != 2 {
		t.Fatalf("expected 2 processes, got %d: %+v", len(procs), procs)
	}
	if procs[1].PID != 34 || procs[1].CommandLine != "/usr/bin/python3 x.py" {
		t.Fatalf("unexpected process: %+v", procs[1])
	}
}

func TestParseLsof(t *testing.T) {
	out := []byte(`COMMAND     PID USER   FD   TYPE DEVICE SIZE/OFF NODE NAME
language_ 4242 user    9u  IPv4 0x1234      0t0  TCP 127.0.0.1:41235 (LISTEN)
language_ 4242 user   10u  IPv6 0x5678      0t0  TCP [::1]:41300 (LISTEN)
language_ 4242 user   11u  IPv4 0x9abc      0t0  TCP 127.0.0.1:41235 (LISTEN)
`)
	ports := ParseLsof(out)
	if len(ports) != 2 || ports[0] != 41235 || ports[1] != 41300 {
		t.Fatalf("unexpected ports: %v", ports)
	}
}

func TestParseSSFiltersByPID(t *testing.T) {
	out := []byte(`LISTEN 0 4096 127.0.0.1:41235 0.0.0.0:* users:(("language_server",pid=4242,fd=9))
LISTEN 0 4096 [::1]:41400 [::]:* users:(("language_server",pid=4242,fd=12))
LISTEN 0 128 0.0.0.0:22 0.0.0.0:* users:(("sshd",pid=42420,fd=3))
`)
	ports := ParseSS(out, 4242)
	if len(ports) != 2 || ports[0] != 41235 || ports[1] != 41400 {
		t.Fatalf("unexpected ports: %v", ports)
	}
}

func TestParseCIM(t *testing.T) {
	single := []byte(`{"ProcessId":100,"CommandLine":"C:\\ag\\language_server_windows_x64.exe --csrf_token x"}`)
	if procs := ParseCIM(single); len(procs) != 1 || procs[0].PID != 100 {
		t.Fatalf("unexpected single parse: %+v", procs)
	}

	many := []byte(`[{"ProcessId":100,"CommandLine":"a"},{"ProcessId":200,"CommandLine":null},{"ProcessId":300,"CommandLine":"c"}]`)
	if procs := ParseCIM(many); len(procs) != 2 || procs[1].PID != 300 {
		t.Fatalf("unexpected array parse: %+v", procs)
	}

	for _, bad := range []string{"", "not json", "[{broken", "WARNING: something"} {
		if procs := ParseCIM([]byte(bad)); len(procs) != 0 {
			t.Errorf("expected no processes for %q, got %+v", bad, procs)
		}
	}
}

func TestParseNetstat(t *testing.T) {
	out := []byte("\r\nActive Connections\r\n\r\n  Proto  Local Address          Foreign Address        State           PID\r\n" +
		"  TCP    127.0.0.1:41235        0.0.0.0:0              LISTENING       4242\r\n" +
		"  TCP    127.0.0.1:50000        127.0.0.1:41235        ESTABLISHED     4242\r\n" +
		"  TCP    0.0.0.0:135            0.0.0.0:0              LISTENING       900\r\n")
	ports := ParseNetstat(out, 4242)
	if len(ports) != 1 || ports[0] != 41235 {
		t.Fatalf("unexpected ports: %v", ports)
	}
}
