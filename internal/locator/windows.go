package locator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// WindowsStrategy lists processes through CIM and ports through
// Get-NetTCPConnection, falling back to netstat.
type WindowsStrategy struct {
	processName string
}

// Name implements Strategy.
func (s *WindowsStrategy) Name() string { return "windows-cim" }

// ProcessName implements Strategy.
func (s *WindowsStrategy) ProcessName() string { return s.processName }

// FindByName implements Strategy. name must already be sanitized.
func (s *WindowsStrategy) FindByName(ctx context.Context, r Runner, name string) ([]ProcessInfo, error) {
	script := fmt.Sprintf(
		`Get-CimInstance Win32_Process -Filter "name='%s'" | Select-Object ProcessId,CommandLine | ConvertTo-Json -Compress`,
		name)
	return s.query(ctx, r, script)
}

// FindByKeyword implements KeywordFinder. keyword must already be sanitized.
func (s *WindowsStrategy) FindByKeyword(ctx context.Context, r Runner, keyword string) ([]ProcessInfo, error) {
	script := fmt.Sprintf(
		`Get-CimInstance Win32_Process | Where-Object { $_.CommandLine -like '*%s*' } | Select-Object ProcessId,CommandLine | ConvertTo-Json -Compress`,
		keyword)
	return s.query(ctx, r, script)
}

func (s *WindowsStrategy) query(ctx context.Context, r Runner, script string) ([]ProcessInfo, error) {
	out, err := r.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	if err != nil {
		return nil, err
	}
	return ParseCIM(out), nil
}

// ListeningPorts implements Strategy.
func (s *WindowsStrategy) ListeningPorts(ctx context.Context, r Runner, pid int) ([]int, error) {
	script := fmt.Sprintf(
		`Get-NetTCPConnection -State Listen -OwningProcess %d | Select-Object -ExpandProperty LocalPort`, pid)
	out, err := r.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	if err == nil {
		var ports []int
		for _, line := range strings.Fields(string(out)) {
			ports = appendPort(ports, line)
		}
		if len(ports) > 0 {
			return ports, nil
		}
	}

	out, err = r.Run(ctx, "netstat", "-ano", "-p", "TCP")
	if err != nil {
		return nil, err
	}
	return ParseNetstat(out, pid), nil
}

type cimProcess struct {
	ProcessID   int    `json:"ProcessId"`
	CommandLine string `json:"CommandLine"`
}

// ParseCIM decodes ConvertTo-Json output, which is a single object for one
// match and an array for several. Anything else yields no processes.
func ParseCIM(out []byte) []ProcessInfo {
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return nil
	}

	var many []cimProcess
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &many); err != nil {
			return nil
		}
	} else {
		var one cimProcess
		if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
			return nil
		}
		many = []cimProcess{one}
	}

	var procs []ProcessInfo
	for _, p := range many {
		if p.ProcessID <= 0 || p.CommandLine == "" {
			continue
		}
		procs = append(procs, ProcessInfo{PID: p.ProcessID, CommandLine: p.CommandLine})
	}
	return procs
}

var netstatListen = regexp.MustCompile(`(?i)^\s*TCP\s+\S*:(\d+)\s+\S+\s+LISTENING\s+(\d+)\s*$`)

// ParseNetstat extracts listening ports owned by pid from `netstat -ano` output.
func ParseNetstat(out []byte, pid int) []int {
	want := strconv.Itoa(pid)
	var ports []int
	for _, line := range strings.Split(strings.ReplaceAll(string(out), "\r", ""), "\n") {
		m := netstatListen.FindStringSubmatch(line)
		if m == nil || m[2] != want {
			continue
		}
		ports = appendPort(ports, m[1])
	}
	return ports
}
