package locator

import (
	"bufio"
	"bytes"
	"context"
	"regexp"
	"strconv"
	"strings"
)

type portTool int

const (
	portToolSS portTool = iota
	portToolLsof
)

// UnixStrategy lists processes with ps and ports with ss or lsof.
type UnixStrategy struct {
	processName string
	portTool    portTool
}

// Name implements Strategy.
func (s *UnixStrategy) Name() string {
	if s.portTool == portToolLsof {
		return "unix-lsof"
	}
	return "unix-ss"
}

// ProcessName implements Strategy.
func (s *UnixStrategy) ProcessName() string { return s.processName }

// FindByName implements Strategy.
func (s *UnixStrategy) FindByName(ctx context.Context, r Runner, name string) ([]ProcessInfo, error) {
	return s.grep(ctx, r, func(cmdline string) bool {
		exe := cmdline
		if i := strings.IndexByte(exe, ' '); i >= 0 {
			exe = exe[:i]
		}
		return strings.HasSuffix(exe, name)
	})
}

// FindByKeyword implements KeywordFinder.
func (s *UnixStrategy) FindByKeyword(ctx context.Context, r Runner, keyword string) ([]ProcessInfo, error) {
	return s.grep(ctx, r, func(cmdline string) bool {
		return strings.Contains(cmdline, keyword)
	})
}

func (s *UnixStrategy) grep(ctx context.Context, r Runner, match func(string) bool) ([]ProcessInfo, error) {
	out, err := r.Run(ctx, "ps", "-ww", "-eo", "pid=,args=")
	if err != nil {
		return nil, err
	}
	var procs []ProcessInfo
	for _, p := range ParsePS(out) {
		if match(p.CommandLine) {
			procs = append(procs, p)
		}
	}
	return procs, nil
}

// ListeningPorts implements Strategy.
func (s *UnixStrategy) ListeningPorts(ctx context.Context, r Runner, pid int) ([]int, error) {
	if s.portTool == portToolSS {
		out, err := r.Run(ctx, "ss", "-tlnpH")
		if err == nil {
			if ports := ParseSS(out, pid); len(ports) > 0 {
				return ports, nil
			}
		}
	}
	out, err := r.Run(ctx, "lsof", "-nP", "-a", "-iTCP", "-sTCP:LISTEN", "-p", strconv.Itoa(pid))
	if err != nil {
		return nil, err
	}
	return ParseLsof(out), nil
}

// ParsePS parses "pid args" lines. Unparseable lines are skipped.
func ParsePS(out []byte) []ProcessInfo {
	var procs []ProcessInfo
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		pidStr, rest, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(pidStr)
		if err != nil || pid <= 0 {
			continue
		}
		procs = append(procs, ProcessInfo{PID: pid, CommandLine: strings.TrimSpace(rest)})
	}
	return procs
}

var (
	ssLocalPort = regexp.MustCompile(`^\S+\s+\d+\s+\d+\s+\S*:(\d+)\s`)
	lsofListen  = regexp.MustCompile(`:(\d+)\s+\(LISTEN\)`)
)

// ParseSS extracts listening ports owned by pid from `ss -tlnpH` output.
func ParseSS(out []byte, pid int) []int {
	owner := "pid=" + strconv.Itoa(pid) + ","
	var ports []int
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, owner) {
			continue
		}
		if m := ssLocalPort.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			ports = appendPort(ports, m[1])
		}
	}
	return ports
}

// ParseLsof extracts listening ports from lsof output.
func ParseLsof(out []byte) []int {
	var ports []int
	for _, m := range lsofListen.FindAllStringSubmatch(string(out), -1) {
		ports = appendPort(ports, m[1])
	}
	return ports
}

func appendPort(ports []int, s string) []int {
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return ports
	}
	for _, p := range ports {
		if p == port {
			return ports
		}
	}
	return append(ports, port)
}
