package locator

import (
	"context"
	"fmt"
	"runtime"
)

// ProcessInfo is one row of a process listing.
type ProcessInfo struct {
	PID         int
	CommandLine string
}

// Strategy is the per-platform way to list processes and listening ports.
// Selected once at startup by StrategyFor.
type Strategy interface {
	Name() string
	ProcessName() string
	FindByName(ctx context.Context, r Runner, name string) ([]ProcessInfo, error)
	ListeningPorts(ctx context.Context, r Runner, pid int) ([]int, error)
}

// KeywordFinder is implemented by strategies that can fall back to a broad
// command-line keyword scan.
type KeywordFinder interface {
	FindByKeyword(ctx context.Context, r Runner, keyword string) ([]ProcessInfo, error)
}

// ProcessNameFor returns the language server executable for an OS/arch pair.
func ProcessNameFor(goos, goarch string) (string, error) {
	switch goos {
	case "windows":
		return "language_server_windows_x64.exe", nil
	case "darwin":
		if goarch == "arm64" {
			return "language_server_macos_arm", nil
		}
		return "language_server_macos", nil
	case "linux":
		if goarch == "arm64" {
			return "language_server_linux_arm", nil
		}
		return "language_server_linux_x64", nil
	default:
		return "", fmt.Errorf("locator: unsupported platform %s/%s", goos, goarch)
	}
}

// StrategyFor builds the strategy for an OS/arch pair.
func StrategyFor(goos, goarch string) (Strategy, error) {
	name, err := ProcessNameFor(goos, goarch)
	if err != nil {
		return nil, err
	}
	switch goos {
	case "windows":
		return &WindowsStrategy{processName: name}, nil
	case "darwin":
		return &UnixStrategy{processName: name, portTool: portToolLsof}, nil
	default:
		return &UnixStrategy{processName: name, portTool: portToolSS}, nil
	}
}

// CurrentStrategy builds the strategy for the running platform.
func CurrentStrategy() (Strategy, error) {
	return StrategyFor(runtime.GOOS, runtime.GOARCH)
}
