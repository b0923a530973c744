// Package platform detects the host environment and owns the OS-facing
// notification delivery commands.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform is the detected host environment.
type Platform string

const (
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformWSL     Platform = "wsl"
	PlatformUnknown Platform = "unknown"
)

var (
	detectedPlatform Platform
	detectionDone    bool
)

// Detect returns the current platform, caching the result.
func Detect() Platform {
	if detectionDone {
		return detectedPlatform
	}
	detectedPlatform = detectPlatform()
	detectionDone = true
	return detectedPlatform
}

func detectPlatform() Platform {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacOS
	case "linux":
		if isWSL() {
			return PlatformWSL
		}
		return PlatformLinux
	default:
		return PlatformUnknown
	}
}

func isWSL() bool {
	if os.Getenv("WSL_DISTRO_NAME") != "" {
		return true
	}
	procVersion, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(procVersion)), "microsoft")
}

// String returns a human-readable platform name.
func (p Platform) String() string {
	switch p {
	case PlatformMacOS:
		return "macOS"
	case PlatformLinux:
		return "Linux"
	case PlatformWSL:
		return "WSL"
	default:
		return "Unknown"
	}
}

// CheckFsnotifySupport returns a warning when the path sits on a filesystem
// where inotify events are unreliable (9p on WSL, network mounts). The
// transcript watcher degrades to tick-only scanning there; the daemon still
// works, just with more latency.
func CheckFsnotifySupport(path string) string {
	if runtime.GOOS != "linux" {
		return ""
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	mounts, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return ""
	}

	// Longest mountpoint prefix wins.
	var matchedMount, matchedFsType string
	for _, line := range strings.Split(string(mounts), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		if strings.HasPrefix(absPath, fields[1]) && len(fields[1]) > len(matchedMount) {
			matchedMount = fields[1]
			matchedFsType = fields[2]
		}
	}

	switch {
	case matchedFsType == "9p":
		return "transcript directory on 9p mount: filesystem events disabled, relying on scan interval"
	case matchedFsType == "nfs", matchedFsType == "nfs4",
		matchedFsType == "cifs", matchedFsType == "smbfs",
		strings.HasPrefix(matchedFsType, "fuse.sshfs"):
		return "transcript directory on network mount: filesystem events may be unreliable"
	}
	return ""
}
