package metrics

import (
	"os"
	"runtime"
	"strings"

	"github.com/openlearn/coursestore/common/logger"
)

// SystemInfo is a snapshot of the host environment, captured once at
// startup for log correlation
type SystemInfo struct {
	Hostname    string `json:"hostname"`
	OS          string `json:"os"`
	Arch        string `json:"arch"`
	CPULogical  int    `json:"cpu_logical"`
	GoVersion   string `json:"go_version"`
	InContainer bool   `json:"in_container"`
	Runtime     string `json:"container_runtime,omitempty"`
}

// Capture gathers system information
func Capture() *SystemInfo {
	info := &SystemInfo{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		CPULogical: runtime.NumCPU(),
		GoVersion:  runtime.Version(),
	}
	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	} else {
		info.Hostname = "unknown"
	}
	info.InContainer, info.Runtime = detectContainer()
	return info
}

func detectContainer() (bool, string) {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true, "docker"
	}
	if _, err := os.Stat("/var/run/secrets/kubernetes.io"); err == nil {
		return true, "kubernetes"
	}
	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		switch {
		case strings.Contains(content, "docker"):
			return true, "docker"
		case strings.Contains(content, "kubepods"):
			return true, "kubernetes"
		case strings.Contains(content, "containerd"):
			return true, "containerd"
		}
	}
	return false, ""
}

// LogStartup writes the captured system info to the service log
func LogStartup(log *logger.Logger) {
	info := Capture()
	log.Info("system info",
		"hostname", info.Hostname,
		"os", info.OS,
		"arch", info.Arch,
		"cpus", info.CPULogical,
		"go", info.GoVersion,
		"container", info.InContainer,
		"runtime", info.Runtime,
	)
}
