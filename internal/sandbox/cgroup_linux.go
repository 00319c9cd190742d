//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

func createRunCgroup(root, runID string) (string, func(), error) {
	cgroupPath := filepath.Join(root, fmt.Sprintf("%s-%d", runID, time.Now().UnixNano()))
	if err := os.Mkdir(cgroupPath, 0o750); err != nil {
		return "", func() {}, fmt.Errorf("create cgroup path: %w", err)
	}
	cleanup := func() {
		// cgroup directories are removed with rmdir once they hold no tasks.
		_ = os.Remove(cgroupPath)
	}
	return cgroupPath, cleanup, nil
}

func applyCgroupLimits(cgroupPath string, limits Limits) error {
	pidsValue := "max"
	if limits.MaxProcesses > 0 {
		pidsValue = strconv.Itoa(limits.MaxProcesses)
	}
	if err := writeCgroupValue(cgroupPath, "pids.max", pidsValue); err != nil {
		return err
	}
	if limits.MemoryLimitKb > 0 {
		bytes := strconv.FormatInt(int64(limits.MemoryLimitKb)*1024, 10)
		if err := writeCgroupValue(cgroupPath, "memory.max", bytes); err != nil {
			return err
		}
		if err := writeCgroupValue(cgroupPath, "memory.swap.max", "0"); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// openCgroupDir returns a descriptor for SysProcAttr.CgroupFD.
func openCgroupDir(cgroupPath string) (int, error) {
	fd, err := unix.Open(cgroupPath, unix.O_PATH|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", cgroupPath, err)
	}
	return fd, nil
}

func killCgroup(cgroupPath string) error {
	return writeCgroupValue(cgroupPath, "cgroup.kill", "1")
}

func wasOomKilled(cgroupPath string) bool {
	data, err := os.ReadFile(filepath.Join(cgroupPath, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] != "oom_kill" {
			continue
		}
		val, _ := strconv.ParseInt(fields[1], 10, 64)
		return val > 0
	}
	return false
}

func writeCgroupValue(cgroupPath, name, value string) error {
	return os.WriteFile(filepath.Join(cgroupPath, name), []byte(value), 0o640)
}
