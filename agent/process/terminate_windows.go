//go:build windows

package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const taskkillTimeout = 10 * time.Second

func setProcAttrs(cmd *exec.Cmd) {}

// Signals can't be delivered to a process group here, so the tree is killed with taskkill.
func (h *Handle) terminate() error { return killTree(h.PID()) }

func (h *Handle) kill() error { return killTree(h.PID()) }

func killTree(pid int) error {
	ctx, cancel := context.WithTimeout(context.Background(), taskkillTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "taskkill", "/pid", strconv.Itoa(pid), "/f", "/t").CombinedOutput()
	if err != nil {
		return fmt.Errorf("taskkill: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func signalName(state *os.ProcessState) string { return "" }
