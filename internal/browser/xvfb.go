package browser

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// displayWait bounds how long Chrome waits for the virtual display.
const displayWait = 2 * time.Second

// startDisplay runs Xvfb on the configured display for a headful session
// and waits for its socket. Callers hold m.mu.
func (m *Manager) startDisplay() error {
	if m.display != nil {
		return nil
	}
	cmd := exec.Command("Xvfb", m.cfg.XvfbDisplay, "-screen", "0", "1920x1080x24", "-ac")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	m.display = cmd

	if err := waitForSocket(displaySocket(m.cfg.XvfbDisplay), displayWait); err != nil {
		m.cfg.Logger.Warn("browser: xvfb socket not ready", "display", m.cfg.XvfbDisplay, "error", err)
	}
	m.cfg.Logger.Info("browser: xvfb started", "display", m.cfg.XvfbDisplay, "pid", cmd.Process.Pid)
	return nil
}

func (m *Manager) stopDisplay() {
	if m.display == nil {
		return
	}
	if p := m.display.Process; p != nil {
		p.Kill()
		m.display.Wait()
	}
	m.display = nil
	m.cfg.Logger.Info("browser: xvfb stopped", "display", m.cfg.XvfbDisplay)
}

// displaySocket maps ":99" or ":99.0" to the X server's unix socket.
func displaySocket(display string) string {
	n := strings.TrimPrefix(display, ":")
	if i := strings.IndexByte(n, '.'); i >= 0 {
		n = n[:i]
	}
	return "/tmp/.X11-unix/X" + n
}

func waitForSocket(path string, limit time.Duration) error {
	deadline := time.Now().Add(limit)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s: not created after %s", path, limit)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
