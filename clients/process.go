package clients

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"

	"loomctl/core"
	"loomctl/core/log"
	"loomctl/models"
)

const (
	processCheckTimeout  = 5 * time.Second
	terminateGracePeriod = 5 * time.Second
	killGracePeriod      = 2 * time.Second
	pollInterval         = 100 * time.Millisecond
)

// devServerMarkers are substrings of a command line that identify a
// development server rather than an unrelated listener on the same port.
var devServerMarkers = []string{
	"node", "npm", "pnpm", "yarn", "bun", "deno",
	"vite", "next", "nuxt", "webpack", "astro", "remix",
	"rails", "puma", "runserver", "uvicorn", "flask", "gunicorn",
}

// ProcessClient finds and stops the dev server a loom runs on base+number.
type ProcessClient struct {
	basePort  int
	termGrace time.Duration
	killGrace time.Duration

	connections func(ctx context.Context) ([]gnet.ConnectionStat, error)
	describe    func(ctx context.Context, pid int32) (name string, cmdline string)
	signal      func(pid int, sig syscall.Signal) error
	sleep       func(time.Duration)
}

func NewProcessClient(basePort int) *ProcessClient {
	return &ProcessClient{
		basePort:  basePort,
		termGrace: terminateGracePeriod,
		killGrace: killGracePeriod,
		connections: func(ctx context.Context) ([]gnet.ConnectionStat, error) {
			return gnet.ConnectionsWithContext(ctx, "tcp")
		},
		describe: describeProcess,
		signal:   syscall.Kill,
		sleep:    time.Sleep,
	}
}

func describeProcess(ctx context.Context, pid int32) (string, string) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", ""
	}
	name, _ := proc.NameWithContext(ctx)
	cmdline, _ := proc.CmdlineWithContext(ctx)
	return name, cmdline
}

func (p *ProcessClient) PortFor(number int) int {
	return p.basePort + number
}

// Detect returns the process listening on port, or nil when the port is idle.
// A listener owned by another user has PID 0 and is never a dev server.
func (p *ProcessClient) Detect(port int) (*models.ProcessInfo, error) {
	log.Debug("📋 Starting to detect listener on port %d", port)

	ctx, cancel := context.WithTimeout(context.Background(), processCheckTimeout)
	defer cancel()

	conns, err := p.connections(ctx)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("failed to inspect port %d: %w: %v", port, core.ErrPortInspectionUnavailable, err)
		}
		return nil, fmt.Errorf("failed to inspect port %d: %w", port, err)
	}

	var listener *gnet.ConnectionStat
	for i := range conns {
		if conns[i].Status == "LISTEN" && conns[i].Laddr.Port == uint32(port) {
			listener = &conns[i]
			break
		}
	}
	if listener == nil {
		log.Debug("ℹ️ No listener on port %d", port)
		return nil, nil
	}

	info := &models.ProcessInfo{PID: int(listener.Pid), Port: port}
	if listener.Pid > 0 {
		name, cmdline := p.describe(ctx, listener.Pid)
		info.Name = filepath.Base(strings.TrimSpace(name))
		info.CommandLine = strings.TrimSpace(cmdline)
		info.IsDevServer = IsDevServer(info.Name, info.CommandLine)
	}
	if info.Name == "" || info.Name == "." {
		info.Name = "unknown"
	}

	log.Info("ℹ️ Found %s (pid %d) on port %d, dev server: %v", info.Name, info.PID, port, info.IsDevServer)
	return info, nil
}

// IsDevServer reports whether a process looks like a development server.
func IsDevServer(name, commandLine string) bool {
	haystack := strings.ToLower(name + " " + commandLine)
	for _, marker := range devServerMarkers {
		if strings.Contains(haystack, marker) {
			return true
		}
	}
	return false
}

// alive treats EPERM as alive: the process exists but belongs to someone else.
func (p *ProcessClient) alive(pid int) bool {
	return !errors.Is(p.signal(pid, 0), syscall.ESRCH)
}

func (p *ProcessClient) waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !p.alive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		p.sleep(pollInterval)
	}
}

// Terminate sends SIGTERM, then SIGKILL if the process outlives the grace period.
func (p *ProcessClient) Terminate(pid int) (bool, error) {
	log.Info("📋 Starting to terminate process %d", pid)

	if err := p.signal(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			log.Info("ℹ️ Process %d already exited", pid)
			return true, nil
		}
		return false, fmt.Errorf("failed to signal process %d: %w", pid, err)
	}

	if p.waitForExit(pid, p.termGrace) {
		log.Info("✅ Process %d terminated", pid)
		return true, nil
	}

	log.Warn("⚠️ Process %d ignored SIGTERM, sending SIGKILL", pid)
	if err := p.signal(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return false, fmt.Errorf("failed to kill process %d: %w", pid, err)
	}

	if p.waitForExit(pid, p.killGrace) {
		log.Info("✅ Process %d killed", pid)
		return true, nil
	}

	log.Error("❌ Process %d is still running", pid)
	return false, nil
}

// VerifyPortFree reports whether port can be bound again.
func (p *ProcessClient) VerifyPortFree(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}
