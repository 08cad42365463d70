// Package check verifies the external tools and paths shep relies on.
package check

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Status values reported by checkers.
const (
	StatusOK      = "OK"
	StatusMissing = "MISSING"
	StatusWarn    = "WARN"
)

// Result represents a single dependency check outcome.
type Result struct {
	Name     string
	Type     string
	Status   string // OK|MISSING|WARN
	Details  string
	Optional bool
}

// Checker defines an interface for running checks.
type Checker interface {
	Check(dep Dep) Result
}

// Dep is one prerequisite to verify.
type Dep struct {
	Name     string
	Type     string // binary|env|file|url|port|relay|dirwrite
	Version  string
	Optional bool
	Hint     string
}

var timeout = 3 * time.Second

var checkers = map[string]Checker{
	"binary":   BinaryChecker{},
	"env":      EnvChecker{},
	"file":     FileChecker{},
	"url":      URLChecker{},
	"port":     PortChecker{},
	"relay":    RelayChecker{},
	"dirwrite": DirWriteChecker{},
}

// Run checks every dep in order. Unknown types are reported as WARN.
func Run(deps []Dep) []Result {
	out := make([]Result, 0, len(deps))
	for _, d := range deps {
		c, ok := checkers[d.Type]
		if !ok {
			out = append(out, Result{Name: d.Name, Type: d.Type, Status: StatusWarn, Details: "unknown check type", Optional: d.Optional})
			continue
		}
		res := c.Check(d)
		res.Optional = d.Optional
		out = append(out, res)
	}
	return out
}

// Failed reports whether any required dep is missing.
func Failed(results []Result) bool {
	for _, r := range results {
		if r.Status == StatusMissing && !r.Optional {
			return true
		}
	}
	return false
}

// BinaryChecker checks for a binary on PATH and optional version substring.
type BinaryChecker struct{}

func (BinaryChecker) Check(dep Dep) Result {
	res := Result{Name: dep.Name, Type: dep.Type, Status: StatusOK}
	path, err := exec.LookPath(dep.Name)
	if err != nil {
		res.Status = missingStatus(dep.Optional)
		res.Details = fmt.Sprintf("not found in PATH (%s)", dep.Hint)
		return res
	}
	if dep.Version != "" {
		out, _ := exec.Command(path, "--version").CombinedOutput()
		if !strings.Contains(string(out), dep.Version) {
			res.Status = missingStatus(dep.Optional)
			res.Details = fmt.Sprintf("found %s but version mismatch (need %s)", strings.TrimSpace(string(out)), dep.Version)
			return res
		}
	}
	res.Details = path
	return res
}

// EnvChecker requires a non-empty environment variable.
type EnvChecker struct{}

func (EnvChecker) Check(dep Dep) Result {
	res := Result{Name: dep.Name, Type: dep.Type, Status: StatusOK, Details: "set"}
	if strings.TrimSpace(os.Getenv(dep.Name)) == "" {
		res.Status = missingStatus(dep.Optional)
		res.Details = "not set"
	}
	return res
}

// FileChecker requires a path to exist.
type FileChecker struct{}

func (FileChecker) Check(dep Dep) Result {
	res := Result{Name: dep.Name, Type: dep.Type, Status: StatusOK, Details: "exists"}
	if _, err := os.Stat(dep.Name); err != nil {
		res.Status = missingStatus(dep.Optional)
		res.Details = err.Error()
	}
	return res
}

// URLChecker expects a non-5xx answer to a GET.
type URLChecker struct{}

func (URLChecker) Check(dep Dep) Result {
	res := Result{Name: dep.Name, Type: dep.Type, Status: StatusOK}
	client := http.Client{Timeout: timeout}
	resp, err := client.Get(dep.Name)
	if err != nil {
		res.Status = missingStatus(dep.Optional)
		res.Details = err.Error()
		return res
	}
	_ = resp.Body.Close()
	res.Details = resp.Status
	if resp.StatusCode >= 500 {
		res.Status = missingStatus(dep.Optional)
	}
	return res
}

// PortChecker expects something to accept TCP connections on host:port.
type PortChecker struct{}

func (PortChecker) Check(dep Dep) Result {
	return dial(dep, dep.Name)
}

// RelayChecker dials the host of a ws:// or wss:// relay URL.
type RelayChecker struct{}

func (RelayChecker) Check(dep Dep) Result {
	u, err := url.Parse(dep.Name)
	if err != nil || u.Host == "" {
		return Result{Name: dep.Name, Type: dep.Type, Status: missingStatus(dep.Optional), Details: "invalid relay url"}
	}
	host := u.Host
	if u.Port() == "" {
		port := "443"
		if u.Scheme == "ws" {
			port = "80"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	return dial(dep, host)
}

// DirWriteChecker creates and removes a temp file in the directory.
type DirWriteChecker struct{}

func (DirWriteChecker) Check(dep Dep) Result {
	res := Result{Name: dep.Name, Type: dep.Type, Status: StatusOK, Details: "writable"}
	f, err := os.CreateTemp(filepath.Clean(dep.Name), ".shep-check-*")
	if err != nil {
		res.Status = missingStatus(dep.Optional)
		res.Details = err.Error()
		return res
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return res
}

func dial(dep Dep, addr string) Result {
	res := Result{Name: dep.Name, Type: dep.Type, Status: StatusOK, Details: "reachable"}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		res.Status = missingStatus(dep.Optional)
		res.Details = err.Error()
		return res
	}
	_ = conn.Close()
	return res
}

func missingStatus(optional bool) string {
	if optional {
		return StatusWarn
	}
	return StatusMissing
}
