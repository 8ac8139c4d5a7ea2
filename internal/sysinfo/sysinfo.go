// Package sysinfo gathers the host description sent at check-in.
package sysinfo

import (
	"os"
	"os/user"
	"runtime"
	"strings"
)

// AgentType identifies the agent flavour to the server.
const (
	TypeCompiled = 0
	TypeStub     = 1
)

// Info is the check-in host description.
type Info struct {
	Type int    `json:"type" cbor:"type"`
	User string `json:"user" cbor:"user"`
	Host string `json:"host" cbor:"host"`
	PID  int    `json:"pid" cbor:"pid"`
	Cwd  string `json:"cwd" cbor:"cwd"`
	OS   string `json:"os" cbor:"os"`
	Arch string `json:"arch" cbor:"arch"`
}

// Collect describes the running process and its host.  Fields that
// cannot be determined are left empty.
func Collect() Info {
	info := Info{
		Type: TypeCompiled,
		User: currentUser(),
		PID:  os.Getpid(),
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}
	if h, err := os.Hostname(); err == nil {
		info.Host = h
	}
	if wd, err := os.Getwd(); err == nil {
		info.Cwd = wd
	}
	return info
}

// currentUser prefers the login environment, like a shell prompt
// would, and falls back to the account database.
func currentUser() string {
	for _, key := range []string{"USER", "USERNAME", "LOGNAME"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}
