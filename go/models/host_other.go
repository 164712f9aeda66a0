//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package models

import (
	"runtime"
)

func ProbeHost() (*HostInfo, error) {
	return &HostInfo{Uname: Uname{Sysname: runtime.GOOS, Machine: runtime.GOARCH}}, nil
}
