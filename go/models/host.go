//go:build linux || darwin || freebsd || netbsd || openbsd

package models

import (
	"golang.org/x/sys/unix"
)

// ProbeHost fills in what the host can offer the virtual machine.
func ProbeHost() (*HostInfo, error) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return nil, err
	}
	h := &HostInfo{
		Uname: Uname{
			Sysname:  unix.ByteSliceToString(u.Sysname[:]),
			Nodename: unix.ByteSliceToString(u.Nodename[:]),
			Release:  unix.ByteSliceToString(u.Release[:]),
			Version:  unix.ByteSliceToString(u.Version[:]),
			Machine:  unix.ByteSliceToString(u.Machine[:]),
		},
	}
	h.KVM = unix.Access(kvmDevice, unix.R_OK|unix.W_OK) == nil
	return h, nil
}
