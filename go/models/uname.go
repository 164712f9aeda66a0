package models

import "fmt"

type Uname struct {
	Sysname  string
	Nodename string
	Release  string
	Version  string
	Machine  string
}

func (u Uname) String() string {
	return fmt.Sprintf("%s %s %s %s", u.Sysname, u.Nodename, u.Release, u.Machine)
}

const kvmDevice = "/dev/kvm"

type HostInfo struct {
	Uname Uname
	// hardware virtualization device is usable
	KVM bool
}
