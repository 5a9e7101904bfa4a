//go:build linux

package etcdtest

import "syscall"

// setParentDeathSignal TERMs etcd if the test process dies before stopping it.
func setParentDeathSignal(attr *syscall.SysProcAttr) { attr.Pdeathsig = syscall.SIGTERM }
