//go:build !linux

package etcdtest

import "syscall"

func setParentDeathSignal(*syscall.SysProcAttr) {}
