package supervisor

import "syscall"

// sysProcAttr puts the child in its own process group so signals reach
// the whole service tree. Pdeathsig is a Linux-only safety net: if the
// orchestrator dies unexpectedly, the kernel SIGTERMs the direct child.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
