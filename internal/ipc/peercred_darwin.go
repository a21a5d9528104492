//go:build darwin

package ipc

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// PeerCredentials holds the kernel-verified identity of an IPC peer.
type PeerCredentials struct {
	PID int
	UID uint32
	GID uint32
}

// GetPeerCredentials reads LOCAL_PEERPID/LOCAL_PEERCRED off conn, which
// must be a *net.UnixConn — the macOS equivalent of Linux's SO_PEERCRED.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, fmt.Errorf("ipc: not a unix connection")
	}

	raw, err := uc.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("ipc: get syscall conn: %w", err)
	}

	var pid int
	var uid, gid uint32
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		p, e := unix.GetsockoptInt(int(fd), unix.SOL_LOCAL, unix.LOCAL_PEERPID)
		if e != nil {
			credErr = fmt.Errorf("getsockopt LOCAL_PEERPID: %w", e)
			return
		}
		pid = p

		xcred, e := unix.GetsockoptXucred(int(fd), unix.SOL_LOCAL, unix.LOCAL_PEERCRED)
		if e != nil {
			credErr = fmt.Errorf("getsockopt LOCAL_PEERCRED: %w", e)
			return
		}
		uid = xcred.Uid
		if len(xcred.Groups) > 0 {
			gid = xcred.Groups[0]
		}
	}); err != nil {
		return nil, fmt.Errorf("ipc: control: %w", err)
	}
	if credErr != nil {
		return nil, credErr
	}

	return &PeerCredentials{PID: pid, UID: uid, GID: gid}, nil
}

// IdentityKey is the rate-limiter key for this peer: its kernel-verified
// UID.
func (p *PeerCredentials) IdentityKey() string {
	return strconv.FormatUint(uint64(p.UID), 10)
}
