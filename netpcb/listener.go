// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package netpcb

import (
	"errors"
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

const listenBacklog = 16

// Listener accepts connections on the loop and hands each established
// handle to its accept callback.
type Listener struct {
	loop   *Loop
	fd     int
	addr   netip.AddrPort
	accept func(*PCB)
}

// Listen binds addr and starts accepting. Port 0 picks a free port; see
// Addr.
func Listen(loop *Loop, addr netip.AddrPort, accept func(*PCB)) (*Listener, error) {
	family, sa := sockaddr(addr)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	ln := &Listener{loop: loop, fd: fd, addr: addrPort(bound), accept: accept}
	loop.lns[fd] = ln
	return ln, nil
}

// Addr returns the bound address.
func (ln *Listener) Addr() netip.AddrPort {
	return ln.addr
}

// Close stops accepting. Handles already accepted stay open.
func (ln *Listener) Close() error {
	if ln.fd < 0 {
		return nil
	}
	delete(ln.loop.lns, ln.fd)
	err := unix.Close(ln.fd)
	ln.fd = -1
	return err
}

func (ln *Listener) acceptPending() {
	for ln.fd >= 0 {
		nfd, sa, err := unix.Accept4(ln.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED) {
				continue
			}
			return
		}
		local := ln.addr
		if lsa, err := unix.Getsockname(nfd); err == nil {
			local = addrPort(lsa)
		}
		ln.accept(newAccepted(ln.loop, nfd, local, addrPort(sa)))
	}
}
