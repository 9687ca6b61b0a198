// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package main

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"

	"code.hybscloud.com/tcpsync"
)

// config is the validated command line.
type config struct {
	Target    string
	Timeout   time.Duration
	Sync      bool
	NoDelay   bool
	KeepAlive time.Duration
	QuitOnEOF bool
	Verbose   bool
}

// Validate returns every problem with the configuration.
func (c *config) Validate() []error {
	var errs []error
	if _, port, err := net.SplitHostPort(c.Target); err != nil {
		errs = append(errs, fmt.Errorf("target %q: %w", c.Target, err))
	} else if p, err := strconv.ParseUint(port, 10, 16); err != nil || p == 0 {
		errs = append(errs, fmt.Errorf("target %q: invalid port %q", c.Target, port))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %v", c.Timeout))
	}
	if c.KeepAlive < 0 {
		errs = append(errs, fmt.Errorf("keep-alive idle time must not be negative, got %v", c.KeepAlive))
	}
	return errs
}

// options translates the configuration into connection options.
func (c *config) options(trace tcpsync.Tracer) []tcpsync.Option {
	return []tcpsync.Option{
		tcpsync.WithTimeout(c.Timeout),
		tcpsync.WithSync(c.Sync),
		tcpsync.WithTracer(trace),
	}
}

// resolve turns the target into an address, preferring IPv4.
func (c *config) resolve(ctx context.Context) (netip.AddrPort, error) {
	host, port, err := net.SplitHostPort(c.Target)
	if err != nil {
		return netip.AddrPort{}, err
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("port %q: %w", port, err)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr, uint16(p)), nil
	}
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("resolving %s: %w", host, err)
	}
	best := addrs[0]
	for _, a := range addrs {
		if a.Is4() || a.Is4In6() {
			best = a
			break
		}
	}
	return netip.AddrPortFrom(best.Unmap(), uint16(p)), nil
}
