// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

// Command tcpcat connects to a TCP server, copies stdin to it and prints
// whatever it sends back, driving the connection from a single goroutine.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"code.hybscloud.com/tcpsync/internal/log"
	"github.com/urfave/cli/v3"
)

const (
	timeoutFlag   = "timeout"
	syncFlag      = "sync"
	nodelayFlag   = "nodelay"
	keepaliveFlag = "keepalive"
	quitFlag      = "quit-on-eof"
	verboseFlag   = "verbose"

	defaultTimeoutMillis = 5000
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newCommand(os.Stdin, os.Stdout).Run(ctx, os.Args)
	stop()
	if err != nil {
		log.ErrorMsg("%s\n", err)
		os.Exit(1)
	}
}

func newCommand(in io.Reader, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "tcpcat",
		Usage:     "netcat-like TCP client on a single-threaded event loop",
		ArgsUsage: "host:port",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args()
			if args.Len() != 1 {
				return fmt.Errorf("must provide exactly one argument, got %d (%s)", args.Len(), strings.Join(args.Slice(), ", "))
			}

			cfg := &config{
				Target:    args.Get(0),
				Timeout:   time.Duration(cmd.Int(timeoutFlag)) * time.Millisecond,
				Sync:      cmd.Bool(syncFlag),
				NoDelay:   cmd.Bool(nodelayFlag),
				KeepAlive: time.Duration(cmd.Int(keepaliveFlag)) * time.Second,
				QuitOnEOF: cmd.Bool(quitFlag),
				Verbose:   cmd.Bool(verboseFlag),
			}
			if errors := cfg.Validate(); len(errors) > 0 {
				log.ErrorMsg("Argument validation errors:\n")
				for _, err := range errors {
					log.ErrorMsg(" - %s\n", err)
				}
				return fmt.Errorf("exiting")
			}

			return run(ctx, cfg, in, out)
		},
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    timeoutFlag,
				Aliases: []string{"t"},
				Usage:   "Connect and write stall timeout in milliseconds",
				Value:   defaultTimeoutMillis,
			},
			&cli.BoolFlag{
				Name:  syncFlag,
				Usage: "Wait for the peer to acknowledge every write",
			},
			&cli.BoolFlag{
				Name:  nodelayFlag,
				Usage: "Disable Nagle coalescing",
			},
			&cli.IntFlag{
				Name:  keepaliveFlag,
				Usage: "Keep-alive idle time in seconds, 0 disables",
			},
			&cli.BoolFlag{
				Name:    quitFlag,
				Aliases: []string{"q"},
				Usage:   "Close the connection once stdin ends",
			},
			&cli.BoolFlag{
				Name:    verboseFlag,
				Aliases: []string{"v"},
				Usage:   "Trace connection events",
			},
		},
	}
}
