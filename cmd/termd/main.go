// Command termd is the multiplexing terminal server's entry point.
// It does nothing but parse the flavor
// argument, load configuration, construct the Listener/Reaper/Monitor
// singletons once, and run the accept loop — all the logic those
// singletons drive lives in internal/.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ptyhub/termd/internal/config"
	"github.com/ptyhub/termd/internal/ident"
	"github.com/ptyhub/termd/internal/listener"
	"github.com/ptyhub/termd/internal/monitor"
	"github.com/ptyhub/termd/internal/protocol"
	"github.com/ptyhub/termd/internal/reaper"
	"github.com/ptyhub/termd/internal/scheduler"
	"github.com/ptyhub/termd/internal/wire"
)

// flavor selects how the process obtains its listening socket.
type flavor string

const (
	flavorStandalone flavor = "standalone"
	flavorSystemd    flavor = "systemd"
	flavorPersistent flavor = "persistent"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "termd [standalone|systemd|persistent]",
		Short: "multiplexing terminal server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := flavorStandalone
			if len(args) == 1 {
				f = flavor(args[0])
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return run(f, cfg)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "termd:", err)
		os.Exit(1)
	}
}

func run(f flavor, cfg config.Config) error {
	l := listener.New(f == flavorStandalone)

	rp := reaper.New(reaper.NewOSWaiter())
	go rp.Run()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon := monitor.New(monitor.Chain{}, l, nil)
	mon.Restart(ctx)

	switch f {
	case flavorPersistent:
		return serveOne(ctx, l, stdioConn{})
	case flavorSystemd:
		fd := os.NewFile(3, "termd-listener")
		ln, err := net.FileListener(fd)
		if err != nil {
			return fmt.Errorf("inherit systemd listener: %w", err)
		}
		return acceptLoop(ctx, l, ln)
	default:
		ln, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			return fmt.Errorf("listen on %q: %w", cfg.Listen, err)
		}
		return acceptLoop(ctx, l, ln)
	}
}

func acceptLoop(ctx context.Context, l *listener.Listener, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		l.HandleInterrupt()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				waitForExit(l)
				return nil
			default:
				return err
			}
		}
		go func() {
			if err := serveOne(ctx, l, conn); err != nil {
				_ = err // connection-level errors close the descriptor and return normally
			}
		}()
	}
}

func waitForExit(l *listener.Listener) {
	for i := 0; i < 100 && !l.ShouldExit(); i++ {
		time.Sleep(50 * time.Millisecond)
	}
}

// serveOne drives one accepted connection through handshake and framing
// until it closes, registering it as a client in l on its first
// Client-class frame. Attribute-map parsing and terminal attachment are
// internal/connection's job once a deployment wires a real terminal
// registry in front of this minimal CLI-level dispatch.
func serveOne(ctx context.Context, l *listener.Listener, rwc io.ReadWriteCloser) error {
	defer rwc.Close()

	sched := scheduler.New(&scheduler.WriterSink{W: rwc})
	go sched.Run()
	defer sched.Stop("connection closed")

	selfID := ident.New()
	clientID := ident.Nil

	machine := protocol.New(protocol.VariantServer, wire.MaxBodyLen, func(command uint32, body []byte) error {
		class := wire.Class(command >> 24)
		switch class {
		case wire.ClassTerm:
			prefix, _, err := wire.ParsePrefix(class, body)
			if err != nil {
				return err
			}
			destID, err := ident.FromBytes(prefix.Dest[:])
			if err != nil {
				return err
			}
			l.ForwardToTerm(destID, protocol.EncodeFrame(command, body))
		case wire.ClassServer:
			prefix, _, err := wire.ParsePrefix(class, body)
			if err != nil {
				return err
			}
			destID, err := ident.FromBytes(prefix.Dest[:])
			if err != nil {
				return err
			}
			l.ForwardToServer(destID, protocol.EncodeFrame(command, body))
		case wire.ClassClient:
			if clientID.IsNil() {
				clientID = ident.New()
				l.RegisterClient(&listener.ClientInfo{ID: clientID, Sched: sched}, ident.Nil)
			}
		}
		return nil
	})

	helloBody := append([]byte{}, selfID.Bytes()...)
	sched.Submit(protocol.EncodeFrame(uint32(wire.ClassPlain)<<24|wire.CmdHello, helloBody), true)

	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		n, err := rwc.Read(buf)
		if n > 0 {
			if ferr := machine.Feed(buf[:n]); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if !clientID.IsNil() {
				l.UnregisterClient(clientID, nil)
			}
			return err
		}
	}
}

// stdioConn adapts stdin/stdout into one io.ReadWriteCloser for the
// Persistent flavor.
type stdioConn struct{}

func (stdioConn) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioConn) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdioConn) Close() error {
	os.Stdin.Close()
	return os.Stdout.Close()
}
