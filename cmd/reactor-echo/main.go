// Command reactor-echo starts a reactor listening on a TCP address and
// echoes every frame it receives back to its sender. It plays the same
// demonstrative role the teacher's cmd/ublk-mem plays for the memory
// backend: the smallest program that exercises the whole stack end to
// end, wired up the way a real service would be.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/kestrelnet/reactor"
	"github.com/kestrelnet/reactor/internal/logging"
	"github.com/kestrelnet/reactor/service"
)

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:9000", "TCP address to listen on")
		verbose    = flag.Bool("v", false, "Verbose output")
		noDelay    = flag.Bool("nodelay", true, "Set TCP_NODELAY on accepted connections")
		cpuAffinty = flag.Int("cpu", -1, "Pin the reactor's event loop to this CPU (-1 disables pinning)")
	)
	flag.Parse()

	// automaxprocs keeps GOMAXPROCS honest under a cgroup CPU quota, same
	// as the teacher's runner pool does when picking how many reactors to
	// spin up per host.
	undo, err := maxprocs.Set()
	defer undo()
	if err != nil {
		fmt.Fprintf(os.Stderr, "reactor-echo: maxprocs: %v\n", err)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	config := reactor.DefaultConfig()
	config.Logger = logger
	config.TCPNoDelay = *noDelay
	config.CPUAffinity = *cpuAffinty

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	config.Context = ctx

	r, err := reactor.StartReactor(config)
	if err != nil {
		logger.Error("failed to start reactor", "error", err)
		os.Exit(1)
	}

	// EchoHandler needs the reactor itself as its ChannelWriter and
	// allocator, so it's wired in after StartReactor via SetHandler
	// rather than through Config — the reactor can't reference itself
	// as a collaborator until it exists.
	echo := service.NewEchoHandler(r, r)
	if err := r.SetHandler(echo); err != nil {
		logger.Error("failed to install handler", "error", err)
		os.Exit(1)
	}

	listenerID, err := r.RegisterAccept("tcp", *addr, config.DefaultSocketOptions())
	if err != nil {
		logger.Error("failed to listen", "addr", *addr, "error", err)
		os.Exit(1)
	}

	logger.Info("reactor-echo listening", "addr", *addr, "listener_id", listenerID)
	fmt.Printf("echoing on %s (listener %d)\n", *addr, listenerID)
	fmt.Printf("Press Ctrl+C to stop...\n")
	fmt.Printf("Send SIGUSR1 (kill -USR1 %d) to dump goroutine stacks\n", os.Getpid())

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n", buf[:n])
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	cancel()

	shutdownDone := make(chan struct{})
	go func() {
		if err := r.Shutdown(); err != nil {
			logger.Error("error shutting down reactor", "error", err)
		}
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
	case <-time.After(2 * time.Second):
		logger.Info("shutdown timeout, forcing exit")
	}

	snap := r.Metrics()
	logger.Info("final metrics",
		"reads", snap.ReadOps, "writevs", snap.WritevOps,
		"accepts", snap.AcceptOps, "frames_parsed", snap.FramesParsed)

	os.Exit(0)
}
