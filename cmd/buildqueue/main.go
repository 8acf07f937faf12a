package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/adrg/xdg"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/buildqueue/internal/config"
	"github.com/aristath/buildqueue/internal/events"
	"github.com/aristath/buildqueue/internal/orchestrator"
	"github.com/aristath/buildqueue/internal/persistence"
	"github.com/aristath/buildqueue/internal/tui"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run is main without process globals. It returns the exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("buildqueue", flag.ContinueOnError)
	fs.SetOutput(stderr)
	projectPath := fs.String("config", config.ProjectPath(), "project config file")
	headless := fs.Bool("headless", false, "run the queue without the terminal monitor")
	build := fs.String("build", "", "build the named job, wait for it and exit")
	initConfig := fs.Bool("init", false, "write a starter project config and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *initConfig {
		if _, err := config.Init(*projectPath); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Wrote %s\n", *projectPath)
		return 0
	}

	cfg, err := config.Load(config.GlobalPath(), *projectPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}

	historyPath, err := cfg.History.ResolvedPath()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	store, err := persistence.NewSQLiteStore(ctx, historyPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening build history: %v\n", err)
		return 1
	}
	defer store.Close()

	bus := events.NewEventBus()
	defer bus.Close()

	var opts []orchestrator.Option
	if *build != "" {
		opts = append(opts, orchestrator.WithoutQueueSnapshot())
	}
	srv, err := orchestrator.New(cfg, store, bus, opts...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// A one-shot build leaves the saved queue for the next full run.
	if *build == "" {
		if n, err := srv.Restore(ctx); err != nil {
			log.Printf("WARNING: %v", err)
		} else if n > 0 {
			log.Printf("Restored %d queued builds", n)
		}
	}

	srvCtx, cancelSrv := context.WithCancel(context.Background())
	srvDone := make(chan error, 1)
	go func() { srvDone <- srv.Run(srvCtx) }()

	status := 0
	switch {
	case *build != "":
		status = buildOnce(ctx, srv, *build, stdout, stderr)
	case *headless:
		log.Printf("Serving %d jobs on %d nodes", srv.Catalog().Len(), len(srv.Registry().Computers()))
		<-ctx.Done()
		log.Println("Shutdown signal received, cleaning up...")
	default:
		status = monitor(ctx, srv, bus, stderr)
	}

	cancelSrv()
	select {
	case err := <-srvDone:
		if err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case <-time.After(shutdownTimeout):
		log.Println("Shutdown timeout exceeded, forcing exit")
	}
	log.Println("Shutdown complete")
	return status
}

// buildOnce runs one build and reports its outcome.
func buildOnce(ctx context.Context, srv *orchestrator.Server, name string, stdout, stderr io.Writer) int {
	b, err := srv.BuildAndWait(ctx, name)
	if b != nil {
		stdout.Write(b.Result().Stdout)
		stderr.Write(b.Result().Stderr)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintf(stderr, "%s: interrupted\n", name)
		} else {
			fmt.Fprintf(stderr, "%s failed: %v\n", name, err)
		}
		return 1
	}
	fmt.Fprintf(stdout, "%s: success (build %s on %s)\n", name, b.ID(), b.Node())
	return 0
}

// monitor runs the terminal UI until the user quits or a signal arrives.
func monitor(ctx context.Context, srv *orchestrator.Server, bus *events.EventBus, stderr io.Writer) int {
	// Logs would corrupt the alt screen, so they go to a file meanwhile.
	if logPath, err := xdg.StateFile(filepath.Join("buildqueue", "buildqueue.log")); err == nil {
		if f, err := tea.LogToFile(logPath, "buildqueue"); err == nil {
			defer f.Close()
			defer log.SetOutput(stderr)
		}
	}

	p := tea.NewProgram(tui.New(bus, srv), tea.WithAltScreen())
	errChan := make(chan error, 1)
	go func() {
		_, err := p.Run()
		errChan <- err
	}()

	select {
	case err := <-errChan:
		// Normal TUI exit (user pressed 'q')
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		log.Println("Shutdown signal received, cleaning up...")
		p.Quit()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		select {
		case err := <-errChan:
			if err != nil {
				log.Printf("TUI exit error: %v", err)
			}
		case <-shutdownCtx.Done():
			log.Println("Shutdown timeout exceeded, forcing exit")
		}
	}
	return 0
}
