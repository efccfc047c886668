// Command linkbox is an interactive terminal client for the LinkBox
// assistant.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/linkbox/internal/adapter/agentclient"
	"github.com/xiaot623/gogo/linkbox/internal/config"
	"github.com/xiaot623/gogo/linkbox/internal/credentials"
	"github.com/xiaot623/gogo/linkbox/internal/domain"
	"github.com/xiaot623/gogo/linkbox/internal/logger"
	"github.com/xiaot623/gogo/linkbox/internal/notify"
	"github.com/xiaot623/gogo/linkbox/internal/repository"
	"github.com/xiaot623/gogo/linkbox/internal/service"
	"github.com/xiaot623/gogo/linkbox/internal/tasks"
)

const helpText = `Type a message and press Enter to send.
Commands:
  /cancel              stop the current answer
  /preview <url> [note] generate a resource preview in the background
  /tasks [clear]       list background tasks, or drop finished ones
  /mode agent|chat     switch streaming endpoint
  /login <token>       sign in with a bearer token
  /logout              sign out and forget this user's conversation
  /history             print the conversation
  /clear               delete the conversation
  /quit                exit`

type app struct {
	out     io.Writer
	log     *logger.Logger
	creds   *credentials.Store
	conv    *service.Conversation
	tasks   *tasks.Registry
	preview *tasks.PreviewRunner
}

func main() {
	configPath := flag.String("config", "", "directory containing linkbox.yaml")
	token := flag.String("token", "", "bearer token (overrides auth.token)")
	mode := flag.String("mode", "", "streaming endpoint: agent or chat")
	flag.Parse()

	cfg, err := config.LoadWithPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *token != "" {
		cfg.Auth.Token = *token
	}
	if *mode != "" {
		cfg.Stream.Protocol = *mode
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("linkbox exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	out := os.Stdout
	sink := notify.Multi(notify.NewWriterSink(out), notify.NewLogSink(log))

	creds := credentials.NewStore()
	if cfg.Auth.Token != "" {
		if _, err := creds.Set(cfg.Auth.Token); err != nil {
			return fmt.Errorf("invalid auth.token: %w", err)
		}
	}

	kv, closeStore, err := repository.Open(cfg.History.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer closeStore()

	client := agentclient.NewClient(cfg.API, creds, log)
	registry := tasks.NewRegistry()

	a := &app{
		out:   out,
		log:   log,
		creds: creds,
		conv: service.NewConversation(client, creds, service.NewHistory(kv, log), service.ConversationOptions{
			Protocol: domain.Protocol(cfg.Stream.Protocol),
			Timeout:  cfg.Stream.Timeout(),
			Sink:     sink,
			Logger:   log,
		}),
		tasks: registry,
		preview: tasks.NewPreviewRunner(registry, client, tasks.PreviewOptions{
			StepDelay:      cfg.Tasks.StepDelay(),
			RequestTimeout: cfg.API.RequestTimeout(),
			Sink:           sink,
			Logger:         log,
		}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.conv.Load(ctx)
	printHistory(out, a.conv.Messages())
	a.conv.Subscribe(newRenderer(out).render)

	if id, ok := creds.Identity(); ok {
		fmt.Fprintf(out, "Signed in as %s.\n", id.Username)
	} else {
		fmt.Fprintln(out, "Not signed in; use /login <token>.")
	}
	fmt.Fprintln(out, helpText)

	lines := make(chan string)
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	// The stdin reader cannot be interrupted; it ends with the process.
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			log.Warn("failed to read input", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		for {
			select {
			case <-interrupts:
				if a.conv.Cancel() {
					continue
				}
				fmt.Fprintln(out, "\nInterrupted")
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if quit := a.handle(gctx, strings.TrimSpace(line)); quit {
					fmt.Fprintln(out, "Bye!")
					return nil
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		a.conv.Cancel()
		a.conv.Wait()
		a.preview.Wait()
		return nil
	})
	return g.Wait()
}

// handle runs one input line and reports whether the client should exit.
func (a *app) handle(ctx context.Context, input string) bool {
	if input == "" {
		return false
	}
	if !strings.HasPrefix(input, "/") {
		if err := a.conv.Send(ctx, input); err != nil {
			fmt.Fprintf(a.out, "cannot send: %v\n", err)
		}
		return false
	}

	cmd, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(a.out, helpText)
	case "/cancel":
		if !a.conv.Cancel() {
			fmt.Fprintln(a.out, "nothing to cancel")
		}
	case "/preview":
		link, note, _ := strings.Cut(rest, " ")
		if link == "" {
			fmt.Fprintln(a.out, "usage: /preview <url> [note]")
			return false
		}
		// Previews outlive the current prompt but not the process.
		id := a.preview.Start(ctx, link, strings.TrimSpace(note))
		fmt.Fprintf(a.out, "preview task %s started\n", id[:8])
	case "/tasks":
		if rest == "clear" {
			fmt.Fprintf(a.out, "removed %d finished tasks\n", a.tasks.ClearCompleted())
			return false
		}
		printTasks(a.out, a.tasks.List())
	case "/mode":
		if err := a.conv.SetProtocol(domain.Protocol(rest)); err != nil {
			fmt.Fprintf(a.out, "cannot switch mode: %v\n", err)
			return false
		}
		fmt.Fprintf(a.out, "using the %s endpoint\n", rest)
	case "/login":
		id, err := a.creds.Set(rest)
		if err != nil {
			fmt.Fprintf(a.out, "login failed: %v\n", err)
			return false
		}
		a.conv.SwitchIdentity(ctx)
		fmt.Fprintf(a.out, "signed in as %s\n", id.Username)
		printHistory(a.out, a.conv.Messages())
	case "/logout":
		a.creds.Clear()
		a.conv.SwitchIdentity(ctx)
		fmt.Fprintln(a.out, "signed out")
	case "/history":
		printHistory(a.out, a.conv.Messages())
	case "/clear":
		a.conv.Clear(ctx)
		fmt.Fprintln(a.out, "conversation cleared")
	default:
		fmt.Fprintf(a.out, "unknown command %s; try /help\n", cmd)
	}
	return false
}
