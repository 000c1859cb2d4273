package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"ruledeck/internal/backend"
	"ruledeck/internal/config"
	"ruledeck/internal/forge"
	"ruledeck/internal/git"
	"ruledeck/internal/notify"
	"ruledeck/internal/publish"
	"ruledeck/internal/schema"
	"ruledeck/internal/session"
	"ruledeck/internal/tui"
)

var version = "dev"

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ruledeck [options]\n\n")
		fmt.Fprintf(os.Stderr, "ruledeck edits decision tables served by a rule backend and publishes\n")
		fmt.Fprintf(os.Stderr, "them to git as a branch plus pull request.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  ruledeck                                   # Start the TUI\n")
		fmt.Fprintf(os.Stderr, "  ruledeck --list                            # List decision tables\n")
		fmt.Fprintf(os.Stderr, "  ruledeck --publish pricing.xlsx            # Save and publish without the TUI\n")
		fmt.Fprintf(os.Stderr, "  ruledeck -x pricing.xlsx -i '{\"age\":30}'   # Run the rules against an input\n")
	}

	config.RegisterFlags(pflag.CommandLine)
	listFlag := pflag.BoolP("list", "l", false, "List decision tables and exit")
	publishFlag := pflag.StringP("publish", "p", "", "Publish the named table headlessly")
	executeFlag := pflag.StringP("execute", "x", "", "Execute the named table's rules")
	inputFlag := pflag.StringP("input", "i", "{}", "JSON input for --execute")
	versionFlag := pflag.BoolP("version", "V", false, "Print version information")
	helpFlag := pflag.BoolP("help", "h", false, "Show this help message")
	pflag.Parse()

	if *helpFlag {
		pflag.Usage()
		return
	}

	if *versionFlag {
		fmt.Printf("ruledeck version %s\n", version)
		return
	}

	cfg, err := config.Load(pflag.CommandLine, os.Getenv)
	if err != nil {
		fatal(err)
	}

	headless := *listFlag || *publishFlag != "" || *executeFlag != ""
	log, closer, err := cfg.OpenLog(headless)
	if err != nil {
		fatal(err)
	}
	defer closer.Close()
	slog.SetDefault(log)

	client, err := backend.New(cfg.BackendURL, backend.WithTimeout(cfg.Timeout), backend.WithLogger(log))
	if err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch {
	case *listFlag:
		err = runList(ctx, client)
	case *executeFlag != "":
		err = runExecute(ctx, client, *executeFlag, *inputFlag)
	case *publishFlag != "":
		err = runPublish(ctx, cfg, client, log, *publishFlag)
	default:
		err = runTUI(cfg, client, log)
	}
	if err != nil {
		stop()
		closer.Close()
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func runList(ctx context.Context, client *backend.Client) error {
	files, err := client.ListTables(ctx)
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Println(f)
	}
	return nil
}

func runExecute(ctx context.Context, client *backend.Client, file, input string) error {
	var in map[string]any
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return fmt.Errorf("--input: %w", err)
	}
	out, err := client.ExecuteRules(ctx, file, in)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// app is the wired set of components shared by the TUI and headless modes.
type app struct {
	sched    *notify.LoopScheduler
	notes    *notify.Queue
	session  *session.Session
	publish  *publish.Machine
	services publish.Services
}

func wire(cfg config.Config, client *backend.Client, log *slog.Logger, opts ...notify.Option) (*app, error) {
	var namer git.Namer = client
	if cfg.BranchNames == "local" {
		namer = git.LocalNamer{}
	}
	fg, err := forge.Select(cfg.Forge, cfg.RepoURL, client)
	if err != nil {
		return nil, err
	}
	log.Debug("forge selected", "forge", fg.Kind(), "repo", cfg.RepoURL)

	sched := notify.NewLoopScheduler(64)
	notes := notify.New(sched, append([]notify.Option{notify.WithLogger(log)}, opts...)...)
	sess := session.New(notes, log)
	return &app{
		sched:   sched,
		notes:   notes,
		session: sess,
		publish: publish.New(sess, notes, publish.Options{
			RepoURL:    cfg.RepoURL,
			BaseBranch: cfg.BaseBranch,
			HomeBranch: cfg.HomeBranch,
			DraftPRs:   cfg.DraftPRs,
		}, log),
		services: publish.Services{
			Backend: client,
			Namer:   git.Checked{Namer: namer},
			Forge:   fg,
			Timeout: cfg.Timeout,
		},
	}, nil
}

func runTUI(cfg config.Config, client *backend.Client, log *slog.Logger) error {
	a, err := wire(cfg, client, log)
	if err != nil {
		return err
	}
	m := tui.New(tui.Deps{
		API:        client,
		Session:    a.session,
		Notes:      a.notes,
		Tasks:      a.sched.Tasks(),
		Schema:     schema.New(client, log),
		Publish:    a.publish,
		Services:   a.services,
		RepoURL:    cfg.RepoURL,
		HomeBranch: cfg.HomeBranch,
		Timeout:    cfg.Timeout,
		Log:        log,
	})
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

// runPublish loads, saves and publishes one table, printing every
// notification as it is pushed.
func runPublish(ctx context.Context, cfg config.Config, client *backend.Client, log *slog.Logger, file string) error {
	if err := cfg.RequireRepo(); err != nil {
		return err
	}
	a, err := wire(cfg, client, log, notify.WithObserver(printNote(os.Stdout)))
	if err != nil {
		return err
	}
	go func() {
		for fn := range a.sched.Tasks() {
			fn()
		}
	}()

	t, err := client.OpenTable(ctx, file)
	if err != nil {
		return err
	}
	if err := a.session.Load(file, t); err != nil {
		return err
	}
	if err := a.session.Save(ctx, client); err != nil {
		return err
	}

	d := &publish.Driver{
		Machine:  a.publish,
		Services: a.services,
		Log:      log,
		OnReset:  a.session.Unload,
	}
	return d.Run(ctx)
}

func printNote(w io.Writer) func(notify.Item) {
	return func(it notify.Item) {
		mark := "✓"
		if it.Kind == notify.Error {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s\n", mark, it.Message)
	}
}
