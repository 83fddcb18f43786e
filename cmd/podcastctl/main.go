package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-podcast/internal/config"
	"github.com/loqalabs/loqa-podcast/internal/pipeline"
	"github.com/loqalabs/loqa-podcast/internal/podcast"
	"github.com/loqalabs/loqa-podcast/internal/taskstore"
	"github.com/loqalabs/loqa-podcast/internal/tracker"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'generate', 'status', 'validate' or 'version'")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "generate":
		err = runGenerate(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "podcast.yaml", "Path to configuration file")
	fs.Parse(args)

	if _, err := config.Load(*configPath); err != nil {
		return err
	}
	fmt.Println("config valid")
	return nil
}

func runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	var (
		configPath  = fs.String("config", "", "Path to configuration file")
		topic       = fs.String("topic", "", "Podcast topic")
		language    = fs.String("language", "", "Locale such as en-US; detected from the topic when empty")
		style       = fs.String("style", "", "Conversation style")
		description = fs.String("description", "", "Extra background for the script")
		seed        = fs.Int64("seed", 0, "Voice selection seed; overrides config when non-zero")
		verbose     = fs.Bool("v", false, "Log pipeline activity to stderr")
	)
	fs.Parse(args)
	if *topic == "" {
		return fmt.Errorf("-topic is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *seed != 0 {
		cfg.Voices.Seed = *seed
	}
	logger := newLogger(*verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := taskstore.Open(ctx, cfg.TaskStore, logger)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	pipe, err := pipeline.FromConfig(ctx, cfg, store, progressPrinter{}, logger)
	if err != nil {
		return err
	}

	req := podcast.Request{Topic: *topic, Language: *language, Style: *style, Description: *description}
	taskID := uuid.NewString()
	if err := store.CreateTask(ctx, taskstore.Task{ID: taskID, Status: taskstore.StatusPending, Request: req}); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	fmt.Printf("task %s\n", taskID)

	res, runErr := pipe.Run(ctx, taskID, req)
	if res.Podcast.ID != "" {
		printPodcast(res)
	}
	return runErr
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	id := fs.String("id", "", "Task id")
	fs.Parse(args)
	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, err := taskstore.Open(ctx, cfg.TaskStore, newLogger(false))
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	task, err := store.ReadTask(ctx, *id)
	if err != nil {
		return err
	}
	fmt.Printf("task %s: %s %d%% %s\n", task.ID, task.Status, task.Progress, task.ProgressMessage)
	if task.ErrorMessage != "" {
		fmt.Printf("error: %s\n", task.ErrorMessage)
	}
	if task.WarningMessage != "" {
		fmt.Printf("warnings: %s\n", task.WarningMessage)
	}
	if task.PodcastID != "" {
		fmt.Printf("podcast: %s\n", task.PodcastID)
	}

	events, err := store.ListTaskEvents(ctx, task.ID, 500)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTATUS\tPROGRESS\tMESSAGE")
	for _, evt := range events {
		fmt.Fprintf(tw, "%s\t%s\t%d%%\t%s\n", evt.CreatedAt.Format("15:04:05.000"), evt.Status, evt.Progress, evt.Message)
	}
	return tw.Flush()
}

// progressPrinter echoes every tracker change as the task timeline.
type progressPrinter struct{}

var _ tracker.Notifier = progressPrinter{}

func (progressPrinter) Notify(_ context.Context, task taskstore.Task) {
	line := fmt.Sprintf("[%3d%%] %-11s %s", task.Progress, task.Status, task.ProgressMessage)
	if task.ErrorMessage != "" {
		line += ": " + task.ErrorMessage
	}
	fmt.Println(line)
}

func printPodcast(res pipeline.Result) {
	meta := res.Podcast.Metadata
	fmt.Printf("\n%s (episode %d: %s)\n", meta.Title, meta.EpisodeNumber, meta.EpisodeTitle)
	fmt.Printf("language %s, duration %.2fs\n", meta.Language, res.Podcast.Duration)
	if res.Podcast.AudioPath != "" {
		fmt.Printf("audio %s\n", res.Podcast.AudioPath)
	}
	if res.Podcast.CoverPath != "" {
		fmt.Printf("cover %s\n", res.Podcast.CoverPath)
	}
	ids := make([]string, 0, len(res.Assignment))
	for id := range res.Assignment {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("voice %s -> %s\n", id, res.Assignment[id].Name)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\n#\tSPEAKER\tSTART\tEND\tTEXT")
	for _, turn := range res.Podcast.Turns {
		start, end := "-", "-"
		if turn.Start != nil && turn.End != nil {
			start, end = fmt.Sprintf("%.3f", *turn.Start), fmt.Sprintf("%.3f", *turn.End)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", turn.Ordinal, turn.SpeakerID, start, end, truncate(turn.Text, 60))
	}
	tw.Flush()
	for _, w := range res.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
