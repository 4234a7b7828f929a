// Blaze-watch mirrors a Blaze board in the terminal, redrawing on every
// realtime change.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/madhatter5501/blaze/client"
	"github.com/madhatter5501/blaze/kanban"
)

func main() {
	fs := pflag.NewFlagSet("blaze-watch", pflag.ExitOnError)
	server := fs.String("server", "http://localhost:8000", "Board server base URL")
	token := fs.String("token", "", "API token (default $KANBAN_API_TOKEN)")
	clientID := fs.String("client-id", "", "Client id sent with requests (default random)")
	verbose := fs.BoolP("verbose", "v", false, "Log connection events to stderr")
	_ = fs.Parse(os.Args[1:])

	if *token == "" {
		*token = os.Getenv("KANBAN_API_TOKEN")
	}
	if *clientID == "" {
		*clientID = "watch-" + uuid.NewString()[:8]
	}

	if err := run(*server, *token, *clientID, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(server, token, clientID string, verbose bool) error {
	var logOut io.Writer = io.Discard
	if verbose {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(logOut, nil))

	api, err := client.NewAPI(server, token, clientID)
	if err != nil {
		return err
	}

	view := client.NewView()
	syncer := client.NewSyncer(api, view, client.DefaultSyncConfig(), logger)

	var mu sync.Mutex
	status := client.StateDisconnected
	redraw := func() {
		mu.Lock()
		defer mu.Unlock()
		render(os.Stdout, view, server, status)
	}
	syncer.OnChange(redraw)
	syncer.OnState(func(s client.State) {
		mu.Lock()
		status = s
		mu.Unlock()
		redraw()
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := syncer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Println()
	return nil
}

func render(w io.Writer, view *client.View, server string, status client.State) {
	var b strings.Builder
	b.WriteString("\033[H\033[2J")
	fmt.Fprintf(&b, "Blaze board @ %s  [%s]  %s\n\n", server, status, time.Now().Format("15:04:05"))

	for _, col := range kanban.Columns {
		cards := view.Column(col)
		fmt.Fprintf(&b, "%s (%d)\n", col.Label(), len(cards))
		for _, c := range cards {
			marker := " "
			if c.IsOverdue(time.Now()) {
				marker = "!"
			}
			fmt.Fprintf(&b, "  %s [%-6s] %s\n", marker, c.Priority, c.Title)
		}
		b.WriteString("\n")
	}
	_, _ = io.WriteString(w, b.String())
}
