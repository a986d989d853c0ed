package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/promptqueue/internal/protocol"
)

var (
	submitID   string
	submitUser string
	submitName string
)

var submitCmd = &cobra.Command{
	Use:   "submit <prompt...>",
	Short: "Queue a prompt and print the response when it completes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		return runSubmit(ctx, cmd.OutOrStdout(), strings.Join(args, " "))
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitID, "id", "", "request id (default: random uuid)")
	submitCmd.Flags().StringVar(&submitUser, "user", "cli", "user id sent with the prompt")
	submitCmd.Flags().StringVar(&submitName, "name", "", "display name used in the response title")
}

func runSubmit(ctx context.Context, out io.Writer, prompt string) error {
	client, err := newAPIClient(baseURL)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(submitID)
	if id == "" {
		id = uuid.NewString()
	}

	// Subscribe first so no event between enqueue and connect is lost.
	wsURL, err := wsURLForRequest(client.baseURL, id)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	events := make(chan protocol.Event, 64)
	readErrCh := make(chan error, 1)
	go readLoop(conn, events, readErrCh)

	res, err := client.submit(ctx, submitRequest{ID: id, Prompt: prompt, UserID: submitUser, DisplayName: submitName})
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	fmt.Fprintf(out, "queued %s at position %d\n", res.RequestID, res.Position)

	f := &follower{out: out, pages: newPageSet()}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErrCh:
			if done, ferr := f.drain(events); done {
				return ferr
			}
			f.pages.print(f.out)
			return fmt.Errorf("ws read: %w", err)
		case evt := <-events:
			if done, err := f.handle(evt); done {
				return err
			}
		}
	}
}

// follower renders one request's events.
type follower struct {
	out   io.Writer
	pages *pageSet
}

// handle reports done once a terminal event has been rendered.
func (f *follower) handle(evt protocol.Event) (bool, error) {
	if verbose {
		fmt.Fprintf(errOut, "promptctl: %s %s\n", evt.Type, evt.UnitID)
	}
	switch evt.Type {
	case protocol.TypeQueuePosition:
		fmt.Fprintf(f.out, "waiting: %d requests ahead\n", evt.Ahead)
	case protocol.TypeSurfaceCreated:
		fmt.Fprintf(f.out, "processing: %s\n", evt.Title)
	case protocol.TypePagePublished, protocol.TypePageUpdated:
		f.pages.set(evt.Index, evt.Text)
	case protocol.TypeWorkingClosed:
		f.pages.print(f.out)
		return true, nil
	case protocol.TypeRequestFailed:
		f.pages.print(f.out)
		return true, fmt.Errorf("request failed: %s", evt.Message)
	}
	return false, nil
}

// drain handles every event already buffered. readLoop sends events before
// it reports a read error, so nothing it read is lost.
func (f *follower) drain(events <-chan protocol.Event) (bool, error) {
	for {
		select {
		case evt := <-events:
			if done, err := f.handle(evt); done {
				return true, err
			}
		default:
			return false, nil
		}
	}
}

func readLoop(conn *websocket.Conn, events chan<- protocol.Event, readErrCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		evt, err := protocol.ParseEvent(data)
		if err != nil {
			if verbose {
				fmt.Fprintf(errOut, "promptctl: skipping malformed event: %v\n", err)
			}
			continue
		}
		events <- evt
		if evt.Terminal() {
			return
		}
	}
}

// pageSet keeps the latest text of each page by index.
type pageSet struct {
	pages []string
}

func newPageSet() *pageSet { return &pageSet{} }

func (p *pageSet) set(index int, text string) {
	for len(p.pages) <= index {
		p.pages = append(p.pages, "")
	}
	p.pages[index] = text
}

func (p *pageSet) print(out io.Writer) {
	for i, page := range p.pages {
		if len(p.pages) > 1 {
			fmt.Fprintf(out, "--- page %d/%d ---\n", i+1, len(p.pages))
		}
		fmt.Fprintln(out, page)
	}
}
