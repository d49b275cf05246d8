// Command checkout is an interactive terminal checkout for the tikiti
// marketplace: pick an event and tier, enter guest details or log in,
// receive the M-Pesa prompt on your phone and watch the confirmation
// land.  It drives the same purchase flow the web checkout uses.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/tikiti-ke/tikiti/internal/client"
	"github.com/tikiti-ke/tikiti/internal/purchase"
	"github.com/tikiti-ke/tikiti/internal/store"
)

func main() {
	baseURL := pflag.String("base-url", "http://localhost:8080", "marketplace API base URL")
	eventID := pflag.Uint64("event", 0, "event id to buy for (0 lists events and prompts)")
	email := pflag.String("email", "", "account email; omit for guest checkout")
	password := pflag.String("password", "", "account password")
	out := pflag.String("out", "", "where to save the ticket PDF (default ticket-<id>.pdf)")
	pflag.Parse()

	ctx := context.Background()
	cli := client.New(*baseURL, "")

	identity := purchase.Identity{}
	if *email != "" && *password != "" {
		if err := cli.Login(ctx, *email, *password); err != nil {
			log.Fatalf("login: %v", err)
		}
		identity = purchase.Identity{Authenticated: true, Email: *email}
		fmt.Printf("Logged in as %s\n", *email)
	}

	in := bufio.NewReader(os.Stdin)
	ev, err := pickEvent(ctx, cli, in, *eventID)
	if err != nil {
		log.Fatalf("pick event: %v", err)
	}
	fmt.Printf("\n%s — %s (%s)\n", ev.Title, ev.Venue, ev.StartsAt)

	done := make(chan struct{})
	sess := purchase.NewSession(ev.ID, ev.TicketTypes, identity,
		cli, cli, cli, store.NewMemory(), purchase.Config{},
		func() { close(done) })
	defer sess.Close()

	lines := readLines(in)
	for {
		snap := sess.Snapshot()
		switch snap.State {
		case purchase.StateSelection:
			stepSelection(ctx, sess, snap, ev.TicketTypes, lines)
		case purchase.StateDetails:
			stepDetails(ctx, sess, lines)
		case purchase.StatePayment:
			if !stepPayment(ctx, sess, lines) {
				return
			}
		case purchase.StateProcessing:
			stepProcessing(ctx, sess, lines)
		case purchase.StateError:
			if !stepError(sess, lines) {
				return
			}
		case purchase.StateSuccess:
			finish(ctx, cli, sess, *out, *email)
			select {
			case <-done:
			case <-time.After(10 * time.Second):
			}
			return
		}
	}
}

// pickEvent resolves the event to buy for, listing the catalogue when
// no id was given on the command line.
func pickEvent(ctx context.Context, cli *client.Client, in *bufio.Reader, id uint64) (*client.EventDetail, error) {
	if id != 0 {
		return cli.GetEvent(ctx, id)
	}
	events, err := cli.ListEvents(ctx)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("no upcoming events")
	}
	fmt.Println("Upcoming events:")
	for _, ev := range events {
		fmt.Printf("  [%d] %s — %s (%s)\n", ev.ID, ev.Title, ev.Venue, ev.StartsAt)
	}
	for {
		n, err := promptUint(in, "Event id: ")
		if err != nil {
			return nil, err
		}
		for i := range events {
			if events[i].ID == n {
				return &events[i], nil
			}
		}
		fmt.Println("No such event, try again.")
	}
}

func stepSelection(ctx context.Context, sess *purchase.Session, snap purchase.Snapshot,
	types []purchase.TicketType, lines <-chan string) {
	fmt.Println("\nTicket types:")
	for _, tt := range types {
		marker := " "
		if snap.Selected != nil && snap.Selected.ID == tt.ID {
			marker = "*"
		}
		fmt.Printf(" %s [%d] %-20s KES %d.%02d  (%d left)\n",
			marker, tt.ID, tt.Name, tt.PriceCents/100, tt.PriceCents%100, tt.Available)
	}
	fmt.Print("Tier id (enter keeps current): ")
	if line := <-lines; line != "" {
		id, err := strconv.ParseUint(line, 10, 64)
		if err != nil {
			fmt.Println("Not a number.")
			return
		}
		if err := sess.SelectTicketType(id); err != nil {
			fmt.Println(err)
			return
		}
	}
	fmt.Print("Quantity: ")
	if line := <-lines; line != "" {
		n, err := strconv.ParseUint(line, 10, 32)
		if err != nil {
			fmt.Println("Not a number.")
			return
		}
		if err := sess.SetQuantity(uint32(n)); err != nil {
			fmt.Println(err)
			return
		}
	}
	snap = sess.Snapshot()
	fmt.Printf("Total: KES %d.%02d\n", snap.TotalCents/100, snap.TotalCents%100)
	if err := sess.Confirm(ctx); err != nil {
		fmt.Println(err)
	}
}

func stepDetails(ctx context.Context, sess *purchase.Session, lines <-chan string) {
	fmt.Print("\nYour name: ")
	name := <-lines
	fmt.Print("Your email: ")
	email := <-lines
	if err := sess.SubmitDetails(ctx, name, email); err != nil {
		fmt.Println(sess.Snapshot().LastError)
	}
}

// stepPayment prompts for the M-Pesa number.  Returns false when the
// user quits.
func stepPayment(ctx context.Context, sess *purchase.Session, lines <-chan string) bool {
	snap := sess.Snapshot()
	if snap.LastError != "" {
		fmt.Println("\n!", snap.LastError)
	}
	prompt := "\nM-Pesa number (07XXXXXXXX, q to quit)"
	if snap.Phone != "" {
		prompt += fmt.Sprintf(" [%s]", snap.Phone)
	}
	fmt.Print(prompt + ": ")
	line := <-lines
	if line == "q" {
		return false
	}
	if line == "" && snap.Phone != "" {
		line = snap.Phone
	}
	if err := sess.SubmitPhone(ctx, line); err != nil {
		fmt.Println("!", sess.Snapshot().LastError)
	}
	return true
}

// stepProcessing waits for the payment to resolve, redrawing the prompt
// countdown and accepting "s" (check status now) and "c" (cancel).
func stepProcessing(ctx context.Context, sess *purchase.Session, lines <-chan string) {
	fmt.Println("\nCheck your phone and enter your M-Pesa PIN.")
	fmt.Println("(s = check status now, c = cancel)")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		snap := sess.Snapshot()
		if snap.State != purchase.StateProcessing {
			fmt.Println()
			return
		}
		select {
		case <-ticker.C:
			if snap.CountdownSeconds > 0 {
				fmt.Printf("\rWaiting for confirmation... %2ds ", snap.CountdownSeconds)
			} else {
				fmt.Printf("\rStill confirming your payment...  ")
			}
		case line := <-lines:
			switch line {
			case "s":
				_ = sess.CheckStatus(ctx)
			case "c":
				_ = sess.Cancel()
			}
		case <-sess.Updates():
			// state changed; loop re-reads the snapshot
		}
	}
}

// stepError shows the failure and offers a retry.  Returns false when
// the user quits.
func stepError(sess *purchase.Session, lines <-chan string) bool {
	snap := sess.Snapshot()
	fmt.Printf("\nPayment failed: %s\n", snap.LastError)
	fmt.Print("Retry? (y/n): ")
	if line := <-lines; strings.ToLower(line) != "y" {
		return false
	}
	_ = sess.Retry()
	return true
}

// finish downloads the paid ticket PDF.
func finish(ctx context.Context, cli *client.Client, sess *purchase.Session, out, email string) {
	snap := sess.Snapshot()
	fmt.Printf("\nPayment confirmed! Ticket #%d\n", snap.TicketID)
	pdf, err := cli.DownloadTicket(ctx, snap.TicketID, snap.GuestToken, email)
	if err != nil {
		fmt.Printf("Could not download the ticket PDF: %v\n", err)
		return
	}
	if out == "" {
		out = fmt.Sprintf("ticket-%d.pdf", snap.TicketID)
	}
	if err := os.WriteFile(out, pdf, 0o644); err != nil {
		fmt.Printf("Could not save %s: %v\n", out, err)
		return
	}
	fmt.Printf("Saved %s\n", out)
}

// readLines pumps trimmed stdin lines onto a channel so waits can
// select on input and session updates at once.
func readLines(in *bufio.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		for {
			line, err := in.ReadString('\n')
			if err != nil {
				close(ch)
				return
			}
			ch <- strings.TrimSpace(line)
		}
	}()
	return ch
}

func promptUint(in *bufio.Reader, prompt string) (uint64, error) {
	for {
		fmt.Print(prompt)
		line, err := in.ReadString('\n')
		if err != nil {
			return 0, err
		}
		n, err := strconv.ParseUint(strings.TrimSpace(line), 10, 64)
		if err == nil {
			return n, nil
		}
		fmt.Println("Not a number, try again.")
	}
}
