// Inkwire — terminal client for collaborative document annotation.
//
// It joins a document room on the relay, keeps the shared annotation and
// presence state converged, and can run audio/video calls with other
// room members over WebRTC. Flags select the identity and room; missing
// ones are prompted for interactively.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pterm/pterm"

	"github.com/inkwire/inkwire/internal/annotation"
	"github.com/inkwire/inkwire/internal/config"
	"github.com/inkwire/inkwire/internal/media"
	"github.com/inkwire/inkwire/internal/notify"
	"github.com/inkwire/inkwire/internal/session"
	"github.com/inkwire/inkwire/internal/transport"
	"github.com/inkwire/inkwire/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	name := flag.String("name", "", "Display name")
	doc := flag.String("doc", "", "Document id to open")
	relayURL := flag.String("relay", "", "Relay URL (e.g. ws://localhost:8090/ws)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Printfln("Inkwire — v%s", version)
	pterm.Println()

	cfg := config.Load()
	if *relayURL != "" {
		cfg.RelayURL = *relayURL
	}
	if *name == "" {
		*name = ask("Display name")
	}
	if *doc == "" {
		*doc = ask("Document id")
	}

	userID := fmt.Sprintf("%s-%s", strings.ToLower(*name), uuid.NewString()[:8])

	sess := session.New(session.Options{
		UserID:      userID,
		DisplayName: *name,
		DocumentID:  *doc,
		Config:      cfg,
		Media:       media.NewController(media.NewDeviceProvider()),
	})

	tr, err := transport.DialRelay(ctx, transport.ClientOptions{
		URL:        cfg.RelayURL,
		Room:       *doc,
		UserID:     userID,
		Grace:      cfg.TransportGrace,
		OnEnvelope: sess.HandleEnvelope,
		OnUp:       sess.TransportUp,
		OnDown:     sess.TransportDown,
	})
	if err != nil {
		util.Errorf("failed to join document: %v", err)
		os.Exit(1)
	}
	defer tr.Close()
	sess.Attach(tr)

	go sess.Run(ctx)
	go notify.NewBridge(sess.Events()).Run(ctx)
	util.StartStatsReporter(ctx)

	pterm.Success.Printfln("Joined document %q as %s", *doc, userID)
	pterm.Println()

	runREPL(ctx, sess)

	sess.Calls().HangUp()
	util.Infof("left document %q", *doc)
}

// runREPL reads commands from stdin until EOF or cancellation.
func runREPL(ctx context.Context, sess *session.Session) {
	printHelp()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !dispatch(ctx, sess, strings.Fields(line)) {
				return
			}
		}
	}
}

// dispatch runs one command; it returns false when the user quits.
func dispatch(ctx context.Context, sess *session.Session, args []string) bool {
	if len(args) == 0 {
		return true
	}
	calls := sess.Calls()

	switch args[0] {
	case "quit", "exit":
		return false

	case "help":
		printHelp()

	case "who":
		for _, e := range sess.Presence().Snapshot() {
			pterm.Printfln("  %s  page %d (%.0f, %.0f)", e.UserID, e.PageNumber, e.X, e.Y)
		}

	case "call":
		if len(args) < 2 {
			util.Warnf("usage: call <userId>...")
			break
		}
		if _, err := calls.InitiateCall(ctx, args[1:]); err != nil {
			util.Errorf("%v", err)
		}

	case "accept":
		if err := calls.Accept(ctx); err != nil {
			util.Errorf("%v", err)
		}

	case "reject":
		if err := calls.Reject(); err != nil {
			util.Errorf("%v", err)
		}

	case "hangup":
		calls.HangUp()

	case "video":
		if _, err := calls.ToggleVideo(); err != nil {
			util.Errorf("%v", err)
		}

	case "audio":
		if _, err := calls.ToggleAudio(); err != nil {
			util.Errorf("%v", err)
		}

	case "share":
		if _, err := calls.ToggleScreenShare(ctx); err != nil {
			util.Errorf("%v", err)
		}

	case "note":
		if len(args) < 3 {
			util.Warnf("usage: note <page> <text>")
			break
		}
		page, err := strconv.Atoi(args[1])
		if err != nil {
			util.Warnf("invalid page %q", args[1])
			break
		}
		id, err := sess.CreateAnnotation(annotation.Annotation{
			Kind:       annotation.KindTextComment,
			PageNumber: page,
			Color:      "#ffd54f",
			Content:    strings.Join(args[2:], " "),
		})
		switch {
		case err != nil && id == "":
			util.Errorf("note rejected: %v", err)
		case err != nil:
			util.Warnf("created %s locally, broadcast failed: %v", id, err)
		default:
			pterm.Printfln("  created %s", id)
		}

	case "reply":
		if len(args) < 3 {
			util.Warnf("usage: reply <annotationId> <text>")
			break
		}
		if err := sess.AddReply(args[1], strings.Join(args[2:], " ")); err != nil {
			util.Warnf("reply failed: %v", err)
		}

	case "del":
		if len(args) != 2 {
			util.Warnf("usage: del <annotationId>")
			break
		}
		if err := sess.DeleteAnnotation(args[1]); err != nil {
			util.Warnf("deleted locally, broadcast failed: %v", err)
		}

	case "goto":
		if len(args) != 4 {
			util.Warnf("usage: goto <page> <x> <y>")
			break
		}
		page, err := strconv.Atoi(args[1])
		if err != nil {
			util.Warnf("invalid page %q", args[1])
			break
		}
		x, errX := strconv.ParseFloat(args[2], 64)
		y, errY := strconv.ParseFloat(args[3], 64)
		if errX != nil || errY != nil {
			util.Warnf("invalid position %q %q", args[2], args[3])
			break
		}
		sess.MoveCursor(page, x, y, 1)

	case "typing":
		if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
			util.Warnf("usage: typing on|off")
			break
		}
		sess.SetTyping(args[1] == "on")

	case "list":
		if len(args) != 2 {
			util.Warnf("usage: list <page>")
			break
		}
		page, err := strconv.Atoi(args[1])
		if err != nil {
			util.Warnf("invalid page %q", args[1])
			break
		}
		frame := sess.Frame(page)
		for _, cmd := range frame.Commands {
			pterm.Printfln("  [%s] %s by %s: %s (%d replies)",
				cmd.AnnotationID, cmd.Kind, cmd.AuthorID, cmd.Content, cmd.ReplyCount)
		}

	default:
		util.Warnf("unknown command %q (try 'help')", args[0])
	}
	return true
}

func printHelp() {
	pterm.Println("Commands:")
	pterm.Println("  who                       list room members")
	pterm.Println("  note <page> <text>        add a text comment")
	pterm.Println("  reply <id> <text>         reply to an annotation")
	pterm.Println("  del <id>                  delete an annotation")
	pterm.Println("  list <page>               show a page's annotations")
	pterm.Println("  goto <page> <x> <y>       move the shared cursor")
	pterm.Println("  typing on|off             flag yourself as typing")
	pterm.Println("  call <userId>...          start a call")
	pterm.Println("  accept | reject | hangup  answer or end a call")
	pterm.Println("  video | audio | share     toggle media")
	pterm.Println("  quit")
	pterm.Println()
}

// ask prompts until a non-empty value is entered.
func ask(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()
		if v := strings.TrimSpace(raw); v != "" {
			pterm.Println()
			return v
		}
		util.Warnf("a value is required")
		pterm.Println()
	}
}
