// Relayd — signaling relay for inkwire document rooms.
//
// Clients connect over WebSocket (/ws?room=...&user=...) and the relay
// forwards their envelopes: point-to-point when addressed, otherwise to
// everyone else in the room. It holds no document state.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/pterm/pterm"

	"github.com/inkwire/inkwire/internal/relay"
	"github.com/inkwire/inkwire/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	addr := flag.String("addr", ":8090", "Listen address")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Printfln("Inkwire relay — v%s", version)
	pterm.Println()

	srv := relay.NewServer()
	port, err := srv.Start(*addr)
	if err != nil {
		util.Errorf("failed to start relay: %v", err)
		os.Exit(1)
	}
	defer srv.Close()

	pterm.Success.Printfln("Relay ready — clients connect to ws://<host>:%d/ws", port)

	<-ctx.Done()
	util.Infof("shutting down relay")
}
