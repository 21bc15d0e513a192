// Package main provides the jukebox remote control client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/tagbox/internal/api/connect"
	"github.com/osa030/tagbox/internal/api/socket"
)

var (
	app        = kingpin.New("jukectl", "tagbox jukebox remote control")
	server     = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token      = app.Flag("token", "Remote token (or set REMOTE_TOKEN env)").Envar("REMOTE_TOKEN").String()
	socketAddr = app.Flag("socket", "Send through the raw TCP intake at this address instead of RPC").String()
	timeout    = app.Flag("timeout", "Request timeout").Default("5s").Duration()

	pauseCmd    = app.Command("pause", "Pause playback, or resume a remote pause")
	stopCmd     = app.Command("stop", "Stop playback and forget the current program")
	nextCmd     = app.Command("next", "Skip to the next track").Alias("forward")
	previousCmd = app.Command("previous", "Go back one track").Alias("prev")

	volumeCmd   = app.Command("volume", "Set the output volume")
	volumeLevel = volumeCmd.Arg("level", "Volume 0-100").Required().Int()

	albumCmd    = app.Command("album", "Play an album from the catalog")
	albumTitle  = albumCmd.Arg("title", "Album title").Required().String()
	albumArtist = albumCmd.Flag("artist", "Artist hint").String()

	tagCmd  = app.Command("tag", "Simulate placing a tag on the reader")
	tagURI  = tagCmd.Arg("uri", "Tag identifier, e.g. spotify:album:<id>").Required().String()
	tagBand = tagCmd.Flag("band", "Band record of the tag").String()

	sendCmd    = app.Command("send", "Send a raw intake message")
	sendSource = sendCmd.Arg("source", "presence, catalog or remote").Required().Enum("presence", "catalog", "remote")
	sendEvent  = sendCmd.Arg("event", "start, stop, pause, forward, previous or setVolume").Required().String()
	sendData   = sendCmd.Flag("data", "Data field as key=value").Short('d').StringMap()

	statusCmd = app.Command("status", "Show the jukebox status")
	watchCmd  = app.Command("watch", "Print status changes until interrupted")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	var msg map[string]any
	switch command {
	case pauseCmd.FullCommand():
		msg = remoteMessage("pause", nil)
	case stopCmd.FullCommand():
		msg = remoteMessage("stop", nil)
	case nextCmd.FullCommand():
		msg = remoteMessage("forward", nil)
	case previousCmd.FullCommand():
		msg = remoteMessage("previous", nil)
	case volumeCmd.FullCommand():
		msg = remoteMessage("setVolume", map[string]any{"volume": *volumeLevel})
	case albumCmd.FullCommand():
		msg = albumMessage(*albumTitle, *albumArtist)
	case tagCmd.FullCommand():
		msg = tagMessage(*tagURI, *tagBand)
	case sendCmd.FullCommand():
		msg = rawMessage(*sendSource, *sendEvent, *sendData)
	case statusCmd.FullCommand():
		exitOnError(status())
		return
	case watchCmd.FullCommand():
		exitOnError(watch())
		return
	}

	exitOnError(submit(msg))
}

func exitOnError(err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func client() *apiconnect.Client {
	return apiconnect.NewClient(nil, *server, *token)
}

func submit(msg map[string]any) error {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *socketAddr != "" {
		if err := socket.Send(ctx, *socketAddr, msg); err != nil {
			return err
		}
		fmt.Println("Sent")
		return nil
	}

	id, err := client().Submit(ctx, msg)
	if err != nil {
		return err
	}
	fmt.Printf("Queued: %s\n", id)
	return nil
}

func status() error {
	if *socketAddr != "" {
		return fmt.Errorf("status needs the RPC server, not --socket")
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fields, err := client().GetStatus(ctx)
	if err != nil {
		return err
	}
	printStatus(fields)
	return nil
}

func watch() error {
	if *socketAddr != "" {
		return fmt.Errorf("watch needs the RPC server, not --socket")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return client().WatchStatus(ctx, func(fields map[string]any) error {
		fmt.Println(formatStatusLine(fields))
		return nil
	})
}

func printStatus(fields map[string]any) {
	fmt.Println("\n=== JUKEBOX STATUS ===")
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "sequence_no" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-14s %v\n", k+":", formatValue(fields[k]))
	}
	fmt.Println()
}

// formatStatusLine renders one watched status as a single line.
func formatStatusLine(fields map[string]any) string {
	line := fmt.Sprintf("[%v] %v", formatValue(fields["sequence_no"]), fields["state"])
	if src, _ := fields["source"].(string); src != "" && src != "none" {
		line += " (" + src + ")"
	}
	if prog, _ := fields["program"].(string); prog != "" {
		line += " " + prog
	}
	line += fmt.Sprintf(" volume=%v", formatValue(fields["volume"]))
	if paused, _ := fields["remote_paused"].(bool); paused {
		line += " remote-paused"
	}
	if ts, _ := fields["updated_at"].(string); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			line = t.Local().Format(time.TimeOnly) + " " + line
		}
	}
	return line
}

// formatValue prints whole numbers without a fraction; Struct numbers are floats.
func formatValue(v any) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprint(v)
}
