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
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tj-Github30/live-flash-auction-sub000/internal/bidgate"
	"github.com/Tj-Github30/live-flash-auction-sub000/internal/room"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	configPath := flag.String("config", "", "path to YAML config file")
	auctionID := flag.String("auction", "", "auction id to watch (overrides config)")
	flag.Parse()

	cfg, err := resolveConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *auctionID != "" {
		cfg.AuctionID = *auctionID
	}
	setupLogging(cfg.LogLevel, cfg.PrettyLogs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := room.NewEngine(room.Config{
		APIBaseURL: cfg.APIBaseURL,
		SocketURL:  cfg.SocketURL,
		AuctionID:  cfg.AuctionID,
		ViewerID:   cfg.ViewerID,
		Credential: cfg.Token,
	}, clockwork.NewRealClock())

	if err := engine.Open(ctx); err != nil {
		log.Fatal().Err(err).Str("auction_id", cfg.AuctionID).Msg("open room")
	}

	snapshots, unsubscribe := engine.Subscribe()
	defer unsubscribe()
	go renderLoop(snapshots)
	go commandLoop(ctx, engine, stop)

	<-ctx.Done()

	leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := engine.Leave(leaveCtx); err != nil {
		log.Warn().Err(err).Msg("leave room")
	}
	fmt.Println("left the room")
}

// renderLoop prints one headline per meaningful change plus every new chat
// line. Dropped intermediate frames are fine; the chat log is cumulative.
func renderLoop(snapshots <-chan room.State) {
	var lastLine string
	chatSeen := 0

	for snap := range snapshots {
		line := headline(snap)
		if line != lastLine {
			fmt.Println(line)
			lastLine = line
		}
		for ; chatSeen < len(snap.ChatLog); chatSeen++ {
			entry := snap.ChatLog[chatSeen]
			fmt.Printf("  [chat] %s: %s\n", entry.DisplayAlias, entry.Text)
		}
	}
}

func headline(snap room.State) string {
	remaining := snap.TimeRemainingLabel
	if snap.TimeRemaining != nil {
		remaining = fmt.Sprintf("%ds", *snap.TimeRemaining)
	}
	if remaining == "" {
		remaining = "--"
	}

	bidder := snap.HighBidderAlias
	if bidder == "" {
		bidder = "no bids yet"
	}

	status := snap.Status.String()
	if snap.Closed {
		status = "closed"
	}

	return fmt.Sprintf("[%s] %s | high bid %d (%s) | %s left | %d watching",
		status, snap.Title, snap.HighBid, bidder, remaining, snap.ParticipantCount)
}

func commandLoop(ctx context.Context, engine *room.Engine, quit func()) {
	printHelp()
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		switch cmd {
		case "bid":
			amount, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				fmt.Println("usage: bid <amount>")
				continue
			}
			if err := engine.PlaceBid(ctx, amount); err != nil {
				fmt.Printf("bid rejected (%s): %v\n", bidgate.Reason(err), err)
				continue
			}
			fmt.Println("bid submitted")
		case "say":
			if rest == "" {
				fmt.Println("usage: say <text>")
				continue
			}
			if err := engine.SendChat(rest); err != nil {
				fmt.Printf("chat failed: %v\n", err)
			}
		case "mybids":
			bids, err := engine.MyBids(ctx)
			if err != nil {
				fmt.Printf("my bids failed: %v\n", err)
				continue
			}
			if len(bids) == 0 {
				fmt.Println("no bids yet")
				continue
			}
			for _, b := range bids {
				fmt.Printf("  %s: %d\n", b.AuctionID, b.Amount)
			}
		case "close":
			if err := engine.CloseAuction(ctx); err != nil {
				fmt.Printf("close failed: %v\n", err)
				continue
			}
			fmt.Println("close requested")
		case "help":
			printHelp()
		case "quit", "exit":
			quit()
			return
		default:
			fmt.Printf("unknown command %q, try help\n", cmd)
		}
	}
	quit()
}

func printHelp() {
	fmt.Println("commands: bid <amount> | say <text> | mybids | close | quit")
}

func setupLogging(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
