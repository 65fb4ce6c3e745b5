// Command clicker is a line-driven terminal client for the team clicker.
//
// Selection screen: "team blue|red", "name <username>".
// Clicker screen: "c" or an empty line clicks, "u" buys an upgrade,
// "change" returns to team selection, "s" redraws, "q" quits.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/teamclicker/go/internal/clicker"
	"github.com/mcdev12/teamclicker/go/internal/models"
	"github.com/mcdev12/teamclicker/go/internal/prefs"
	"github.com/mcdev12/teamclicker/go/internal/remote"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if os.Getenv("CLICKER_DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	prefsPath := getEnv("CLICKER_PREFS", "")
	if prefsPath == "" {
		p, err := prefs.DefaultPath()
		if err != nil {
			log.Fatal().Err(err).Msg("resolve preferences path")
		}
		prefsPath = p
	}
	store, err := prefs.OpenFile(prefsPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", prefsPath).Msg("open preferences")
	}

	client := remote.NewClient(remote.DefaultConfig(getEnv("CLICKER_SERVER", "http://localhost:8080")))
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := clicker.NewEngine(client, store)
	if err := engine.Start(ctx); err != nil {
		log.Error().Err(err).Msg("start engine")
	}
	defer engine.Stop()

	render(engine.Store().View())

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
			if quit := handle(ctx, engine, strings.TrimSpace(line)); quit {
				return
			}
			// let pushes from the command land before drawing
			time.Sleep(150 * time.Millisecond)
			render(engine.Store().View())
		}
	}
}

func handle(ctx context.Context, engine *clicker.Engine, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch cmd {
	case "q", "quit":
		return true
	case "", "c":
		engine.Click(ctx)
	case "u":
		engine.BuyUpgrade(ctx)
	case "change":
		err = engine.ChangeTeam(ctx)
	case "team":
		var team models.Team
		if team, err = models.ParseTeam(arg); err == nil {
			err = engine.SelectTeam(ctx, team)
		}
	case "name":
		err = engine.SetUsername(ctx, arg)
	case "s":
		err = engine.Focus(ctx)
	default:
		fmt.Println("unknown command")
	}
	if err != nil {
		fmt.Println("error:", err)
	}
	return false
}

func render(v clicker.View) {
	if !v.Ready {
		fmt.Println("Pick a side: team blue | team red")
		if v.Username == "" {
			fmt.Println("Set your name: name <username>")
		}
		return
	}

	now := time.Now()
	fmt.Printf("[%s] score %d | blue %.1f%% red %.1f%%\n", v.Team, v.Score, v.Split.Blue, v.Split.Red)
	if v.Username == "" {
		fmt.Println("Set your name to start clicking: name <username>")
	} else {
		fmt.Printf("%s: %d clicks, %d autoclickers\n", v.Username, v.UserTotalClicks, v.OwnedUpgrades)
	}
	if v.UpgradeUnlocked {
		fmt.Printf("next autoclicker costs %d (u to buy)\n", v.NextUpgradePrice)
	}
	for _, n := range v.Notifications {
		if n.Opacity(now) == 0 {
			continue
		}
		fmt.Printf("  %s (%s) has %d recent clicks\n", n.Username, n.Team, n.Count)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
