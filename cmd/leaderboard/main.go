// Package main provides a terminal dashboard for the points leaderboard API.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/points-leaderboard/internal/client"
	"github.com/points-leaderboard/internal/config"
	"github.com/points-leaderboard/internal/dashboard"
	"github.com/points-leaderboard/internal/logging"
	"github.com/points-leaderboard/internal/storage"
	"github.com/points-leaderboard/internal/types"
)

func main() {
	apiFlag := flag.String("api", "http://localhost:3000", "Leaderboard API base URL")
	pageFlag := flag.Int("page", 1, "Page to show (1-based)")
	limitFlag := flag.Int("limit", dashboard.DefaultRowsPerPage, "Rows per page")
	tierFlag := flag.Int("tier", -1, "Only show one tier (0-4), -1 for all")
	sortFlag := flag.String("sort", string(types.DefaultSortBy), "Sort field")
	orderFlag := flag.String("order", string(types.DefaultSortOrder), "Sort order (asc or desc)")
	addressFlag := flag.String("address", "", "Show one user instead of the leaderboard")
	weekFlag := flag.String("week", "", "Week (YYYY-MM-DD) for the user view, defaults to the current week")
	watchFlag := flag.Duration("watch", 0, "Redraw at this interval and read commands from stdin, 0 to draw once")
	colorFlag := flag.Bool("color", true, "Color rank badges")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Dashboard output owns stdout, so logs go to stderr
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.FormatText)
	logging.GetGlobalLogger().SetOutput(os.Stderr)
	logger := logging.GetGlobalLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache, closeCache := newCache(ctx, cfg, logger)
	defer closeCache()

	c := client.NewClient(client.Config{
		BaseURL:   *apiFlag,
		StaleTime: cfg.Cache.StaleTime,
		GCTime:    cfg.Cache.GCTime,
		Retries:   2,
	}, cache)

	var tier *types.Tier
	if *tierFlag >= 0 {
		t := types.Tier(*tierFlag)
		if !t.Valid() {
			fmt.Printf("Invalid tier %d, must be 0-4\n", *tierFlag)
			os.Exit(2)
		}
		tier = &t
	}

	session := dashboard.NewSession(
		dashboard.NewPagination(*pageFlag-1, *limitFlag),
		tier,
		types.SortField(*sortFlag),
		types.SortOrder(*orderFlag),
	)
	renderer := dashboard.NewRenderer(os.Stdout, *colorFlag)

	draw := func(clearFirst bool) bool {
		if *addressFlag != "" {
			return drawUser(ctx, c, renderer, *addressFlag, *weekFlag, clearFirst)
		}
		return drawLeaderboard(ctx, c, renderer, session, clearFirst)
	}

	if *watchFlag <= 0 {
		if !draw(false) {
			os.Exit(1)
		}
		return
	}

	fmt.Print(clearScreen)
	renderer.RenderLoading()

	commands := readCommands(os.Stdin)
	ticker := time.NewTicker(*watchFlag)
	defer ticker.Stop()

	status := ""
	for {
		draw(true)
		if status != "" {
			fmt.Println(status)
		}
		fmt.Printf("\n%s\n> ", dashboard.CommandHelp)
		status = ""

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case line, ok := <-commands:
			if !ok {
				// stdin closed, keep redrawing on the ticker
				commands = nil
				continue
			}
			action, err := session.Handle(line)
			if err != nil {
				status = err.Error()
			}
			switch action {
			case dashboard.ActionQuit:
				return
			case dashboard.ActionRefresh:
				if err := c.Refresh(ctx); err != nil {
					logger.WithError(err).Warn("Failed to drop cached pages")
				}
			}
		}
	}
}

const clearScreen = "\033[H\033[2J"

// readCommands delivers stdin lines until EOF
func readCommands(in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// newCache picks Redis when REDIS_HOST is set and reachable, memory otherwise.
// The memory cache is purged in the background until ctx is done.
func newCache(ctx context.Context, cfg *config.Config, logger *logging.Logger) (client.Cache, func()) {
	if cfg.Redis.Enabled() {
		redis, err := storage.NewRedisCache(&cfg.Redis)
		if err == nil {
			logger.WithField("addr", cfg.Redis.Addr()).Debug("Using Redis query cache")
			return storage.NewCacheService(redis, cfg.Cache.GCTime), func() { _ = redis.Close() }
		}
		logger.WithError(err).Warn("Redis unavailable, using in-memory query cache")
	}

	memory := storage.NewMemoryCache(cfg.Cache.GCTime)
	go memory.RunJanitor(ctx, janitorInterval)
	return memory, func() {}
}

const janitorInterval = time.Minute

func drawLeaderboard(ctx context.Context, c *client.Client, r *dashboard.Renderer, s *dashboard.Session, clearFirst bool) bool {
	result, err := c.ListUsers(ctx, s.Query())
	if clearFirst {
		fmt.Print(clearScreen)
	}
	if err != nil {
		r.RenderError(err)
		return false
	}
	s.SetTotal(result.TotalUsers)

	r.RenderHeader(result.TotalUsers)
	r.RenderStats(result.GlobalStats)
	r.RenderTierFilter(s.Tier)
	r.RenderUsersTable(result.Users, s.Pagination)
	r.RenderPagination(s.Pagination, len(result.Users), result.TotalUsers, result.TotalUsersEstimated)
	return true
}

func drawUser(ctx context.Context, c *client.Client, r *dashboard.Renderer, address, week string, clearFirst bool) bool {
	result, err := c.GetUser(ctx, address, week)
	if clearFirst {
		fmt.Print(clearScreen)
	}
	if err != nil {
		r.RenderError(err)
		return false
	}

	r.RenderUser(result.Data, result.Metadata.WeekNumber)
	return true
}
