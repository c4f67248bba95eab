// Command textly is an interactive terminal client for textly-chat.
//
// Deployment assumption: textly is a trusted client. It connects straight to
// the datastore with DATABASE_URL and takes the user's identity from
// TEXTLY_TOKEN without verifying it. Room, message and friendship queries are
// scoped to that user by the repositories, but the database credentials allow
// any query, so the scoping only holds for unmodified clients run by
// operators who already hold those credentials. The server verifies the token
// on every API and realtime call, so metadata, assistant, settings and the
// change feed stay gated for any client.
//
// Environment:
//
//	TEXTLY_API_URL       base URL of the textly-chat server (required)
//	TEXTLY_TOKEN         session JWT (required)
//	DATABASE_URL         Postgres DSN (required)
//	TEXTLY_REALTIME_URL  websocket URL, derived from TEXTLY_API_URL when empty
//	TEXTLY_CACHE_PATH    SQLite cache file, caching is off when empty
//	LOG_LEVEL            zerolog level
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/rs/zerolog"

	"textly-chat/internal/apiclient"
	"textly-chat/internal/cache"
	"textly-chat/internal/config"
	"textly-chat/internal/db"
	"textly-chat/internal/realtime"
	"textly-chat/internal/repositories"
	"textly-chat/internal/session"
)

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(cfg.LogLevel).With().Timestamp().Logger()

	identity, err := session.IdentityFromToken(cfg.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("read session token")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect datastore")
	}
	defer database.Close()

	feed, err := realtime.Dial(ctx, cfg.RealtimeURL, cfg.Token, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect realtime feed")
	}
	defer feed.Close()

	store := cache.Open(cfg.CachePath, logger)
	defer store.Close()

	api := apiclient.New(cfg.APIURL, cfg.Token, logger)
	profileRepo := repositories.NewProfileRepo(database)
	s := session.New(identity, session.Deps{
		Rooms:       repositories.NewRoomRepo(database),
		Messages:    repositories.NewMessageRepo(database),
		Friendships: repositories.NewFriendshipRepo(database),
		Profiles:    profileRepo,
		Metadata:    api,
		Feed:        feed,
		API:         api,
		Cache:       store,
		Logger:      logger,
	})
	if err := s.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start session")
	}
	defer s.Close()

	app := newApp(ctx, s, os.Stdout)
	fmt.Printf("Welcome to textly, %s\n", identity.Username)
	fmt.Println("Type 'help' to see available commands")

	p := prompt.New(
		app.execute,
		app.complete,
		prompt.OptionPrefix("> "),
		prompt.OptionLivePrefix(app.livePrefix),
		prompt.OptionTitle("textly"),
		prompt.OptionHistory([]string{}),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			return breakline && strings.TrimSpace(in) == "exit"
		}),
	)
	p.Run()
}
