// Terminal chat client: wires the transport session, REST collaborator, local
// cache and reconciliation engine into an interactive loop.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chatcore/internal/cache"
	"github.com/chatcore/internal/cache/memory"
	"github.com/chatcore/internal/cache/redis"
	"github.com/chatcore/internal/config"
	"github.com/chatcore/internal/engine"
	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/rest"
	"github.com/chatcore/internal/transport"
)

func main() {
	logger.SetPrefix("chat")
	token := flag.String("token", os.Getenv("ACCESS_TOKEN"), "access token")
	userID := flag.String("user", os.Getenv("USER_ID"), "own user id")
	memOnly := flag.Bool("mem-cache", false, "use the in-memory cache even when Redis is configured")
	flag.Parse()

	if *token == "" || *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: chat -token <access-token> -user <user-id>")
		os.Exit(2)
	}

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := openStore(ctx, cfg, *memOnly)
	defer store.Close()

	api := rest.NewClient(cfg.APIURL, *token)
	session := transport.NewSession(cfg.WSURL, cfg.ReconnectBaseDelay, cfg.MaxReconnectAttempts)
	defer session.Close()

	eng := engine.New(engine.Options{
		SelfID:           *userID,
		Transport:        session,
		API:              api,
		Store:            store,
		PendingTTL:       cfg.PendingSendTTL,
		ConfirmedIDCap:   cfg.ConfirmedIDCap,
		PageSize:         cfg.MessagePageSize,
		CacheMaxMessages: cfg.CacheMaxMessages,
	})
	defer eng.Close()

	go eng.Run(ctx, session.Events())
	go renderLoop(eng.Subscribe(), *userID)

	if err := session.Connect(*token); err != nil {
		logger.Errorf("connect: %v (reconnecting in background)", err)
	}
	if err := eng.LoadConversations(ctx); err != nil {
		logger.Errorf("load conversations: %v", err)
	}
	printConversations(eng.Snapshot())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
		os.Stdin.Close()
	}()

	inputLoop(ctx, eng, api)
	logger.Info("bye")
}

func openStore(ctx context.Context, cfg *config.Config, memOnly bool) cache.Store {
	if !memOnly && cfg.RedisURL != "" {
		client, err := redis.New(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err == nil {
			logger.Info("cache: redis")
			return client
		}
		logger.Errorf("cache: redis unavailable (%v), falling back to memory", err)
	}
	logger.Info("cache: in-memory")
	return memory.New()
}

func inputLoop(ctx context.Context, eng *engine.Engine, api *rest.Client) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			snap := eng.Snapshot()
			if snap.ActiveID == "" {
				fmt.Println("no conversation open; /open <id> first")
				continue
			}
			eng.SendMessage(snap.ActiveID, line, model.MessageTypeText, engine.SendOptions{})
			continue
		}

		cmd, arg, _ := strings.Cut(line[1:], " ")
		switch cmd {
		case "list":
			printConversations(eng.Snapshot())
		case "open":
			if arg == "" {
				fmt.Println("usage: /open <conversation-id>")
				continue
			}
			eng.SelectConversation(ctx, arg)
			eng.MarkRead()
		case "close":
			eng.ClearActiveConversation()
		case "more":
			eng.LoadMore(ctx)
		case "react":
			msgID, emoji, ok := strings.Cut(arg, " ")
			if !ok {
				fmt.Println("usage: /react <message-id> <emoji>")
				continue
			}
			eng.React(msgID, emoji)
		case "find":
			if arg == "" {
				fmt.Println("usage: /find <name>")
				continue
			}
			users, err := api.SearchUsers(ctx, arg)
			if err != nil {
				fmt.Println("search failed:", err)
				continue
			}
			for _, u := range users {
				fmt.Printf("  %s  %s\n", u.ID, u.Username)
			}
		case "new":
			ids := strings.Fields(arg)
			if len(ids) == 0 {
				fmt.Println("usage: /new <user-id> [user-id...]")
				continue
			}
			kind := model.ConversationKindDirect
			if len(ids) > 1 {
				kind = model.ConversationKindGroup
			}
			conv, err := api.CreateConversation(ctx, ids, kind, "")
			if err != nil {
				fmt.Println("create failed:", err)
				continue
			}
			if err := eng.LoadConversations(ctx); err != nil {
				logger.Errorf("load conversations: %v", err)
			}
			eng.SelectConversation(ctx, conv.ID)
		case "quit", "exit":
			return
		default:
			fmt.Println("commands: /list /open <id> /close /more /react <id> <emoji> /find <name> /new <ids> /quit")
		}
	}
}

// renderLoop prints newly visible messages and typing changes from the
// snapshot stream.
func renderLoop(snapshots <-chan engine.Snapshot, selfID string) {
	var lastMsgID string
	var lastTyping string
	for snap := range snapshots {
		if n := len(snap.Messages); n > 0 {
			last := snap.Messages[n-1]
			if last.ID != lastMsgID {
				lastMsgID = last.ID
				who := last.SenderID
				if who == selfID {
					who = "me"
				}
				fmt.Printf("[%s] %s: %s\n", last.CreatedAt.Format("15:04:05"), who, last.OriginalContent)
			}
		}
		if snap.ActiveID != "" {
			typing := strings.Join(snap.Typing[snap.ActiveID], ", ")
			if typing != lastTyping {
				lastTyping = typing
				if typing != "" {
					fmt.Printf("… %s typing\n", typing)
				}
			}
		}
	}
}

func printConversations(snap engine.Snapshot) {
	if len(snap.Conversations) == 0 {
		fmt.Println("no conversations")
		return
	}
	for _, c := range snap.Conversations {
		name := c.Name
		if name == "" {
			name = strings.Join(c.Participants, ", ")
		}
		marker := " "
		if c.ID == snap.ActiveID {
			marker = "*"
		}
		unread := ""
		if c.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d unread)", c.UnreadCount)
		}
		fmt.Printf("%s %s  %s%s\n", marker, c.ID, name, unread)
	}
}
