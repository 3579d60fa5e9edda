// Package main provides a simple terminal client for the teamdesk realtime server.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/xiaot623/teamdesk/internal/auth"
	"github.com/xiaot623/teamdesk/internal/client"
	"github.com/xiaot623/teamdesk/internal/protocol"
)

const usage = `Commands:
  /create id1,id2      open a chat with the given users
  /join <chatId>       join a chat room
  /send <chatId> text  send a message
  /chats               list known chats
  /online              list online users
  /notes               show task notifications
  /dismiss <taskId>    dismiss notifications for a task
  /clear               dismiss all notifications
  /quit                exit`

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket server address")
	token := flag.String("token", "", "access token")
	secret := flag.String("secret", "", "JWT secret for minting a development token (with -user)")
	userID := flag.String("user", "", "user id for the development token")
	attempts := flag.Uint64("attempts", 5, "connection attempts")
	flag.Parse()

	log.SetFlags(log.Ltime)

	if *token == "" && *secret != "" && *userID != "" {
		minted, err := auth.GenerateToken(*userID, []byte(*secret), 24*time.Hour)
		if err != nil {
			log.Fatalf("Failed to mint token: %v", err)
		}
		*token = minted
	}
	if *token == "" {
		log.Fatal("-token or -secret with -user is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Connecting to %s...\n", *addr)
	c, err := client.Dial(ctx, client.Options{URL: *addr, Token: *token, MaxAttempts: *attempts})
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer c.Close()

	fmt.Println("Connected.")
	fmt.Println(usage)

	go func() {
		if err := c.Run(ctx, printEvent); err != nil {
			log.Printf("Connection closed: %v", err)
			stop()
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println("\nBye!")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handleCommand(c, strings.TrimSpace(line)); quit {
				fmt.Println("Bye!")
				return
			}
		}
	}
}

func handleCommand(c *client.Client, input string) bool {
	if input == "" {
		return false
	}
	cmd, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	var err error
	switch cmd {
	case "/quit":
		return true
	case "/create":
		err = c.CreateChat(strings.Split(rest, ",")...)
	case "/join":
		err = c.JoinChat(rest)
	case "/send":
		chatID, content, _ := strings.Cut(rest, " ")
		err = c.SendMessage(chatID, content)
	case "/chats":
		for _, chat := range c.View().Chats() {
			names := make([]string, 0, len(chat.Participants))
			for _, p := range chat.Participants {
				names = append(names, p.Name)
			}
			fmt.Printf("  %s  [%s]  %d messages\n", chat.ID, strings.Join(names, ", "), len(chat.Messages))
		}
	case "/online":
		fmt.Printf("  %s\n", strings.Join(c.View().OnlineUserIDs(), ", "))
	case "/notes":
		for _, n := range c.View().Notifications() {
			fmt.Printf("  %s  %s by %s at %s\n", n.Task.ID, n.UpdateType, n.UpdatedBy, n.Timestamp.Format(time.Kitchen))
		}
	case "/dismiss":
		c.View().Dismiss(rest)
	case "/clear":
		c.View().ClearNotifications()
	default:
		fmt.Println(usage)
	}
	if err != nil {
		log.Printf("Send error: %v", err)
	}
	return false
}

func printEvent(env protocol.Envelope) {
	var pretty map[string]interface{}
	if err := json.Unmarshal(env.Data, &pretty); err != nil {
		fmt.Printf("\n[%s] %s\n", env.Event, string(env.Data))
		return
	}
	formatted, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Printf("\n[%s]\n%s\n", env.Event, string(formatted))
}
