package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/locachat/chatsync/client"
	"github.com/locachat/chatsync/internal/domain"
	"github.com/locachat/chatsync/pkg/logger"
)

var (
	addr   = flag.String("addr", "localhost:8080", "gateway address")
	token  = flag.String("token", "", "bearer token")
	userID = flag.String("user", "", "user id (must match the token subject)")
	room   = flag.String("room", "general", "room to join on start")
)

func main() {
	flag.Parse()
	if *token == "" || *userID == "" {
		log.Fatal("both -token and -user are required")
	}

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	logg := logger.NewLogger("info", "")

	cfg := client.Config{
		URL:    u.String(),
		Token:  *token,
		UserID: *userID,
	}

	transport, err := client.Dial(cfg, logg)
	if err != nil {
		log.Fatalf("Failed to connect to gateway: %v", err)
	}
	defer transport.Close()

	session := client.NewSession(transport, cfg, logg)
	defer session.Close()

	disposeMsg := transport.OnMessage(func(msg domain.Message) {
		fmt.Printf("\n[%s] %s: %s\n", msg.CreatedAt.Format("15:04:05"), msg.SenderID, msg.Content)
	})
	defer disposeMsg()
	disposeTyping := transport.OnTyping(func(ind domain.TypingIndicator) {
		if ind.IsTyping {
			fmt.Printf("\n%s is typing...\n", ind.UserID)
		}
	})
	defer disposeTyping()
	disposePresence := transport.OnPresence(func(p domain.UserPresence) {
		fmt.Printf("\n%s is now %s in %s\n", p.UserID, p.Status, p.RoomID)
	})
	defer disposePresence()
	disposeErr := transport.OnError(func(e domain.ErrorEvent) {
		fmt.Printf("\nserver error [%s]: %s\n", e.Code, e.Message)
	})
	defer disposeErr()

	if err := session.JoinRoom(*room); err != nil {
		log.Fatalf("Failed to join %s: %v", *room, err)
	}
	currentRoom := *room

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		fmt.Println("\nInterrupt received, closing...")
		session.Close()
		transport.Close()
		os.Exit(0)
	}()

	fmt.Printf("Joined %s. Type messages, or /join <room>, /leave, /history:\n", currentRoom)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "/join "):
			next := strings.TrimSpace(strings.TrimPrefix(line, "/join "))
			if err := session.JoinRoom(next); err != nil {
				fmt.Printf("join failed: %v\n", err)
				continue
			}
			currentRoom = next
			fmt.Printf("Joined %s\n", currentRoom)

		case line == "/leave":
			if err := session.LeaveRoom(currentRoom); err != nil {
				fmt.Printf("leave failed: %v\n", err)
			}
			fmt.Printf("Left %s\n", currentRoom)

		case line == "/history":
			for _, msg := range session.Messages(currentRoom) {
				fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Format("15:04:05"), msg.SenderID, msg.Content)
			}

		default:
			pending, err := session.SendMessage(currentRoom, line, domain.ContentTypeText)
			if err != nil {
				fmt.Printf("send failed: %v\n", err)
				continue
			}
			fmt.Printf("[Sent %s] %s\n", pending.TempID[:8], pending.Content)
		}
	}
}
