package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/dentora/orderchat/pkg/chatsync"
)

func main() {
	_ = godotenv.Load()

	var (
		server     = flag.String("server", "http://localhost:8080", "portal API base URL")
		tenant     = flag.String("tenant", "default", "tenant id header value")
		order      = flag.String("order", "", "order id to open")
		token      = flag.String("token", "", "bearer token (overrides session files)")
		role       = flag.String("role", "client", "acting role when -token is used")
		name       = flag.String("name", "", "display name when -token is used")
		sessionDir = flag.String("session-dir", defaultSessionDir(), "directory with persisted session files")
	)
	flag.Parse()

	if *order == "" {
		log.Fatalf("usage: chat -order <id> [-token <jwt> -role client|designer|admin]")
	}

	// same precedence the portal uses: live credentials first, then the
	// persisted session blobs per role
	resolver := chatsync.Chain{
		chatsync.FileSession{Path: filepath.Join(*sessionDir, "client.json"), Role: chatsync.RoleClient},
		chatsync.FileSession{Path: filepath.Join(*sessionDir, "designer.json"), Role: chatsync.RoleDesigner},
		chatsync.FileSession{Path: filepath.Join(*sessionDir, "admin.json"), Role: chatsync.RoleAdmin},
	}
	if *token != "" {
		resolver = append(chatsync.Chain{chatsync.Static{
			Role:        chatsync.Role(*role),
			DisplayName: *name,
			Token:       *token,
		}}, resolver...)
	}

	client := chatsync.NewClient(*server, *tenant)
	sess := chatsync.NewSession(chatsync.Options{Client: client, Resolver: resolver})
	defer sess.Dispose()

	sess.Start(*order)

	viewer := chatsync.Role(*role)
	if id := sess.Identity(); id != nil {
		viewer = id.Role
	} else {
		fmt.Println("(no session found: read-only mode, sending disabled)")
	}

	go func() {
		for ev := range sess.Events() {
			switch ev.Type {
			case chatsync.EventMessages:
				for _, m := range ev.Messages {
					printMessage(client, m, viewer)
				}
			case chatsync.EventConnectivity:
				if ev.Connected {
					fmt.Println("(reconnected)")
				} else {
					fmt.Println("(connection lost, retrying...)")
				}
			case chatsync.EventUpload:
				fmt.Printf("(upload %s: %s %s)\n", ev.Ticket.FileName, ev.Ticket.Status, ev.Ticket.Error)
			case chatsync.EventSessionInvalid:
				fmt.Println("(session expired, please log in again)")
				os.Exit(1)
			}
		}
	}()

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case line == "/quit":
			return
		case strings.HasPrefix(line, "/upload "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/upload "))
			f, err := os.Open(path)
			if err != nil {
				fmt.Printf("(cannot open %s: %v)\n", path, err)
				continue
			}
			if _, err := sess.Upload(chatsync.UploadFile{Name: filepath.Base(path), Reader: f}); err != nil {
				fmt.Printf("(upload refused: %v)\n", err)
				f.Close()
			}
		default:
			if _, err := sess.Send(context.Background(), line); err != nil {
				fmt.Printf("(send failed: %v)\n", err)
			}
		}
	}
}

func printMessage(client *chatsync.Client, m chatsync.Message, viewer chatsync.Role) {
	prefix := "  "
	if chatsync.Align(m, viewer) == chatsync.Right {
		prefix = "                                > "
	}
	who := m.SenderName
	if who == "" {
		who = string(m.SenderRole)
	}
	if m.Attachment != nil {
		fmt.Printf("%s[%s] %s sent a file: %s (%s)\n",
			prefix, m.SentAt.Format("15:04"), who, m.Attachment.FileName, client.DownloadURL(m.Attachment.Path))
		return
	}
	fmt.Printf("%s[%s] %s: %s\n", prefix, m.SentAt.Format("15:04"), who, m.Body)
}

func defaultSessionDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".orderchat")
}
