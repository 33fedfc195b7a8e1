// Command threadwatch follows a live thread stream and prints every snapshot.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"colloquy/internal/identity"
	"colloquy/internal/server"
	"colloquy/internal/thread"

	"github.com/gorilla/websocket"
)

func main() {
	host := flag.String("host", "localhost:8375", "API server host")
	kind := flag.String("kind", "lesson", "Thread kind (lesson or news)")
	threadID := flag.Uint("thread", 1, "Thread ID")
	token := flag.String("token", "", "Bearer token of the viewer")
	viewer := flag.Uint("viewer", 0, "Issue a local token for this viewer ID (needs -secret)")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "JWT secret used with -viewer")
	reload := flag.Duration("reload", 0, "Request a manual reload at this interval (0 disables)")
	flag.Parse()

	if *token == "" && *viewer != 0 {
		t, err := identity.IssueToken(*secret, *viewer, time.Hour)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		*token = t
	}

	u := url.URL{Scheme: "ws", Host: *host, Path: fmt.Sprintf("/ws/threads/%s/%d", *kind, *threadID)}
	if *token != "" {
		u.RawQuery = url.Values{"token": {*token}}.Encode()
	}

	c, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			log.Fatalf("Dial failed with status %d: %v", resp.StatusCode, err)
		}
		log.Fatalf("Dial failed: %v", err)
	}
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = c.Close() }()
	log.Printf("Watching %s thread %d on %s", *kind, *threadID, *host)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("Stream ended: %v", err)
				}
				return
			}
			var msg server.StreamMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				log.Printf("Unreadable frame: %v", err)
				continue
			}
			printMessage(os.Stdout, msg)
		}
	}()

	var tick <-chan time.Time
	if *reload > 0 {
		ticker := time.NewTicker(*reload)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-done:
			return
		case <-tick:
			if err := c.WriteJSON(server.StreamMessage{Type: server.MessageReload}); err != nil {
				log.Printf("Reload request failed: %v", err)
				return
			}
		case <-interrupt:
			_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}

func printMessage(w io.Writer, msg server.StreamMessage) {
	if msg.Error != nil {
		_, _ = fmt.Fprintf(w, "! %s: %s\n", msg.Error.Code, msg.Error.Error)
	}
	if msg.Snapshot == nil {
		return
	}
	snap := msg.Snapshot
	_, _ = fmt.Fprintf(w, "--- generation %d: %s\n", snap.Generation, snap.State)
	if snap.Thread == nil {
		return
	}
	_, _ = fmt.Fprintf(w, "%d comments\n", snap.Thread.TotalCount)
	for _, n := range snap.Thread.Comments {
		printNode(w, n, 0)
		for _, r := range n.Replies {
			printNode(w, r, 1)
		}
	}
}

func printNode(w io.Writer, n thread.Node, depth int) {
	counts := fmt.Sprintf("+%d", n.LikesCount)
	if n.DislikesCount != nil {
		counts += fmt.Sprintf(" -%d", *n.DislikesCount)
	}
	content := strings.ReplaceAll(n.Content, "\n", " ")
	if len(content) > 72 {
		content = content[:69] + "..."
	}
	_, _ = fmt.Fprintf(w, "%s#%d [%s] (%s) viewer %d: %s\n",
		strings.Repeat("    ", depth), n.ID, counts, n.Reaction, n.AuthorID, content)
}
