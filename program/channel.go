package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	tui "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/term"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/keilerkonzept/visitor-counter/internal/visitor"
)

const (
	dialTimeout  = 5 * time.Second
	writeTimeout = 3 * time.Second
	readLimit    = 1 << 20
)

// liveConn is the persistent connection to the stats server.
type liveConn interface {
	SendGroup(ctx context.Context, size int) error
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

type wsConn struct {
	conn *websocket.Conn
}

func dialLive(ctx context.Context, url string) (*wsConn, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(readLimit)
	return &wsConn{conn: conn}, nil
}

func (c *wsConn) SendGroup(ctx context.Context, size int) error {
	return wsjson.Write(ctx, c.conn, visitor.GroupMessage{GroupSize: size})
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

type connState int

const (
	connConnecting connState = iota
	connOpen
	connClosed
)

func (s connState) String() string {
	switch s {
	case connOpen:
		return "live"
	case connClosed:
		return "offline"
	default:
		return "connecting"
	}
}

type connOpenedMsg struct{ conn liveConn }

type connClosedMsg struct{ err error }

// streamMsg is one inbound frame, already decoded.
type streamMsg struct{ decoded visitor.Decoded }

// fetchMsg is the outcome of the bootstrap GET.
type fetchMsg struct{ decoded visitor.Decoded }

func dialCmd(ctx context.Context, url string) tui.Cmd {
	return func() tui.Msg {
		conn, err := dialLive(ctx, url)
		if err != nil {
			return connClosedMsg{err}
		}
		return connOpenedMsg{conn}
	}
}

func listenCmd(ctx context.Context, conn liveConn) tui.Cmd {
	return func() tui.Msg {
		data, err := conn.Read(ctx)
		if err != nil {
			return connClosedMsg{err}
		}
		return streamMsg{visitor.Decode(data)}
	}
}

func fetchCmd(ctx context.Context, client *http.Client, url string) tui.Cmd {
	return func() tui.Msg {
		return fetchMsg{fetchStats(ctx, client, url)}
	}
}

func fetchStats(ctx context.Context, client *http.Client, url string) visitor.Decoded {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return visitor.Decoded{Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return visitor.Decoded{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return visitor.Decoded{Err: fmt.Errorf("GET %s: %s", url, resp.Status)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, readLimit))
	if err != nil {
		return visitor.Decoded{Err: err}
	}
	return visitor.Decode(body)
}

// scriptedTickMsg is a tick read from piped input.
type scriptedTickMsg struct{}

type scriptDoneMsg struct{ err error }

// openScript returns the tick script: the -in file if given, else stdin when
// it is not a terminal. ok is false when there is nothing to read.
func openScript() (io.ReadCloser, bool, error) {
	if config.InputPath != "" {
		f, err := os.Open(config.InputPath)
		if err != nil {
			return nil, false, err
		}
		return f, true, nil
	}
	if term.IsTerminal(os.Stdin.Fd()) {
		return nil, false, nil
	}
	return io.NopCloser(os.Stdin), true, nil
}

// readScript turns every line of r into one tick on the returned channel.
// The error channel receives the scan result once r is exhausted.
func readScript(ctx context.Context, r io.ReadCloser, pace time.Duration) (<-chan struct{}, <-chan error) {
	ticks := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		defer close(ticks)
		defer func() { _ = r.Close() }()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case ticks <- struct{}{}:
			case <-ctx.Done():
				done <- ctx.Err()
				return
			}
			if pace > 0 {
				select {
				case <-time.After(pace):
				case <-ctx.Done():
					done <- ctx.Err()
					return
				}
			}
		}
		done <- scanner.Err()
	}()
	return ticks, done
}

func waitScriptCmd(ticks <-chan struct{}, done <-chan error) tui.Cmd {
	return func() tui.Msg {
		if _, ok := <-ticks; ok {
			return scriptedTickMsg{}
		}
		return scriptDoneMsg{<-done}
	}
}
