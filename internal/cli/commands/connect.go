package commands

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aki/remux/internal/cli/ui"
	"github.com/aki/remux/internal/config"
	"github.com/aki/remux/internal/server"
	"github.com/aki/remux/internal/wire"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to a running server",
	Long: `Open an interactive session against a running server. Forms typed on
stdin are evaluated remotely and the tagged replies are rendered as
they arrive. Ctrl+C interrupts the running evaluation, or disconnects
when nothing is running.`,
	RunE: runConnect,
}

var (
	connectAddr      string
	connectResources string
)

func init() {
	connectCmd.Flags().StringVarP(&connectAddr, "addr", "a", "", "Server address (host:port or unix:/path/to.sock)")
	connectCmd.Flags().StringVar(&connectResources, "resources", "", "Directory answering side-loader requests")
}

func runConnect(cmd *cobra.Command, args []string) error {
	addr := connectAddr
	if addr == "" {
		addr = config.Default().Server.Addr
	}

	network, address := server.SplitAddr(addr)
	conn, err := net.Dial(network, address)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	c := newClient(conn, network, address, os.Stdout, connectResources)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if !c.interruptRunning() {
				ui.Warning("Disconnecting")
				closeWrite(conn)
			}
		}
	}()

	return c.run(os.Stdin)
}

// client pumps input lines to the server and renders the tagged replies.
// All connection writes go through send, so typed forms and side-loader
// responses never interleave.
type client struct {
	conn      net.Conn
	network   string
	address   string
	render    *ui.Renderer
	resources string

	writeMu sync.Mutex

	mu        sync.Mutex
	session   string
	evalID    uint64
	interrupt string
}

func newClient(conn net.Conn, network, address string, out io.Writer, resources string) *client {
	return &client{
		conn:      conn,
		network:   network,
		address:   address,
		render:    ui.NewRenderer(out),
		resources: resources,
	}
}

// run reads forms from in until EOF, then half-closes the connection and
// waits for the server's bye. When the server side ends first, run
// returns without waiting on in: a blocked stdin read cannot be
// interrupted, so that goroutine ends with the process.
func (c *client) run(in io.Reader) error {
	readDone := make(chan error, 1)
	go func() { readDone <- c.readLoop() }()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if err := c.send(scanner.Text()); err != nil {
				return
			}
		}
		closeWrite(c.conn)
	}()

	select {
	case err := <-readDone:
		return err
	case <-writeDone:
		return <-readDone
	}
}

func (c *client) send(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := io.WriteString(c.conn, line+"\n")
	return err
}

// readLoop renders every server line until the connection ends.
// Side-loader requests arrive as bare JSON arrays rather than tagged
// messages, so each line is classified before decoding.
func (c *client) readLoop() error {
	br := bufio.NewReader(c.conn)
	for {
		line, err := br.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			c.handleLine(trimmed)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (c *client) handleLine(line string) {
	if strings.HasPrefix(line, "[") {
		var req [2]string
		if err := json.Unmarshal([]byte(line), &req); err == nil {
			c.answerSideload(req[0], req[1])
			return
		}
	}

	var m wire.Message
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		c.render.Note(line)
		return
	}
	c.track(m)
	c.render.Render(m)
}

// track remembers the running evaluation's interrupt action so a signal
// can re-send the descriptor verbatim.
func (c *client) track(m wire.Message) {
	switch m.Tag {
	case wire.TagHello:
		var p wire.HelloPayload
		if m.DecodePayload(&p) == nil {
			c.mu.Lock()
			c.session = p.Session
			c.mu.Unlock()
		}
	case wire.TagStartedEval:
		var p wire.StartedEvalPayload
		if m.DecodePayload(&p) == nil {
			c.mu.Lock()
			c.evalID = m.Eval
			c.interrupt = p.Actions["interrupt"]
			c.mu.Unlock()
		}
	case wire.TagEval, wire.TagException:
		c.mu.Lock()
		if m.Eval != 0 && m.Eval == c.evalID {
			c.evalID = 0
			c.interrupt = ""
		}
		c.mu.Unlock()
	}
}

// interruptRunning re-sends the interrupt descriptor attached to the
// evaluation in flight. Reports whether there was one. The descriptor
// goes out on a fresh connection: this one is blocked evaluating, and
// the descriptor names the session explicitly so any connection may
// deliver it.
func (c *client) interruptRunning() bool {
	c.mu.Lock()
	form := c.interrupt
	c.mu.Unlock()
	if form == "" {
		return false
	}
	if err := c.sendAside(form); err != nil {
		c.render.Note(fmt.Sprintf("interrupt failed: %v", err))
	}
	return true
}

// sendAside delivers one administrative form over a short-lived side
// connection and drains the replies.
func (c *client) sendAside(form string) error {
	aside, err := net.Dial(c.network, c.address)
	if err != nil {
		return err
	}
	defer aside.Close()
	if _, err := io.WriteString(aside, form+"\n"); err != nil {
		return err
	}
	closeWrite(aside)
	_, _ = io.Copy(io.Discard, aside)
	return nil
}

// answerSideload resolves a [kind, name] request against the resources
// directory. Anything unresolvable answers null so the remote call can
// finish instead of stalling.
func (c *client) answerSideload(kind, name string) {
	data, ok := c.loadResource(name)
	if !ok {
		c.render.Note(fmt.Sprintf("side-loader: %s %s (not found)", kind, name))
		_ = c.send("null")
		return
	}
	c.render.Note(fmt.Sprintf("side-loader: %s %s (%d bytes)", kind, name, len(data)))
	encoded, _ := json.Marshal(base64.StdEncoding.EncodeToString(data))
	_ = c.send(string(encoded))
}

func (c *client) loadResource(name string) ([]byte, bool) {
	local := filepath.FromSlash(name)
	if c.resources == "" || !filepath.IsLocal(local) {
		return nil, false
	}
	data, err := os.ReadFile(filepath.Join(c.resources, local))
	if err != nil {
		return nil, false
	}
	return data, true
}

// closeWrite half-closes the connection so the server still gets to say
// bye on its way out.
func closeWrite(conn net.Conn) {
	type writeCloser interface{ CloseWrite() error }
	if wc, ok := conn.(writeCloser); ok {
		_ = wc.CloseWrite()
		return
	}
	_ = conn.Close()
}
