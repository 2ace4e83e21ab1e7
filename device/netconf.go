package device

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/clbanning/mxj"
	"golang.org/x/crypto/ssh"

	"netops/metrics"
)

const (
	capBase10 = "urn:ietf:params:netconf:base:1.0"
	capBase11 = "urn:ietf:params:netconf:base:1.1"
	netconfNS = "urn:ietf:params:xml:ns:netconf:base:1.0"
	eomMarker = "]]>]]>"
)

var (
	// ErrNetconfUnavailable is returned by operations that need NETCONF when no
	// session could be established
	ErrNetconfUnavailable = errors.New("netconf session unavailable")
	// ErrFraming is returned when the peer violates NETCONF message framing
	ErrFraming = errors.New("netconf framing error")
	// ErrNetconfTransport wraps send and read failures; the session is dead
	ErrNetconfTransport = errors.New("netconf transport failed")
)

// RPCError is one <rpc-error> element from a reply
type RPCError struct {
	Type     string
	Tag      string
	Severity string
	Message  string
}

func (e *RPCError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Tag
	}
	return fmt.Sprintf("netconf rpc-error (%s/%s): %s", e.Type, e.Severity, msg)
}

// Reply is a parsed <rpc-reply>
type Reply struct {
	Raw  string
	Data mxj.Map
}

// OK reports whether the reply carries <ok/>
func (r *Reply) OK() bool {
	return len(r.values("ok")) > 0
}

// Result returns the text of the first <result> element, which is where
// IOS-XE puts exec command output
func (r *Reply) Result() string {
	for _, v := range r.values("result") {
		if s := textOf(v); s != "" {
			return s
		}
	}
	return ""
}

// Errors returns every <rpc-error> in the reply
func (r *Reply) Errors() []*RPCError {
	var out []*RPCError
	for _, v := range r.values("rpc-error") {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, &RPCError{
			Type:     textOf(m["error-type"]),
			Tag:      textOf(m["error-tag"]),
			Severity: textOf(m["error-severity"]),
			Message:  textOf(m["error-message"]),
		})
	}
	return out
}

func (r *Reply) values(key string) []any {
	if r.Data == nil {
		return nil
	}
	vals, err := r.Data.ValuesForKey(key)
	if err != nil {
		return nil
	}
	return vals
}

func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		if s, ok := t["#text"].(string); ok {
			return strings.TrimSpace(s)
		}
	case []any:
		if len(t) > 0 {
			return textOf(t[0])
		}
	}
	return ""
}

// ParseReply decodes a reply and converts rpc-error elements of severity
// "error" into a Go error
func ParseReply(raw []byte) (*Reply, error) {
	m, err := mxj.NewMapXml(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decode reply: %v", ErrFraming, err)
	}
	reply := &Reply{Raw: string(raw), Data: m}
	for _, rpcErr := range reply.Errors() {
		if rpcErr.Severity == "" || rpcErr.Severity == "error" {
			return reply, rpcErr
		}
	}
	return reply, nil
}

// framer reads and writes NETCONF messages in either end-of-message or
// chunked framing
type framer struct {
	r       *bufio.Reader
	w       io.Writer
	chunked bool
}

func newFramer(r io.Reader, w io.Writer) *framer {
	return &framer{r: bufio.NewReader(r), w: w}
}

func (f *framer) write(msg []byte) error {
	if !f.chunked {
		_, err := f.w.Write(append(append([]byte(nil), msg...), eomMarker...))
		return err
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "\n#%d\n", len(msg))
	buf.Write(msg)
	buf.WriteString("\n##\n")
	_, err := f.w.Write(buf.Bytes())
	return err
}

func (f *framer) read() ([]byte, error) {
	if f.chunked {
		return f.readChunked()
	}
	return f.readEOM()
}

func (f *framer) readEOM() ([]byte, error) {
	var buf bytes.Buffer
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
		if b == '>' && bytes.HasSuffix(buf.Bytes(), []byte(eomMarker)) {
			return bytes.TrimSpace(buf.Bytes()[:buf.Len()-len(eomMarker)]), nil
		}
	}
}

func (f *framer) readChunked() ([]byte, error) {
	var msg bytes.Buffer
	for {
		header, err := f.chunkHeader()
		if err != nil {
			return nil, err
		}
		if header == "#" {
			return msg.Bytes(), nil
		}
		size, err := strconv.Atoi(header)
		if err != nil || size <= 0 {
			return nil, fmt.Errorf("%w: bad chunk size %q", ErrFraming, header)
		}
		if _, err := io.CopyN(&msg, f.r, int64(size)); err != nil {
			return nil, err
		}
	}
}

// chunkHeader consumes "\n#<size>\n" or "\n##\n" and returns "<size>" or "#"
func (f *framer) chunkHeader() (string, error) {
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			break
		}
		if b != ' ' && b != '\r' {
			return "", fmt.Errorf("%w: expected chunk start, got %q", ErrFraming, b)
		}
	}
	if b, err := f.r.ReadByte(); err != nil {
		return "", err
	} else if b != '#' {
		return "", fmt.Errorf("%w: expected '#', got %q", ErrFraming, b)
	}
	line, err := f.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func clientHello() []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>` +
		`<hello xmlns="` + netconfNS + `"><capabilities>` +
		`<capability>` + capBase10 + `</capability>` +
		`<capability>` + capBase11 + `</capability>` +
		`</capabilities></hello>`)
}

// serverCapabilities extracts capability URIs from a server hello
func serverCapabilities(hello []byte) ([]string, error) {
	m, err := mxj.NewMapXml(hello)
	if err != nil {
		return nil, fmt.Errorf("%w: decode hello: %v", ErrFraming, err)
	}
	vals, err := m.ValuesForKey("capability")
	if err != nil {
		return nil, err
	}
	caps := make([]string, 0, len(vals))
	for _, v := range vals {
		if s := textOf(v); s != "" {
			caps = append(caps, s)
		}
	}
	return caps, nil
}

// NetconfSession speaks NETCONF over any stream pair
type NetconfSession struct {
	mu           sync.Mutex
	f            *framer
	closer       io.Closer
	closeOnce    sync.Once
	closeErr     error
	messageID    int
	capabilities []string
}

func newNetconfSession(r io.Reader, w io.Writer, closer io.Closer) (*NetconfSession, error) {
	s := &NetconfSession{f: newFramer(r, w), closer: closer}
	if err := s.f.write(clientHello()); err != nil {
		return nil, fmt.Errorf("send hello: %w", err)
	}
	hello, err := s.f.readEOM()
	if err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	caps, err := serverCapabilities(hello)
	if err != nil {
		return nil, err
	}
	s.capabilities = caps
	for _, c := range caps {
		if c == capBase11 {
			s.f.chunked = true
			break
		}
	}
	return s, nil
}

// DialNetconf opens the "netconf" SSH subsystem and exchanges hellos
func DialNetconf(ctx context.Context, target Target) (*NetconfSession, error) {
	if target.Timeout == 0 {
		target.Timeout = 10 * time.Second
	}
	client, err := dialSSH(ctx, target.addr(830), sshConfig(target))
	metrics.IncrementDeviceSession("netconf", err)
	if err != nil {
		return nil, fmt.Errorf("netconf %s: %w", target.Host, err)
	}
	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("netconf %s: new session: %w", target.Host, err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, err
	}
	if err := session.RequestSubsystem("netconf"); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("netconf %s: subsystem: %w", target.Host, err)
	}
	nc, err := newNetconfSession(stdout, stdin, sshCloser{session: session, client: client})
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("netconf %s: %w", target.Host, err)
	}
	return nc, nil
}

type sshCloser struct {
	session *ssh.Session
	client  *ssh.Client
}

func (c sshCloser) Close() error {
	_ = c.session.Close()
	return c.client.Close()
}

// Capabilities returns what the server advertised in its hello
func (s *NetconfSession) Capabilities() []string {
	return s.capabilities
}

// Dispatch wraps body in an <rpc> envelope and waits for the reply
func (s *NetconfSession) Dispatch(ctx context.Context, body string) (*Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.messageID++
	msg := fmt.Sprintf(`<rpc message-id="%d" xmlns="%s">%s</rpc>`, s.messageID, netconfNS, body)
	if err := s.f.write([]byte(msg)); err != nil {
		return nil, fmt.Errorf("%w: send rpc: %w", ErrNetconfTransport, err)
	}

	type result struct {
		raw []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		raw, err := s.f.read()
		done <- result{raw, err}
	}()
	select {
	case <-ctx.Done():
		// The reader goroutine is left blocked; the session is unusable now.
		_ = s.shutdown()
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("%w: read reply: %w", ErrNetconfTransport, res.err)
		}
		return ParseReply(res.raw)
	}
}

// EditConfig sends <edit-config> with config (a full <config> element) to the
// named datastore
func (s *NetconfSession) EditConfig(ctx context.Context, target, config string) (*Reply, error) {
	body := fmt.Sprintf(`<edit-config><target><%s/></target>%s</edit-config>`, target, config)
	return s.Dispatch(ctx, body)
}

// Close sends <close-session> and tears down the transport
func (s *NetconfSession) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = s.Dispatch(ctx, "<close-session/>")
	return s.shutdown()
}

func (s *NetconfSession) shutdown() error {
	s.closeOnce.Do(func() {
		if s.closer != nil {
			s.closeErr = s.closer.Close()
		}
	})
	return s.closeErr
}
