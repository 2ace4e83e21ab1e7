package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/crypto/ssh"

	"netops/metrics"
)

var (
	// ErrSessionClosed is returned when the remote side ends the session
	ErrSessionClosed = errors.New("device session closed")
	// ErrPromptTimeout is returned when the device prompt never appears
	ErrPromptTimeout = errors.New("timed out waiting for device prompt")

	ansiEscapeRe = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)
)

// Target identifies one device and how to log in to it
type Target struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

func (t Target) addr(defaultPort int) string {
	port := t.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

func sshConfig(t Target) *ssh.ClientConfig {
	password := t.Password
	return &ssh.ClientConfig{
		User: t.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		// Switches are addressed by management IP from NetBox; no known_hosts store exists.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         t.Timeout,
	}
}

// dialSSH connects with a short exponential backoff. Authentication failures
// are not retried.
func dialSSH(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	var client *ssh.Client
	op := func() error {
		d := net.Dialer{Timeout: cfg.Timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		// The dialer timeout ends at connect; the handshake gets its own.
		if cfg.Timeout > 0 {
			_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
		}
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
		if err != nil {
			conn.Close()
			if strings.Contains(err.Error(), "unable to authenticate") {
				return backoff.Permanent(err)
			}
			return err
		}
		_ = conn.SetDeadline(time.Time{})
		client = ssh.NewClient(c, chans, reqs)
		return nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = 2 * cfg.Timeout
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, 2), ctx))
	return client, err
}

// shellReader pumps a remote shell's output into a channel
type shellReader struct {
	chunks  chan []byte
	pending []byte
}

func newShellReader(r io.Reader) *shellReader {
	sr := &shellReader{chunks: make(chan []byte, 64)}
	go func() {
		defer close(sr.chunks)
		buf := make([]byte, 32*1024)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				sr.chunks <- chunk
			}
			if err != nil {
				return
			}
		}
	}()
	return sr
}

// readUntil accumulates output until re matches or timeout elapses
func (sr *shellReader) readUntil(ctx context.Context, re *regexp.Regexp, timeout time.Duration) (string, error) {
	acc := append([]byte(nil), sr.pending...)
	sr.pending = nil
	if re.Match(normalize(acc)) {
		return string(acc), nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return string(acc), ctx.Err()
		case <-timer.C:
			return string(acc), ErrPromptTimeout
		case chunk, ok := <-sr.chunks:
			if !ok {
				return string(acc), ErrSessionClosed
			}
			acc = append(acc, chunk...)
			if re.Match(normalize(acc)) {
				return string(acc), nil
			}
		}
	}
}

// readIdle accumulates output until nothing arrives for idle, or max elapses
func (sr *shellReader) readIdle(ctx context.Context, idle, max time.Duration) (string, error) {
	acc := append([]byte(nil), sr.pending...)
	sr.pending = nil
	deadline := time.NewTimer(max)
	defer deadline.Stop()
	quiet := time.NewTimer(idle)
	defer quiet.Stop()
	for {
		select {
		case <-ctx.Done():
			return string(acc), ctx.Err()
		case <-deadline.C:
			return string(acc), nil
		case <-quiet.C:
			return string(acc), nil
		case chunk, ok := <-sr.chunks:
			if !ok {
				return string(acc), nil
			}
			acc = append(acc, chunk...)
			if !quiet.Stop() {
				<-quiet.C
			}
			quiet.Reset(idle)
		}
	}
}

func normalize(b []byte) []byte {
	s := strings.ReplaceAll(string(b), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "")
	return []byte(ansiEscapeRe.ReplaceAllString(s, ""))
}

// SSHCLI is an interactive shell session on a network device
type SSHCLI struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	reader  *shellReader
	profile Profile

	mu          sync.Mutex
	basePrompt  string
	prompt      *regexp.Regexp
	readTimeout time.Duration
	idleDelay   time.Duration
}

// DialCLI opens an interactive shell, waits for the prompt and disables paging
func DialCLI(ctx context.Context, target Target, deviceType string) (*SSHCLI, error) {
	if target.Timeout == 0 {
		target.Timeout = 20 * time.Second
	}
	client, err := dialSSH(ctx, target.addr(22), sshConfig(target))
	metrics.IncrementDeviceSession("ssh", err)
	if err != nil {
		return nil, fmt.Errorf("ssh %s: %w", target.Host, err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ssh %s: new session: %w", target.Host, err)
	}
	modes := ssh.TerminalModes{ssh.ECHO: 1, ssh.TTY_OP_ISPEED: 38400, ssh.TTY_OP_OSPEED: 38400}
	if err := session.RequestPty("vt100", 0, 511, modes); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("ssh %s: pty: %w", target.Host, err)
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
	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("ssh %s: shell: %w", target.Host, err)
	}

	cli := &SSHCLI{
		client:      client,
		session:     session,
		stdin:       stdin,
		reader:      newShellReader(stdout),
		profile:     ProfileFor(deviceType),
		readTimeout: 30 * time.Second,
		idleDelay:   2 * time.Second,
	}
	if err := cli.prepare(ctx, target.Timeout); err != nil {
		cli.Close()
		return nil, fmt.Errorf("ssh %s: %w", target.Host, err)
	}
	return cli, nil
}

func (s *SSHCLI) prepare(ctx context.Context, timeout time.Duration) error {
	if _, err := io.WriteString(s.stdin, "\n"); err != nil {
		return err
	}
	banner, err := s.reader.readUntil(ctx, s.profile.promptPattern(""), timeout)
	if err != nil {
		return fmt.Errorf("waiting for prompt: %w", err)
	}
	s.basePrompt = basePrompt(string(normalize([]byte(banner))), s.profile.PromptTerminators)
	s.prompt = s.profile.promptPattern(s.basePrompt)

	for _, cmd := range s.profile.SessionPrep {
		if _, err := s.SendCommand(ctx, cmd); err != nil {
			return fmt.Errorf("session prep %q: %w", cmd, err)
		}
	}
	return nil
}

// basePrompt strips the terminator and any "(config...)" suffix from the last line
func basePrompt(output, terminators string) string {
	output = strings.TrimRight(output, " \n")
	if idx := strings.LastIndex(output, "\n"); idx >= 0 {
		output = output[idx+1:]
	}
	output = strings.TrimSpace(output)
	output = strings.TrimRight(output, terminators)
	if idx := strings.Index(output, "("); idx > 0 {
		output = output[:idx]
	}
	return output
}

// SendCommand runs cmd and returns its output without the echoed command or
// the trailing prompt
func (s *SSHCLI) SendCommand(ctx context.Context, cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd = strings.TrimRight(cmd, "\n")
	if _, err := io.WriteString(s.stdin, cmd+"\n"); err != nil {
		return "", err
	}
	raw, err := s.reader.readUntil(ctx, s.prompt, s.readTimeout)
	if err != nil {
		return cleanOutput(raw, cmd, s.prompt), fmt.Errorf("%q: %w", cmd, err)
	}
	return cleanOutput(raw, cmd, s.prompt), nil
}

// SendCommandTiming runs cmd and returns whatever arrives until output goes
// idle. Used for commands that answer with a confirmation question.
func (s *SSHCLI) SendCommandTiming(ctx context.Context, cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd = strings.TrimRight(cmd, "\n")
	if _, err := io.WriteString(s.stdin, cmd+"\n"); err != nil {
		return "", err
	}
	raw, err := s.reader.readIdle(ctx, s.idleDelay, s.readTimeout)
	return cleanOutput(raw, cmd, s.prompt), err
}

// SendConfigSet enters configuration mode, sends each line, and exits
func (s *SSHCLI) SendConfigSet(ctx context.Context, lines []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out strings.Builder
	send := func(line string) error {
		if _, err := io.WriteString(s.stdin, line+"\n"); err != nil {
			return err
		}
		raw, err := s.reader.readUntil(ctx, s.prompt, s.readTimeout)
		out.WriteString(string(normalize([]byte(raw))))
		if err != nil {
			return fmt.Errorf("%q: %w", line, err)
		}
		return nil
	}

	if err := send(s.profile.ConfigEnter); err != nil {
		return out.String(), err
	}
	for _, line := range lines {
		if err := send(line); err != nil {
			return out.String(), err
		}
	}
	if err := send(s.profile.ConfigExit); err != nil {
		return out.String(), err
	}
	return out.String(), nil
}

// Close ends the shell and the connection
func (s *SSHCLI) Close() error {
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.session != nil {
		_ = s.session.Close()
	}
	return s.client.Close()
}

// cleanOutput drops the echoed command line and the trailing prompt
func cleanOutput(raw, cmd string, prompt *regexp.Regexp) string {
	text := string(normalize([]byte(raw)))
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && cmd != "" && strings.Contains(lines[0], strings.TrimSpace(cmd)) {
		lines = lines[1:]
	}
	if n := len(lines); n > 0 && prompt != nil && prompt.MatchString(lines[n-1]) {
		lines = lines[:n-1]
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
