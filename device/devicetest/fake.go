// Package devicetest provides in-memory device sessions for tests
package devicetest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"netops/device"
)

// ErrNoNetconf is what the fake dialer returns when no NETCONF fake is set
var ErrNoNetconf = errors.New("connection refused")

// CLI answers commands from a fixed table
type CLI struct {
	mu sync.Mutex

	Outputs      map[string]string
	Errors       map[string]error
	ConfigOutput string
	ConfigErr    error

	Sent       []string
	ConfigSets [][]string
	Closed     bool
}

// NewCLI returns a CLI that answers with outputs
func NewCLI(outputs map[string]string) *CLI {
	if outputs == nil {
		outputs = map[string]string{}
	}
	return &CLI{Outputs: outputs, Errors: map[string]error{}}
}

func (f *CLI) answer(cmd string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, cmd)
	if err, ok := f.Errors[cmd]; ok {
		return "", err
	}
	return f.Outputs[cmd], nil
}

func (f *CLI) SendCommand(_ context.Context, cmd string) (string, error) {
	return f.answer(cmd)
}

func (f *CLI) SendCommandTiming(_ context.Context, cmd string) (string, error) {
	return f.answer(cmd)
}

func (f *CLI) SendConfigSet(_ context.Context, lines []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ConfigSets = append(f.ConfigSets, append([]string(nil), lines...))
	return f.ConfigOutput, f.ConfigErr
}

func (f *CLI) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Commands returns a copy of every command sent so far
func (f *CLI) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Sent...)
}

// Netconf replies to RPCs with canned XML
type Netconf struct {
	mu sync.Mutex

	// Reply builds the raw <rpc-reply> for an RPC body. Nil means <ok/>.
	Reply func(body string) (string, error)

	Dispatched []string
	Edits      []Edit
	Closed     bool
}

// Edit records one edit-config call
type Edit struct {
	Target string
	Config string
}

const okReply = `<rpc-reply xmlns="urn:ietf:params:xml:ns:netconf:base:1.0" message-id="1"><ok/></rpc-reply>`

func (f *Netconf) reply(body string) (*device.Reply, error) {
	raw := okReply
	if f.Reply != nil {
		r, err := f.Reply(body)
		if err != nil {
			return nil, err
		}
		raw = r
	}
	return device.ParseReply([]byte(raw))
}

func (f *Netconf) Dispatch(_ context.Context, body string) (*device.Reply, error) {
	f.mu.Lock()
	f.Dispatched = append(f.Dispatched, body)
	f.mu.Unlock()
	return f.reply(body)
}

func (f *Netconf) EditConfig(_ context.Context, target, config string) (*device.Reply, error) {
	f.mu.Lock()
	f.Edits = append(f.Edits, Edit{Target: target, Config: config})
	f.mu.Unlock()
	return f.reply(config)
}

func (f *Netconf) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// ExecResult wraps CLI text in an IOS-XE exec reply
func ExecResult(text string) string {
	var b strings.Builder
	b.WriteString(`<rpc-reply xmlns="urn:ietf:params:xml:ns:netconf:base:1.0" message-id="1">`)
	b.WriteString(`<result xmlns="http://cisco.com/ns/yang/Cisco-IOS-XE-rpc">`)
	b.WriteString(strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(text))
	b.WriteString(`</result></rpc-reply>`)
	return b.String()
}

// Dials counts how often the fake connector dialed each transport
type Dials struct {
	mu      sync.Mutex
	CLI     int
	Netconf int
	Targets []device.Target
}

func (d *Dials) record(t device.Target, cli bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cli {
		d.CLI++
	} else {
		d.Netconf++
	}
	d.Targets = append(d.Targets, t)
}

// Connector returns a device.Connector whose dialers hand out cli and nc.
// A nil nc makes every NETCONF dial fail.
func Connector(cli *CLI, nc *Netconf) (*device.Connector, *Dials) {
	dials := &Dials{}
	conn := &device.Connector{
		SSHPort:      22,
		NetconfPort:  830,
		RestartDelay: time.Millisecond,
		DialCLI: func(_ context.Context, t device.Target, _ string) (device.CLI, error) {
			dials.record(t, true)
			return cli, nil
		},
		DialNetconf: func(_ context.Context, t device.Target) (device.Netconf, error) {
			dials.record(t, false)
			if nc == nil {
				return nil, ErrNoNetconf
			}
			return nc, nil
		},
	}
	return conn, dials
}

// StaticVendors resolves every MAC to the same vendor
type StaticVendors string

func (v StaticVendors) Lookup(_ context.Context, _ string) string { return string(v) }
