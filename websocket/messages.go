package websocket

import (
	"strconv"
	"strings"

	"netops/textfsm"
)

// CounterKind selects which "show interfaces" fields a stream reports
type CounterKind string

const (
	// ErrorCounters reports input/output error totals
	ErrorCounters CounterKind = "errors"
	// PacketCounters reports input/output packet totals
	PacketCounters CounterKind = "packets"
)

func (k CounterKind) fields() (string, string) {
	if k == PacketCounters {
		return "INPUT_PACKETS", "OUTPUT_PACKETS"
	}
	return "INPUT_ERRORS", "OUTPUT_ERRORS"
}

// CounterMessage is one sample sent to the client
type CounterMessage struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
}

// ErrorMessage reports a problem with the stream
type ErrorMessage struct {
	Error string `json:"error"`
}

const (
	msgMissingParams = "Missing host or interface"
	msgNoData        = "No data"
)

// Update is what a poller delivers to each subscriber
type Update struct {
	Rows []textfsm.Record
	Err  error
}

// Message converts rows to the client payload for kind. An empty result
// becomes a "No data" error message.
func (k CounterKind) Message(rows []textfsm.Record) interface{} {
	if len(rows) == 0 {
		return ErrorMessage{Error: msgNoData}
	}
	in, out := k.fields()
	return CounterMessage{
		Input:  counterValue(rows[0].String(in)),
		Output: counterValue(rows[0].String(out)),
	}
}

func counterValue(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
