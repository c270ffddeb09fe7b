// Package sse incrementally frames a text/event-stream body into records.
//
// The parser is fed arbitrary chunks of the stream and only ever acts on
// complete lines, so the records it produces do not depend on where the
// chunk boundaries fall.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
)

// DefaultEventType is the type of a record that carried no event: line.
const DefaultEventType = "message"

// DefaultMaxLineBytes bounds a single buffered line.
const DefaultMaxLineBytes = 4 << 20

// ErrLineTooLong is returned by Feed when a line exceeds the configured limit.
var ErrLineTooLong = errors.New("sse: line too long")

// Drop reasons reported through Options.OnDrop.
const (
	DropType = "type"
	DropJSON = "json"
)

// Record is one dispatched event.
type Record struct {
	Type        string
	Payload     json.RawMessage
	ID          string
	Sequence    int64
	HasSequence bool
}

// Options configures a Parser.
type Options struct {
	// AllowedTypes is the closed set of event types that may be emitted.
	AllowedTypes []string
	MaxLineBytes int
	Logger       *slog.Logger
	// OnDrop is called for every terminated event that was not emitted.
	OnDrop func(eventType, reason string)
}

// Parser is not safe for concurrent use; each connection owns one.
type Parser struct {
	allowed  map[string]struct{}
	maxLine  int
	logger   *slog.Logger
	onDrop   func(string, string)
	pending  []byte
	typ      string
	// rejected holds the first disallowed event: value of the current
	// record. Any such value drops the whole record.
	rejected string
	data     strings.Builder
	dataSeen bool
	lastID   string
}

// NewParser creates a parser with an empty line buffer.
func NewParser(opts Options) *Parser {
	p := &Parser{
		allowed: make(map[string]struct{}, len(opts.AllowedTypes)),
		maxLine: opts.MaxLineBytes,
		logger:  opts.Logger,
		onDrop:  opts.OnDrop,
		typ:     DefaultEventType,
	}
	for _, t := range opts.AllowedTypes {
		p.allowed[t] = struct{}{}
	}
	if p.maxLine <= 0 {
		p.maxLine = DefaultMaxLineBytes
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Allowed reports whether eventType is in the allowlist.
func (p *Parser) Allowed(eventType string) bool {
	_, ok := p.allowed[eventType]
	return ok
}

// LastID returns the most recent id: value seen on this stream.
func (p *Parser) LastID() string {
	return p.lastID
}

// Reset discards all state, including the last event id.
func (p *Parser) Reset() {
	p.pending = p.pending[:0]
	p.resetEvent()
	p.lastID = ""
}

// Feed consumes the next chunk of the stream and returns the records it
// completed, in stream order.
func (p *Parser) Feed(chunk []byte) ([]Record, error) {
	var out []Record
	p.pending = append(p.pending, chunk...)
	for {
		i := bytes.IndexByte(p.pending, '\n')
		if i < 0 {
			break
		}
		line := p.pending[:i]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		if len(line) > p.maxLine {
			return out, ErrLineTooLong
		}
		if rec, ok := p.processLine(string(line)); ok {
			out = append(out, rec)
		}
		p.pending = p.pending[i+1:]
	}
	if len(p.pending) > p.maxLine {
		return out, ErrLineTooLong
	}
	// Compact so the backing array does not grow with the stream.
	if len(p.pending) == 0 {
		p.pending = nil
	}
	return out, nil
}

func (p *Parser) processLine(line string) (Record, bool) {
	if line == "" {
		return p.dispatch()
	}
	switch {
	case strings.HasPrefix(line, "event:"):
		p.typ = strings.TrimSpace(line[len("event:"):])
		if p.typ == "" {
			p.typ = DefaultEventType
		}
		if p.rejected == "" && !p.Allowed(p.typ) {
			p.rejected = p.typ
		}
	case strings.HasPrefix(line, "data:"):
		value := line[len("data:"):]
		if strings.HasPrefix(value, " ") {
			value = value[1:]
		}
		if p.dataSeen {
			p.data.WriteByte('\n')
		}
		p.data.WriteString(value)
		p.dataSeen = true
	case strings.HasPrefix(line, "id:"):
		p.lastID = strings.TrimSpace(line[len("id:"):])
	}
	return Record{}, false
}

func (p *Parser) dispatch() (Record, bool) {
	defer p.resetEvent()

	data := strings.TrimSuffix(p.data.String(), "\n")
	if data == "" {
		return Record{}, false
	}
	if rejected := p.rejectedType(); rejected != "" {
		p.logger.Warn("Dropping event with disallowed type", slog.String("type", rejected))
		p.drop(rejected, DropType)
		return Record{}, false
	}
	if !json.Valid([]byte(data)) {
		p.logger.Warn("Dropping event with malformed JSON payload",
			slog.String("type", p.typ), slog.String("id", p.lastID))
		p.drop(p.typ, DropJSON)
		return Record{}, false
	}

	rec := Record{
		Type:    p.typ,
		Payload: json.RawMessage(data),
		ID:      p.lastID,
	}
	if p.lastID != "" {
		if seq, err := strconv.ParseInt(p.lastID, 10, 64); err == nil {
			rec.Sequence = seq
			rec.HasSequence = true
		}
	}
	return rec, true
}

// rejectedType returns the first disallowed type named by the current record,
// including the default type when no event: line was seen.
func (p *Parser) rejectedType() string {
	if p.rejected != "" {
		return p.rejected
	}
	if !p.Allowed(p.typ) {
		return p.typ
	}
	return ""
}

func (p *Parser) drop(eventType, reason string) {
	if p.onDrop != nil {
		p.onDrop(eventType, reason)
	}
}

func (p *Parser) resetEvent() {
	p.typ = DefaultEventType
	p.rejected = ""
	p.data.Reset()
	p.dataSeen = false
}
