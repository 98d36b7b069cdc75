// Package wire implements the on-the-wire message format shared by every
// peer in the cluster: a newline-delimited, textual FIELD:VALUE record.
//
// Big idea:
//
// Rather than reach for a binary or JSON envelope, the protocol is
// intentionally as simple as a Redis RESP line: five fixed header
// lines, an optional run of piggybacked peer blocks, and a handful of
// type-specific trailing fields. A human can open a packet capture and
// read the protocol.
//
// Every message starts with:
//
//	SOURCE:<address>
//	DESTINATION:<address>
//	TYPE:<message type>
//	SOURCE-ID:<int>
//	NODE-COUNT:<int>
//
// NODE-COUNT is -1 when the sender is carrying no membership
// information at all, and >=0 when that many PeerInfo blocks follow,
// each five lines (ID, STATUS, ADDRESS, IS-DOWN, LAST-UPDATED).
// Whatever type-specific fields the message type requires come last.
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Type identifies the kind of message carried on the wire.
type Type string

// All message kinds the protocol understands. Empty names the
// internal "timed-out listen/send" kind and is never put on the wire;
// the transport package represents that sentinel as a zero Message
// (Type ""), so no code path produces a Message of Type Empty.
const (
	ClientReadRequest     Type = "ClientReadRequest"
	ClientReadResponse    Type = "ClientReadResponse"
	ClientWriteRequest    Type = "ClientWriteRequest"
	ClientWriteResponse   Type = "ClientWriteResponse"
	ClientDeleteRequest   Type = "ClientDeleteRequest"
	KeyRequest            Type = "KeyRequest"
	KeyAcknowledgement    Type = "KeyAcknowledgement"
	KeyQuery              Type = "KeyQuery"
	ValueResponse         Type = "ValueResponse"
	WriteRequest          Type = "WriteRequest"
	WriteAcknowledgement  Type = "WriteAcknowledgement"
	DeleteRequest         Type = "DeleteRequest"
	DeleteAcknowledgement Type = "DeleteAcknowledgement"
	Ping                  Type = "Ping"
	JoinRequest           Type = "JoinRequest"
	JoinResponse          Type = "JoinResponse"
	JoinIntroduction      Type = "JoinIntroduction"
	FailureIndication     Type = "FailureIndication"
	Empty                 Type = "Empty"
)

// knownTypes is used to reject an unrecognized TYPE line.
var knownTypes = map[Type]bool{
	ClientReadRequest: true, ClientReadResponse: true,
	ClientWriteRequest: true, ClientWriteResponse: true,
	ClientDeleteRequest: true, KeyRequest: true, KeyAcknowledgement: true,
	KeyQuery: true, ValueResponse: true, WriteRequest: true,
	WriteAcknowledgement: true, DeleteRequest: true, DeleteAcknowledgement: true,
	Ping: true, JoinRequest: true, JoinResponse: true, JoinIntroduction: true,
	FailureIndication: true,
}

// Status is the PeerInfo's STATUS field — mirrors a peer's role.
type Status string

const (
	StatusCoordinator Status = "Coordinator"
	StatusNode        Status = "Node"
	StatusClient      Status = "Client"
)

// Reserved peer ids, per the data model.
const (
	CoordinatorID = 0
	ClientID      = -1
)

// PeerInfo is one piggybacked peer block.
type PeerInfo struct {
	ID          int
	Status      Status
	Address     string
	IsDown      bool
	LastUpdated int64
}

// Message is a fully decoded protocol record.
//
// Peers is nil when the sender attached no membership information at
// all (NODE-COUNT -1) and non-nil (possibly empty) otherwise. Callers
// that want to omit the piggyback set entirely must leave Peers nil
// rather than passing an empty, non-nil slice, so that omission
// round-trips.
type Message struct {
	Source      string
	Destination string
	Type        Type
	SourceID    int
	Peers       []PeerInfo

	// Type-specific fields. Not every field applies to every Type;
	// see the table in §6 of the specification for which fields a
	// given Type carries.
	Key       string
	Value     string
	Timestamp int64
	NewID     int
	HopCount  int
	Failed    string
}

// MalformedMessage is returned when a record cannot be parsed: a
// missing/garbled header line, or an unrecognized TYPE.
type MalformedMessage struct {
	Reason string
}

func (e *MalformedMessage) Error() string {
	return fmt.Sprintf("malformed message: %s", e.Reason)
}

func malformed(format string, args ...any) error {
	return &MalformedMessage{Reason: fmt.Sprintf(format, args...)}
}

// Encode renders m as the newline-delimited wire text.
func Encode(m Message) []byte {
	var b strings.Builder

	writeField(&b, "SOURCE", m.Source)
	writeField(&b, "DESTINATION", m.Destination)
	writeField(&b, "TYPE", string(m.Type))
	writeField(&b, "SOURCE-ID", strconv.Itoa(m.SourceID))

	if m.Peers == nil {
		writeField(&b, "NODE-COUNT", "-1")
	} else {
		writeField(&b, "NODE-COUNT", strconv.Itoa(len(m.Peers)))
		for _, p := range m.Peers {
			writeField(&b, "ID", strconv.Itoa(p.ID))
			writeField(&b, "STATUS", string(p.Status))
			writeField(&b, "ADDRESS", p.Address)
			writeField(&b, "IS-DOWN", boolField(p.IsDown))
			writeField(&b, "LAST-UPDATED", strconv.FormatInt(p.LastUpdated, 10))
		}
	}

	for _, f := range typeFields(m.Type) {
		switch f {
		case "KEY":
			writeField(&b, "KEY", m.Key)
		case "VALUE":
			writeField(&b, "VALUE", m.Value)
		case "TIMESTAMP":
			writeField(&b, "TIMESTAMP", strconv.FormatInt(m.Timestamp, 10))
		case "NEW-ID":
			writeField(&b, "NEW-ID", strconv.Itoa(m.NewID))
		case "HOP-COUNT":
			writeField(&b, "HOP-COUNT", strconv.Itoa(m.HopCount))
		case "FAILED":
			writeField(&b, "FAILED", m.Failed)
		}
	}

	return []byte(b.String())
}

// typeFields lists the trailing, type-specific fields for t, in wire
// order. JoinRequest and Ping carry no trailing fields at all.
func typeFields(t Type) []string {
	switch t {
	case ClientReadRequest, ClientDeleteRequest, KeyRequest, KeyQuery, DeleteRequest, WriteAcknowledgement, DeleteAcknowledgement:
		return []string{"KEY"}
	case ClientReadResponse, ValueResponse:
		return []string{"KEY", "VALUE", "TIMESTAMP"}
	case ClientWriteRequest, ClientWriteResponse, WriteRequest:
		return []string{"KEY", "VALUE"}
	case KeyAcknowledgement:
		return []string{"KEY", "TIMESTAMP"}
	case JoinResponse:
		return []string{"NEW-ID"}
	case JoinIntroduction:
		return []string{"NEW-ID", "HOP-COUNT"}
	case FailureIndication:
		return []string{"FAILED"}
	default:
		return nil
	}
}

func writeField(b *strings.Builder, field, value string) {
	b.WriteString(field)
	b.WriteByte(':')
	b.WriteString(value)
	b.WriteByte('\n')
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// Decode parses one wire record. It returns a *MalformedMessage if
// the header is unparsable or TYPE is unrecognized.
func Decode(data []byte) (Message, error) {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	lines := make([]string, 0, 16)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}

	r := &lineReader{lines: lines}

	var m Message
	var err error

	if m.Source, err = r.field("SOURCE"); err != nil {
		return Message{}, err
	}
	if m.Destination, err = r.field("DESTINATION"); err != nil {
		return Message{}, err
	}
	typ, err := r.field("TYPE")
	if err != nil {
		return Message{}, err
	}
	m.Type = Type(typ)
	if !knownTypes[m.Type] {
		return Message{}, malformed("unknown TYPE %q", typ)
	}

	sourceID, err := r.field("SOURCE-ID")
	if err != nil {
		return Message{}, err
	}
	if m.SourceID, err = strconv.Atoi(sourceID); err != nil {
		return Message{}, malformed("SOURCE-ID not an integer: %q", sourceID)
	}

	nodeCount, err := r.field("NODE-COUNT")
	if err != nil {
		return Message{}, err
	}
	count, err := strconv.Atoi(nodeCount)
	if err != nil {
		return Message{}, malformed("NODE-COUNT not an integer: %q", nodeCount)
	}
	if count < -1 {
		return Message{}, malformed("NODE-COUNT out of range: %d", count)
	}
	if count >= 0 {
		m.Peers = make([]PeerInfo, 0, count)
		for i := 0; i < count; i++ {
			p, err := r.peerBlock()
			if err != nil {
				return Message{}, err
			}
			m.Peers = append(m.Peers, p)
		}
	}

	for _, f := range typeFields(m.Type) {
		val, err := r.field(f)
		if err != nil {
			return Message{}, err
		}
		switch f {
		case "KEY":
			m.Key = val
		case "VALUE":
			m.Value = val
		case "TIMESTAMP":
			ts, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return Message{}, malformed("TIMESTAMP not an integer: %q", val)
			}
			m.Timestamp = ts
		case "NEW-ID":
			id, err := strconv.Atoi(val)
			if err != nil {
				return Message{}, malformed("NEW-ID not an integer: %q", val)
			}
			m.NewID = id
		case "HOP-COUNT":
			hc, err := strconv.Atoi(val)
			if err != nil {
				return Message{}, malformed("HOP-COUNT not an integer: %q", val)
			}
			m.HopCount = hc
		case "FAILED":
			m.Failed = val
		}
	}

	return m, nil
}

type lineReader struct {
	lines []string
	pos   int
}

func (r *lineReader) next() (string, bool) {
	if r.pos >= len(r.lines) {
		return "", false
	}
	line := r.lines[r.pos]
	r.pos++
	return line, true
}

// field reads the next line, requiring it to be "want:value", and
// returns the value.
func (r *lineReader) field(want string) (string, error) {
	line, ok := r.next()
	if !ok {
		return "", malformed("expected %s, got EOF", want)
	}
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", malformed("line %q has no ':'", line)
	}
	name := strings.TrimSpace(line[:idx])
	value := strings.TrimSpace(line[idx+1:])
	if name != want {
		return "", malformed("expected field %s, got %s", want, name)
	}
	return value, nil
}

func (r *lineReader) peerBlock() (PeerInfo, error) {
	var p PeerInfo

	id, err := r.field("ID")
	if err != nil {
		return p, err
	}
	idVal, err := strconv.Atoi(id)
	if err != nil {
		return p, malformed("peer ID not an integer: %q", id)
	}
	p.ID = idVal

	status, err := r.field("STATUS")
	if err != nil {
		return p, err
	}
	p.Status = Status(status)

	addr, err := r.field("ADDRESS")
	if err != nil {
		return p, err
	}
	p.Address = addr

	isDown, err := r.field("IS-DOWN")
	if err != nil {
		return p, err
	}
	p.IsDown = isDown == "1"

	lastUpdated, err := r.field("LAST-UPDATED")
	if err != nil {
		return p, err
	}
	lu, err := strconv.ParseInt(lastUpdated, 10, 64)
	if err != nil {
		return p, malformed("peer LAST-UPDATED not an integer: %q", lastUpdated)
	}
	p.LastUpdated = lu

	return p, nil
}

// IsMalformed reports whether err is (or wraps) a MalformedMessage.
func IsMalformed(err error) bool {
	var m *MalformedMessage
	return errors.As(err, &m)
}
