// Package protocol defines the msger wire format shared by the server and the
// client: the chat message envelope, its JSON encoding, and the handshake
// header names and challenge helpers.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ReservedName is the display name used for system-authored messages. No
// client may claim it, in any letter case.
const ReservedName = "server"

// ErrDecode is returned when a frame does not hold a valid message envelope.
var ErrDecode = errors.New("protocol: malformed message envelope")

// Author identifies who wrote a message: either a connected user or the
// server itself.
type Author struct {
	name   string
	system bool
}

// System is the author of announcements generated by the server.
var System = Author{system: true}

// User returns the author value for a connected client.
func User(name string) Author {
	return Author{name: name}
}

// Name returns the display name as it appears on the wire.
func (a Author) Name() string {
	if a.system {
		return ReservedName
	}
	return a.name
}

// IsSystem reports whether the message was written by the server.
func (a Author) IsSystem() bool {
	return a.system
}

func (a Author) String() string {
	return a.Name()
}

// IsReservedName reports whether name collides with the system author.
func IsReservedName(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), ReservedName)
}

// Contents is the payload of a Message. It is either Text or File.
type Contents interface {
	isContents()
}

// Text is a plain chat line.
type Text string

// File is a named file transferred through the relay.
type File struct {
	Name  string
	Bytes []byte
}

func (Text) isContents() {}
func (File) isContents() {}

// Message is the envelope relayed to every other connected client.
type Message struct {
	Author   Author
	Contents Contents
}

// NewText builds a text message.
func NewText(author Author, text string) Message {
	return Message{Author: author, Contents: Text(text)}
}

// NewFile builds a file message.
func NewFile(author Author, name string, data []byte) Message {
	return Message{Author: author, Contents: File{Name: name, Bytes: data}}
}

// Disconnected is the announcement broadcast when a client leaves.
func Disconnected(name string) Message {
	return NewText(System, name+" has disconnected")
}

type wireMessage struct {
	Author   string       `json:"author"`
	Contents wireContents `json:"contents"`
}

// wireContents mirrors an externally tagged union: exactly one field is set.
type wireContents struct {
	Text *string   `json:"Text,omitempty"`
	File *wireFile `json:"File,omitempty"`
}

type wireFile struct {
	Name     string `json:"name"`
	Contents string `json:"contents"`
}

// Encode serializes a message into a single text frame payload.
func Encode(msg Message) ([]byte, error) {
	wire := wireMessage{Author: msg.Author.Name()}

	switch c := msg.Contents.(type) {
	case Text:
		text := string(c)
		wire.Contents.Text = &text
	case File:
		wire.Contents.File = &wireFile{
			Name:     c.Name,
			Contents: base64.StdEncoding.EncodeToString(c.Bytes),
		}
	default:
		return nil, fmt.Errorf("protocol: cannot encode contents of type %T", msg.Contents)
	}

	return json.Marshal(wire)
}

// Decode parses a text frame payload produced by Encode.
func Decode(data []byte) (Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if strings.TrimSpace(wire.Author) == "" {
		return Message{}, fmt.Errorf("%w: missing author", ErrDecode)
	}

	author := User(wire.Author)
	if IsReservedName(wire.Author) {
		author = System
	}

	switch {
	case wire.Contents.Text != nil && wire.Contents.File != nil:
		return Message{}, fmt.Errorf("%w: contents hold both Text and File", ErrDecode)
	case wire.Contents.Text != nil:
		return NewText(author, *wire.Contents.Text), nil
	case wire.Contents.File != nil:
		raw, err := base64.StdEncoding.DecodeString(wire.Contents.File.Contents)
		if err != nil {
			return Message{}, fmt.Errorf("%w: file %q: %v", ErrDecode, wire.Contents.File.Name, err)
		}
		return NewFile(author, wire.Contents.File.Name, raw), nil
	default:
		return Message{}, fmt.Errorf("%w: missing contents", ErrDecode)
	}
}
