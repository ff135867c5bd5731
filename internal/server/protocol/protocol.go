// Package protocol implements the wire format spoken between passvault clients
// and the server: one JSON object per line, at most common.MaxFrameSize bytes.
//
// Requests look like {"commandType": "login", "parameters": ["alice", "pw"]}
// and are validated against an embedded JSON schema. Responses look like
// {"status": true, "description": "..."}.
package protocol

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dmitrijs2005/passvault/internal/common"
	"github.com/xeipuuv/gojsonschema"
)

type Command struct {
	Type       string   `json:"commandType"`
	Parameters []string `json:"parameters"`
}

type Response struct {
	Status      bool   `json:"status"`
	Description string `json:"description"`
}

func OK(format string, args ...any) Response {
	return Response{Status: true, Description: fmt.Sprintf(format, args...)}
}

func Fail(format string, args ...any) Response {
	return Response{Status: false, Description: fmt.Sprintf(format, args...)}
}

// ErrFrameTooLarge means the peer sent a line longer than common.MaxFrameSize.
// The stream cannot be resynchronised, so the connection must be dropped.
var ErrFrameTooLarge = errors.New("frame too large")

//go:embed schema/command.json
var commandSchemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func commandSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(commandSchemaJSON))
	})
	return schema, schemaErr
}

// DecodeCommand parses and validates one request frame. Any problem with the
// frame is reported as common.ErrProtocol.
func DecodeCommand(frame []byte) (Command, error) {
	s, err := commandSchema()
	if err != nil {
		return Command{}, fmt.Errorf("load command schema: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(frame))
	if err != nil {
		return Command{}, fmt.Errorf("%w: malformed message: %v", common.ErrProtocol, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return Command{}, fmt.Errorf("%w: invalid message: %s", common.ErrProtocol, strings.Join(msgs, "; "))
	}

	var cmd Command
	if err := json.Unmarshal(frame, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: malformed message: %v", common.ErrProtocol, err)
	}
	if cmd.Parameters == nil {
		cmd.Parameters = []string{}
	}
	return cmd, nil
}

func DecodeResponse(frame []byte) (Response, error) {
	var r Response
	if err := json.Unmarshal(frame, &r); err != nil {
		return Response{}, fmt.Errorf("%w: malformed response: %v", common.ErrProtocol, err)
	}
	return r, nil
}

// Reader splits a stream into frames.
type Reader struct {
	sc *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), common.MaxFrameSize)
	return &Reader{sc: sc}
}

// ReadFrame returns the next non-blank line. It returns io.EOF at end of
// stream and ErrFrameTooLarge for an oversized line.
func (r *Reader) ReadFrame() ([]byte, error) {
	for r.sc.Scan() {
		line := bytes.TrimSpace(r.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		return bytes.Clone(line), nil
	}
	if err := r.sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, ErrFrameTooLarge
		}
		return nil, err
	}
	return nil, io.EOF
}

// Writer writes frames. It is not safe for concurrent use.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame encodes v as a single JSON line.
func (w *Writer) WriteFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(data)+1 > common.MaxFrameSize {
		return ErrFrameTooLarge
	}
	data = append(data, '\n')
	_, err = w.w.Write(data)
	return err
}
