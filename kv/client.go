package kv

import (
	"bufio"
	"encoding/csv"
	"strings"

	"github.com/google/uuid"
)

// client is the per-connection reader/writer, generalized from the
// teacher's broker.Client. Each connection gets a google/uuid session ID
// (distinct from the shortuuid command-correlation IDs in submit.go) for
// log correlation across a multi-command session.
type client struct {
	sessionID uuid.UUID
	writer    *bufio.Writer
	reader    *bufio.Reader
}

func newClient(writer *bufio.Writer, reader *bufio.Reader) *client {
	return &client{
		sessionID: uuid.New(),
		writer:    writer,
		reader:    reader,
	}
}

func (c *client) read() ([]string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	input := csv.NewReader(strings.NewReader(line))
	input.Comma = ' '
	return input.Read()
}

func (c *client) writeLine(s string) {
	c.writer.WriteString(s)
	c.writer.WriteString("\n")
	c.writer.Flush()
}
