package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// stdioScanBuffer caps one inbound line on the stdio transport.
const stdioScanBuffer = 4 << 20

// StdioTransport speaks newline-delimited JSON-RPC on an in/out pair,
// normally stdin/stdout. The process owns the connection: one implicit
// session, no auth, no rate limiting. All logging must go to stderr so
// the protocol stream stays clean.
type StdioTransport struct {
	dispatcher *Dispatcher
	logger     *zap.Logger

	in  io.Reader
	out io.Writer
}

// NewStdioTransport builds the transport over an arbitrary reader and
// writer, which keeps it testable without touching real stdio.
func NewStdioTransport(dispatcher *Dispatcher, logger *zap.Logger, in io.Reader, out io.Writer) *StdioTransport {
	return &StdioTransport{dispatcher: dispatcher, logger: logger, in: in, out: out}
}

// Run processes messages until EOF or context cancellation. Requests
// are handled one at a time in arrival order.
func (t *StdioTransport) Run(ctx context.Context) error {
	sess := newSession(time.Now())
	defer sess.Close()

	writer := bufio.NewWriter(t.out)
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 64*1024), stdioScanBuffer)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp *Response
		req, errResp := ParseRequest(line)
		if errResp != nil {
			resp = errResp
		} else {
			resp = t.dispatcher.Dispatch(ctx, sess, req)
		}
		if resp == nil {
			continue
		}

		if err := writeLine(writer, resp); err != nil {
			return fmt.Errorf("stdio write: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stdio read: %w", err)
	}
	t.logger.Info("stdio transport closed on eof")
	return nil
}

func writeLine(w *bufio.Writer, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
