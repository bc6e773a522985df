package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"lookback/internal/domain"
)

// CommandHandler is the dispatch surface the host drives. Both the native
// messaging host and the websocket gateway feed decoded commands through it.
type CommandHandler interface {
	Dispatch(ctx context.Context, cmd domain.Command) domain.Response
}

// Host runs the native messaging loop: read a frame, decode a command,
// dispatch it, write the response frame. One loop, strictly sequential on the
// read side; responses share the frame writer with any other emitters.
type Host struct {
	reader  *FrameReader
	writer  *FrameWriter
	handler CommandHandler
	logger  *slog.Logger
}

// NewHost creates a host over the given stream pair.
func NewHost(r io.Reader, w io.Writer, handler CommandHandler, logger *slog.Logger) *Host {
	return &Host{
		reader:  NewFrameReader(r),
		writer:  NewFrameWriter(w),
		handler: handler,
		logger:  logger,
	}
}

// frame is one read result handed from the reader goroutine to the loop.
type frame struct {
	payload []byte
	err     error
}

// Run serves commands until the input stream closes, turns corrupt, or ctx is
// cancelled. A clean EOF returns nil; truncated or oversized frames return the
// underlying error; cancellation returns ctx.Err() even while a read is
// blocked on the stream. A payload that is not valid JSON is not fatal: it is
// surfaced to the peer as an error response and the loop continues.
func (h *Host) Run(ctx context.Context) error {
	h.logger.Info("native messaging host started")

	frames := make(chan frame)
	go func() {
		defer close(frames)
		for {
			payload, err := h.reader.Read()
			select {
			case frames <- frame{payload: payload, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			// The reader goroutine stays blocked on the stream until the
			// process exits; stdin cannot be interrupted.
			h.logger.Info("host context cancelled, exiting")
			return ctx.Err()
		case fr, ok := <-frames:
			if !ok {
				return nil
			}
			if fr.err != nil {
				if errors.Is(fr.err, io.EOF) {
					h.logger.Info("input stream closed, host exiting")
					return nil
				}
				h.logger.Error("frame read failed", "error", fr.err)
				return fr.err
			}

			cmd := decodeCommand(fr.payload, h.logger)
			resp := h.handler.Dispatch(ctx, cmd)
			if err := h.writeResponse(resp); err != nil {
				return err
			}
		}
	}
}

// WriteResponse emits an out-of-band response frame. Used for pushed events;
// safe to call concurrently with the serving loop.
func (h *Host) WriteResponse(resp domain.Response) error {
	return h.writeResponse(resp)
}

func (h *Host) writeResponse(resp domain.Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		h.logger.Error("response marshal failed", "command", resp.Command, "error", err)
		fallback := domain.ErrResponse(resp.Command, "internal error: response not serializable")
		payload, _ = json.Marshal(fallback)
	}
	if err := h.writer.Write(payload); err != nil {
		h.logger.Error("frame write failed", "error", err)
		return err
	}
	return nil
}

// decodeCommand parses one frame payload. Malformed JSON maps to a synthetic
// protocol-error command so the failure flows through normal dispatch and the
// peer still gets a framed answer.
func decodeCommand(payload []byte, logger *slog.Logger) domain.Command {
	var cmd domain.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		logger.Warn("discarding malformed frame payload", "error", err)
		return domain.Command{Name: domain.CmdProtocolError}
	}
	return cmd
}
