package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/emberlab/hearth/internal/agent"
)

type sseFrame struct {
	event string
	data  interface{}
}

// streamChat answers a chat request as SSE frames: tool_start and
// tool_result while the turn runs, then text and done, or error.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req chatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Loop events arrive on the session queue's goroutine; a buffered
	// channel hands them to this writer. Overflow drops frames rather
	// than stalling the turn.
	frames := make(chan sseFrame, 32)
	onEvent := func(ev agent.Event) {
		frame, ok := translateEvent(ev)
		if !ok {
			return
		}
		select {
		case frames <- frame:
		default:
		}
	}

	type outcome struct {
		reply string
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		reply, err := s.orch.HandleMessage(r.Context(), req.UserID, req.Message, onEvent)
		done <- outcome{reply: reply, err: err}
	}()

	for {
		select {
		case frame := <-frames:
			writeFrame(w, flusher, frame)
		case out := <-done:
			// Flush any frames that raced the result.
			for {
				select {
				case frame := <-frames:
					writeFrame(w, flusher, frame)
					continue
				default:
				}
				break
			}
			if out.err != nil {
				writeFrame(w, flusher, sseFrame{event: "error", data: map[string]string{"message": out.err.Error()}})
			} else {
				writeFrame(w, flusher, sseFrame{event: "text", data: map[string]string{"content": out.reply}})
			}
			writeFrame(w, flusher, sseFrame{event: "done", data: map[string]bool{"done": true}})
			return
		case <-r.Context().Done():
			return
		}
	}
}

// translateEvent maps loop events onto the wire frame vocabulary.
func translateEvent(ev agent.Event) (sseFrame, bool) {
	switch ev.Type {
	case "tool.call":
		return sseFrame{event: "tool_start", data: ev.Payload}, true
	case "tool.result":
		return sseFrame{event: "tool_result", data: ev.Payload}, true
	default:
		return sseFrame{}, false
	}
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, frame sseFrame) {
	payload, err := json.Marshal(frame.data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.event, payload)
	flusher.Flush()
}
