package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

// wsWriteTimeout bounds each event write. A client that cannot take an
// event within this window is disconnected.
const wsWriteTimeout = 10 * time.Second

// handleWebsocket upgrades the connection and streams engine events until
// the client goes away. Events the client cannot keep up with are dropped
// by the broadcaster before they reach this writer.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		writeError(w, http.StatusNotImplemented, "event feed disabled")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	eventCh, cancel := s.broadcaster.Subscribe()
	defer cancel()

	// Reads are drained only to observe the close.
	readCtx, stopReading := context.WithCancel(r.Context())
	defer stopReading()
	go func() {
		for {
			if _, _, err := conn.Read(readCtx); err != nil {
				stopReading()
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.log.WithError(err).Warn("event marshal failed")
				continue
			}
			writeCtx, cancelWrite := context.WithTimeout(readCtx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancelWrite()
			if err != nil {
				return
			}
		case <-readCtx.Done():
			return
		}
	}
}
