package server

import (
	"net/http"

	"nhooyr.io/websocket"

	"restocore/events"
	"restocore/hub"
)

// TableStream pushes table-scoped frames: draft, order, and payment updates.
func (s *Server) TableStream(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r, events.SubjectTable)
}

// UserStream pushes user-scoped frames: shift lifecycle events.
func (s *Server) UserStream(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r, events.SubjectUser)
}

// StationStream pushes station-scoped frames: kitchen ticket updates.
func (s *Server) StationStream(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r, events.SubjectStation)
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, kind events.SubjectKind) {
	if _, err := claims(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := urlUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.Log.Warn("websocket accept failed", "error", err)
		return
	}

	conn := hub.NewWSConn(ws)
	s.Hub.Register(kind, id, conn)
	defer s.Hub.Unregister(kind, id, conn)

	// Read loop only detects disconnects; clients never send frames.
	ctx := r.Context()
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			return
		}
	}
}
