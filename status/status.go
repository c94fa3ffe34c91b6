// Copyright 2024 The go-club Authors
// This file is part of go-club.
//
// go-club is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-club is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-club. If not, see <http://www.gnu.org/licenses/>.

// Package status is a read-only HTTP+WS introspection surface over a
// running peer: a JSON snapshot of engine and connection state, and a push
// feed of engine events. Nothing here is ever consulted by the exchange
// engine; a peer with no one watching /status behaves identically to one
// with a dozen open /events sockets.
package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/probechain/go-club/club"
	"github.com/probechain/go-club/clublog"
	"github.com/probechain/go-club/p2p"
	"github.com/probechain/go-club/store"
)

// Snapshot is the JSON body of GET /status.
type Snapshot struct {
	club.Stats
	StoredObjects int                `json:"storedObjects"`
	Connections   []p2p.ConnSnapshot `json:"connections"`
}

// Server serves the introspection surface for one peer process.
type Server struct {
	club     *club.Club
	store    *store.Store
	endpoint *p2p.Endpoint
	log      *clublog.Logger

	upgrader websocket.Upgrader
}

// New builds a Server reporting on the given engine, store and endpoint.
func New(c *club.Club, st *store.Store, ep *p2p.Endpoint) *Server {
	return &Server{
		club:     c,
		store:    st,
		endpoint: ep,
		log:      clublog.With("component", "status"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the CORS-wrapped HTTP handler for this surface.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()
	r.GET("/status", s.handleStatus)
	r.GET("/events", s.handleEvents)
	return cors.AllowAll().Handler(r)
}

func (s *Server) snapshot() Snapshot {
	objs, err := s.store.List()
	if err != nil {
		s.log.Warn("listing store for snapshot failed", "err", err)
	}
	return Snapshot{
		Stats:         s.club.Snapshot(),
		StoredObjects: len(objs),
		Connections:   s.endpoint.Snapshot(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		s.log.Warn("encoding status response failed", "err", err)
	}
}

// wireEvent is the JSON shape pushed to each /events subscriber.
type wireEvent struct {
	Kind   string `json:"kind"`
	Digest string `json:"digest,omitempty"`
	Conn   string `json:"conn,omitempty"`
	At     string `json:"at"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	// subscriberID only labels log lines for this one feed; it never
	// touches engine state or wire format.
	subscriberID := uuid.NewString()
	log := s.log.With("subscriber", subscriberID)
	log.Debug("events subscriber connected")
	defer log.Debug("events subscriber disconnected")

	events, cancel := s.club.Subscribe()
	defer cancel()

	// A closed socket only surfaces on the next write, so a reader goroutine
	// watching for the client's close/ping frames is what actually notices
	// disconnects; gorilla's examples use exactly this split.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg := wireEvent{
				Kind: string(ev.Kind),
				Conn: ev.Conn,
				At:   time.Now().UTC().Format(time.RFC3339Nano),
			}
			if !ev.Digest.IsZero() {
				msg.Digest = ev.Digest.Hex()
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
