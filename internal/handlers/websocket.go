// Copyright (c) 2024-2026 IT Help San Diego Inc.
// Licensed under BUSL-1.1 — See LICENSE for terms.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/00xf5/signal-guard-sub000/internal/probe"
	"github.com/00xf5/signal-guard-sub000/internal/scan"
)

const (
	socketMaxMessage   = 16 << 10
	socketWriteTimeout = 10 * time.Second
	socketOutbox       = 32
	candidateBuffer    = 16

	msgTypeScan      = "scan"
	msgTypeCandidate = "candidate"
	msgTypeProgress  = "progress"
	msgTypeResult    = "result"
	msgTypeError     = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// socketMessage is a client frame. Candidate frames name the session they
// were gathered for, as announced in that session's progress events.
type socketMessage struct {
	Type string `json:"type"`
	scanRequest
	Session   uint64 `json:"session"`
	Candidate string `json:"candidate"`
}

type socketEvent struct {
	Type    string       `json:"type"`
	Session uint64       `json:"session,omitempty"`
	Phase   scan.Phase   `json:"phase,omitempty"`
	Result  *scan.Result `json:"result,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// ScanSocket serves live scans over a WebSocket. Each connection owns one
// orchestrator, so a new scan message supersedes the one still in flight and
// only the newest session ever produces a result.
func (h *ScanHandler) ScanSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Debug("WebSocket upgrade failed", "client", c.ClientIP(), "error", err)
		return
	}
	s := &scanSocket{
		h:              h,
		conn:           conn,
		clientIP:       c.ClientIP(),
		acceptLanguage: c.GetHeader("Accept-Language"),
		out:            make(chan socketEvent, socketOutbox),
	}
	s.orch = h.newOrchestrator(scan.WithObserver(s.progress))
	s.run(c.Request.Context())
}

type scanSocket struct {
	h              *ScanHandler
	conn           *websocket.Conn
	clientIP       string
	acceptLanguage string
	out            chan socketEvent
	orch           *scan.Orchestrator

	mu         sync.Mutex
	live       uint64
	candidates *probe.CandidateChannel
}

func (s *scanSocket) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx)
	}()

	s.readLoop(ctx)
	cancel()
	s.swapCandidates(0, nil)
	<-writerDone
	s.conn.Close()
}

func (s *scanSocket) readLoop(ctx context.Context) {
	s.conn.SetReadLimit(socketMaxMessage)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("WebSocket closed", "client", s.clientIP, "error", err)
			}
			return
		}

		var msg socketMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.send(ctx, socketEvent{Type: msgTypeError, Error: "Invalid message"})
			continue
		}
		switch msg.Type {
		case msgTypeScan:
			s.startScan(ctx, msg.scanRequest)
		case msgTypeCandidate:
			s.pushCandidate(msg.Session, msg.Candidate)
		default:
			s.send(ctx, socketEvent{Type: msgTypeError, Error: "Unknown message type"})
		}
	}
}

func (s *scanSocket) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
			if err := s.conn.WriteJSON(ev); err != nil {
				slog.Debug("WebSocket write failed", "client", s.clientIP, "error", err)
				s.conn.Close()
				return
			}
		}
	}
}

// progress runs under the orchestrator lock, so it never blocks. A full
// outbox drops the event.
func (s *scanSocket) progress(p scan.Progress) {
	select {
	case s.out <- socketEvent{Type: msgTypeProgress, Session: p.Session, Phase: p.Phase}:
	default:
	}
}

func (s *scanSocket) send(ctx context.Context, ev socketEvent) {
	select {
	case s.out <- ev:
	case <-ctx.Done():
	}
}

// swapCandidates installs next as the candidate feed of session and ends the
// previous feed.
func (s *scanSocket) swapCandidates(session uint64, next *probe.CandidateChannel) {
	s.mu.Lock()
	prev := s.candidates
	s.live = session
	s.candidates = next
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

// pushCandidate feeds candidate to the live session only. Candidates for a
// superseded session, or with no session, are dropped.
func (s *scanSocket) pushCandidate(session uint64, candidate string) {
	s.mu.Lock()
	cands := s.candidates
	live := s.live
	s.mu.Unlock()
	if cands == nil || session != live {
		slog.Debug("Dropping candidate for inactive session", "client", s.clientIP, "session", session, "live", live)
		return
	}
	cands.Push(candidate)
}

func (s *scanSocket) startScan(ctx context.Context, req scanRequest) {
	ip, err := resolveTarget(s.clientIP, req.IP)
	if err != nil {
		s.send(ctx, socketEvent{Type: msgTypeError, Error: msgInvalidIP})
		return
	}

	cands := probe.NewCandidateChannel(candidateBuffer + len(req.Candidates))
	for _, c := range req.Candidates {
		cands.Push(c)
	}

	env := probe.FromRequest(req.Timezone, req.Languages, s.acceptLanguage, req.Webdriver)
	scanReq := scan.Request{
		IP:          ip,
		Environment: &env,
		Leak:        probe.NewLeakProbe(cands, s.h.LeakTimeout),
		Gate:        s.h.newGate(s.clientIP, req.TurnstileToken),
	}

	id := s.orch.Start(ctx, scanReq, func(result *scan.Result, err error) {
		switch {
		case errors.Is(err, scan.ErrSuperseded):
			return
		case err != nil:
			_, msg := scanErrorStatus(err)
			s.send(ctx, socketEvent{Type: msgTypeError, Error: msg})
		default:
			s.h.persist(ctx, result)
			s.send(ctx, socketEvent{Type: msgTypeResult, Result: result})
		}
	})
	s.swapCandidates(id, cands)
}
