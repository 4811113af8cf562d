package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arielgw/castkit/internal/episode"
	"github.com/arielgw/castkit/internal/facts"
	"github.com/arielgw/castkit/internal/panel"
	"github.com/arielgw/castkit/internal/protocol"
)

const wsWriteTimeout = 10 * time.Second

// Keepalive knobs. The writer pings on the interval and every pong or data
// frame pushes the read deadline out, so a healthy connection never expires.
var (
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
)

// handlePanelWS runs the panel tool channel: one websocket per panel
// instance carrying lifecycle signals up and tool results plus state
// snapshots down.
func (s *Server) handlePanelWS(w http.ResponseWriter, r *http.Request) {
	callerID, issued := s.identity.Resolve(r)

	var hdr http.Header
	if issued {
		hdr = http.Header{}
		hdr.Add("Set-Cookie", s.identity.Cookie(callerID).String())
		s.metrics.CookiesIssued.Inc()
	}

	episodeCtx, _ := episode.Resolve(r.Referer(), r.URL.String())

	conn, err := s.upgrader.Upgrade(w, r, hdr)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.PanelEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	tracker := panel.NewTracker(episodeCtx)

	outbound := make(chan any, 64)
	send := func(msg any) {
		select {
		case outbound <- msg:
		default:
			// Keep websocket writes single-threaded; drop if the queue is saturated.
			s.metrics.PanelEvents.WithLabelValues("outbound_drop").Inc()
		}
	}
	pushState := func() {
		send(protocol.PanelState{Type: protocol.TypePanelState, State: tracker.Snapshot()})
	}

	tracker.StartScriptWatchdog(s.cfg.ScriptTimeout, func() {
		s.metrics.PanelEvents.WithLabelValues("script_timeout").Inc()
		pushState()
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		pings := time.NewTicker(wsPingInterval)
		defer pings.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-pings.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	pushState()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "invalid_client_message",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}

		switch msg := parsed.(type) {
		case protocol.ScriptStatus:
			if msg.Status == "ready" {
				tracker.ScriptReady()
				s.metrics.PanelEvents.WithLabelValues("script_ready").Inc()
			} else {
				tracker.ScriptFailed(msg.Message)
				s.metrics.PanelEvents.WithLabelValues("script_error").Inc()
			}
			pushState()
		case protocol.SessionStatus:
			if msg.Status == "ready" {
				tracker.SessionReady()
				s.metrics.PanelEvents.WithLabelValues("session_ready").Inc()
			} else {
				tracker.SessionFailed(msg.Message)
				s.metrics.PanelEvents.WithLabelValues("session_error").Inc()
			}
			pushState()
		case protocol.ThreadStatus:
			tracker.ThreadReady(msg.ThreadID)
			tracker.SessionReady()
			s.metrics.PanelEvents.WithLabelValues("thread_ready").Inc()
			pushState()
		case protocol.ToolInvocation:
			send(s.dispatchTool(ctx, tracker, callerID, msg))
			pushState()
		case protocol.PanelReset:
			if threadID := tracker.ThreadID(); threadID != "" {
				if err := s.facts.ClearThread(ctx, callerID, threadID); err != nil {
					log.Printf("clear thread facts: %v", err)
				}
			}
			tracker.Reset()
			tracker.StartScriptWatchdog(s.cfg.ScriptTimeout, pushState)
			s.metrics.PanelEvents.WithLabelValues("reset").Inc()
			pushState()
		}
	}

	cancel()
	<-writerDone
	s.metrics.PanelEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) dispatchTool(ctx context.Context, tracker *panel.Tracker, callerID string, inv protocol.ToolInvocation) protocol.ToolResult {
	res := protocol.ToolResult{
		Type:         protocol.TypeToolResult,
		InvocationID: inv.InvocationID,
		Tool:         inv.Tool,
	}

	switch inv.Tool {
	case protocol.ToolSwitchTheme:
		var args protocol.SwitchThemeArgs
		_ = json.Unmarshal(inv.Args, &args)
		if err := panel.ValidateScheme(args.Scheme); err != nil {
			res.Error = err.Error()
			return res
		}
		s.metrics.PanelEvents.WithLabelValues("theme_switched").Inc()
		res.OK = true
		res.Result = map[string]string{"scheme": args.Scheme}

	case protocol.ToolRecordFact:
		var args protocol.RecordFactArgs
		_ = json.Unmarshal(inv.Args, &args)
		text, fresh := tracker.RecordFact(args.FactID, args.Text)
		if !fresh {
			s.metrics.FactEvents.WithLabelValues("duplicate").Inc()
			res.OK = true
			res.Result = map[string]any{"recorded": false}
			return res
		}
		text, redacted := facts.RedactPII(text)
		if redacted {
			s.metrics.FactEvents.WithLabelValues("redacted").Inc()
		}
		recorded, err := s.facts.Record(ctx, facts.Fact{
			ID:          args.FactID,
			CallerID:    callerID,
			ThreadID:    tracker.ThreadID(),
			Text:        text,
			PIIRedacted: redacted,
		})
		if err != nil {
			log.Printf("record fact: %v", err)
			s.metrics.FactEvents.WithLabelValues("error").Inc()
			res.Error = "failed to record fact"
			return res
		}
		if recorded {
			s.metrics.FactEvents.WithLabelValues("recorded").Inc()
		} else {
			s.metrics.FactEvents.WithLabelValues("duplicate").Inc()
		}
		res.OK = true
		res.Result = map[string]any{"recorded": recorded}

	case protocol.ToolRequestEpisodeContext:
		epCtx, err := tracker.DeliverContext()
		if err != nil {
			res.Error = err.Error()
			return res
		}
		s.metrics.PanelEvents.WithLabelValues("context_delivered").Inc()
		res.OK = true
		res.Result = epCtx

	default:
		res.Error = "unknown tool"
	}
	return res
}
