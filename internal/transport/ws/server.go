package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voxeltags.ai/internal/protocol"
	"voxeltags.ai/internal/sim/places"
	"voxeltags.ai/internal/sim/places/service"
	"voxeltags.ai/internal/sim/places/tags"
)

type Server struct {
	svc *service.Service
	log *log.Logger

	// Token, when set, must match HELLO auth.token.
	Token string

	upgrader websocket.Upgrader
}

func NewServer(svc *service.Service, logger *log.Logger) *Server {
	s := &Server{
		svc: svc,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		playerID, sessionID := s.handshake(conn)
		if playerID == "" {
			return
		}
		s.log.Printf("session %s: player %s connected", sessionID, playerID)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, 16)
		done := make(chan struct{})

		// Writer goroutine.
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop. Requests run in arrival order.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			resp := s.dispatch(ctx, playerID, msg)
			b, err := json.Marshal(resp)
			if err != nil {
				s.log.Printf("session %s: encode resp: %v", sessionID, err)
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()
		<-done
		s.log.Printf("session %s: player %s disconnected", sessionID, playerID)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (playerID, sessionID string) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", ""
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return "", ""
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, "bad HELLO")
		return "", ""
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return "", ""
	}
	playerID = strings.TrimSpace(hello.PlayerID)
	if playerID == "" {
		closeWith(conn, "missing player_id")
		return "", ""
	}
	if s.Token != "" {
		token := ""
		if hello.Auth != nil {
			token = strings.TrimSpace(hello.Auth.Token)
		}
		if token != s.Token {
			closeWith(conn, "bad auth token")
			return "", ""
		}
	}

	sessionID = uuid.NewString()
	cfg := s.svc.Config()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		PlayerID:        playerID,
		Day:             s.svc.Today(),
		Params: protocol.PlaceParams{
			GridResolution: cfg.Grid.Resolution,
			GridOffset:     cfg.Grid.Offset,
			DefaultRadius:  cfg.DefaultRadius,
			MaxRadius:      cfg.MaxRadius,
			MaxTextLen:     cfg.MaxTextLen,
			MaxImport:      cfg.MaxImport,
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", ""
	}
	return playerID, sessionID
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Server) dispatch(ctx context.Context, playerID string, msg []byte) protocol.RespMsg {
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeReq {
		return failure("", protocol.ErrProtoBadRequest, "expected REQ")
	}
	var req protocol.ReqMsg
	if err := json.Unmarshal(msg, &req); err != nil {
		return failure("", protocol.ErrProtoBadRequest, "bad REQ")
	}
	if req.ProtocolVersion != protocol.Version {
		return failure(req.ReqID, protocol.ErrProtoBadRequest, "bad protocol_version")
	}
	if !protocol.IsKnownOp(req.Op) {
		return failure(req.ReqID, protocol.ErrUnknownOp, fmt.Sprintf("unknown op %q", req.Op))
	}
	reqID := req.ReqID
	if reqID == "" {
		reqID = uuid.NewString()
	}
	ctx = service.WithRequestID(ctx, reqID)

	resp, err := s.handle(ctx, playerID, req)
	if err != nil {
		code := codeFor(err)
		if code == protocol.ErrInternal {
			s.log.Printf("player %s req %s op %s: %v", playerID, reqID, req.Op, err)
		}
		return failure(req.ReqID, code, err.Error())
	}
	resp.Type = protocol.TypeResp
	resp.ProtocolVersion = protocol.Version
	resp.ReqID = req.ReqID
	resp.OK = true
	return resp
}

type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func codeFor(err error) string {
	var br badRequest
	switch {
	case errors.As(err, &br), errors.Is(err, service.ErrPlayerRequired):
		return protocol.ErrBadRequest
	case errors.Is(err, service.ErrTextTooLong), errors.Is(err, service.ErrTooManyPlaces):
		return protocol.ErrTooLarge
	}
	return protocol.ErrInternal
}

func failure(reqID, code, msg string) protocol.RespMsg {
	return protocol.RespMsg{
		Type:            protocol.TypeResp,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		Code:            code,
		Message:         msg,
	}
}

func (s *Server) handle(ctx context.Context, playerID string, req protocol.ReqMsg) (protocol.RespMsg, error) {
	var resp protocol.RespMsg
	pos, hasPos := vec(req.Pos)

	switch req.Op {
	case protocol.OpNearest:
		if !hasPos {
			return resp, badRequest{"nearest requires pos"}
		}
		res, err := s.svc.Nearest(ctx, playerID, pos, req.Text)
		if err != nil {
			return resp, err
		}
		if res.Found {
			po := placeObj(res.Place)
			resp.Place = &po
			resp.Distance = res.Distance
		}
	case protocol.OpTagsAround:
		if !hasPos {
			return resp, badRequest{"tags_around requires pos"}
		}
		ns, err := s.svc.TagsAround(ctx, playerID, pos.X, pos.Z, req.Radius, req.Text)
		if err != nil {
			return resp, err
		}
		resp.Tags = make([]string, 0, len(ns))
		for _, n := range ns {
			resp.Tags = append(resp.Tags, n.String())
		}
	case protocol.OpFind:
		if !hasPos {
			return resp, badRequest{"find requires pos"}
		}
		ps, err := s.svc.Find(ctx, playerID, pos.X, pos.Z, req.Radius, req.Text)
		if err != nil {
			return resp, err
		}
		resp.Places = placeObjs(ps)
	case protocol.OpEdit:
		if !hasPos {
			return resp, badRequest{"edit requires pos"}
		}
		res, err := s.svc.Edit(ctx, service.EditRequest{
			PlayerID: playerID,
			Text:     req.Text,
			Anchor:   pos,
			Radius:   req.Radius,
			Edit:     places.Edit{AllowRemove: req.AllowRemove, AllowChange: req.AllowChange, AllowAdd: req.AllowAdd},
		})
		if err != nil {
			return resp, err
		}
		resp.Day = res.Day
		resp.Counts = &protocol.CountsObj{Added: res.Added, Changed: res.Changed, Removed: res.Removed}
	case protocol.OpImport:
		action, err := places.ParseExistingPlaceAction(req.Action)
		if err != nil {
			return resp, badRequest{err.Error()}
		}
		res, err := s.svc.Import(ctx, playerID, fromObjs(req.Places), action)
		if err != nil {
			return resp, err
		}
		resp.Counts = &protocol.CountsObj{
			Added:   res.Added,
			Changed: res.Changed,
			Removed: res.Removed,
			Skipped: res.Skipped,
			Dropped: res.Dropped,
		}
	case protocol.OpExport:
		ps, day, err := s.svc.Export(ctx, playerID, req.Text)
		if err != nil {
			return resp, err
		}
		resp.Day = day
		resp.Places = placeObjs(ps)
	case protocol.OpClear:
		n, err := s.svc.Clear(ctx, playerID)
		if err != nil {
			return resp, err
		}
		resp.Counts = &protocol.CountsObj{Removed: n}
	}
	return resp, nil
}

func vec(p *[3]float64) (places.Vec3, bool) {
	if p == nil {
		return places.Vec3{}, false
	}
	return places.Vec3{X: p[0], Y: p[1], Z: p[2]}, true
}

func placeObj(p places.Place) protocol.PlaceObj {
	po := protocol.PlaceObj{Pos: [3]float64{p.Pos.X, p.Pos.Y, p.Pos.Z}, Tags: make([]protocol.TagObj, 0, len(p.Tags))}
	for _, t := range p.Tags {
		po.Tags = append(po.Tags, protocol.TagObj{Name: t.Name.String(), StartDay: t.StartDay, EndDay: t.EndDay})
	}
	return po
}

func placeObjs(ps []places.Place) []protocol.PlaceObj {
	out := make([]protocol.PlaceObj, 0, len(ps))
	for _, p := range ps {
		out = append(out, placeObj(p))
	}
	return out
}

// fromObjs keeps blank names as zero names; Import drops them.
func fromObjs(objs []protocol.PlaceObj) []places.Place {
	out := make([]places.Place, 0, len(objs))
	for _, o := range objs {
		p := places.Place{Pos: places.Vec3{X: o.Pos[0], Y: o.Pos[1], Z: o.Pos[2]}}
		for _, to := range o.Tags {
			n, _ := tags.ParseName(to.Name)
			p.Tags = append(p.Tags, tags.New(n, to.StartDay, to.EndDay))
		}
		out = append(out, p)
	}
	return out
}
