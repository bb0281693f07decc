package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/peerdrop/peerdrop/internal/common"
	"github.com/peerdrop/peerdrop/internal/logging"
	"github.com/peerdrop/peerdrop/internal/server/services"
)

const sendBufferSize = 100

// wsConn is the subset of *websocket.Conn the session uses; tests substitute
// an in-memory pipe.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session is one connected peer's websocket. It registers with the hub on a
// hello frame and serves as the router's live channel to that peer.
type Session struct {
	hub    *Hub
	conn   wsConn
	logger logging.Logger

	sendCh  chan *Frame
	closeCh chan struct{}

	mu      sync.Mutex
	peerID  string
	closed  bool
	pending map[string]chan *Frame
}

func newSession(hub *Hub, conn wsConn, logger logging.Logger) *Session {
	return &Session{
		hub:     hub,
		conn:    conn,
		logger:  logger,
		sendCh:  make(chan *Frame, sendBufferSize),
		closeCh: make(chan struct{}),
		pending: make(map[string]chan *Frame),
	}
}

func (s *Session) start() {
	go s.readPump()
	go s.writePump()
}

// PeerID returns the registered peer id, empty before hello.
func (s *Session) PeerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

// SendFile pushes a file frame to the peer and blocks until the matching
// file_ack arrives, ctx expires, or the session dies.
func (s *Session) SendFile(ctx context.Context, fileName string, fileSize int64, data []byte) error {
	id := uuid.New().String()
	ackCh := make(chan *Frame, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: session closed", common.ErrConnectionFailed)
	}
	s.pending[id] = ackCh
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	frame := &Frame{
		Type:     FrameFile,
		ID:       id,
		FileName: fileName,
		FileSize: fileSize,
		Data:     data,
	}
	if err := s.send(frame); err != nil {
		return err
	}

	select {
	case ack := <-ackCh:
		if ack.Error != "" {
			return fmt.Errorf("receiver rejected file: %s", ack.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closeCh:
		return fmt.Errorf("%w: session closed mid-transfer", common.ErrConnectionFailed)
	}
}

// send queues a frame for the write pump. A full buffer fails fast instead
// of blocking domain code on a slow client.
func (s *Session) send(f *Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: session closed", common.ErrConnectionFailed)
	}
	select {
	case s.sendCh <- f:
		return nil
	default:
		return fmt.Errorf("%w: send buffer full", common.ErrConnectionFailed)
	}
}

func (s *Session) sendError(id, msg string) {
	if err := s.send(&Frame{Type: FrameError, ID: id, Error: msg}); err != nil {
		s.logger.Warn(context.Background(), "dropping error frame", "peer", s.PeerID(), "error", err)
	}
}

// close tears the session down once: unregisters from the hub, records the
// disconnect as offline, and unblocks any in-flight SendFile.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	peerID := s.peerID
	s.mu.Unlock()

	close(s.closeCh)
	_ = s.conn.Close()

	if peerID != "" {
		s.hub.unregister(peerID, s)
	}
}

func (s *Session) readPump() {
	defer s.close()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn(context.Background(), "websocket read failed", "peer", s.PeerID(), "error", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Warn(context.Background(), "dropping malformed frame", "peer", s.PeerID(), "error", err)
			continue
		}

		if done := s.handleFrame(&f); done {
			return
		}
	}
}

func (s *Session) writePump() {
	defer s.close()

	for {
		select {
		case f := <-s.sendCh:
			data, err := json.Marshal(f)
			if err != nil {
				s.logger.Error(context.Background(), "marshaling frame failed", "type", f.Type, "error", err)
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn(context.Background(), "websocket write failed", "peer", s.PeerID(), "error", err)
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

// handleFrame dispatches one inbound frame. It returns true when the session
// should stop reading.
func (s *Session) handleFrame(f *Frame) bool {
	ctx := context.Background()

	switch f.Type {
	case FrameHello:
		if f.PeerID == "" || f.DisplayName == "" {
			s.sendError(f.ID, "hello requires peer_id and display_name")
			return false
		}
		if _, err := s.hub.presence.MarkOnline(ctx, f.PeerID, f.DisplayName, f.Contact); err != nil {
			s.sendError(f.ID, err.Error())
			return false
		}
		s.mu.Lock()
		s.peerID = f.PeerID
		s.mu.Unlock()
		s.hub.register(f.PeerID, s)
		if err := s.send(&Frame{Type: FrameHello, ID: f.ID, PeerID: f.PeerID, Status: "online"}); err != nil {
			s.logger.Warn(ctx, "hello reply dropped", "peer", f.PeerID, "error", err)
		}

	case FrameHeartbeat:
		peerID := s.PeerID()
		if peerID == "" {
			s.sendError(f.ID, "heartbeat before hello")
			return false
		}
		if err := s.hub.presence.Heartbeat(ctx, peerID); err != nil {
			s.sendError(f.ID, err.Error())
		}

	case FrameBye:
		peerID := s.PeerID()
		if peerID != "" {
			if err := s.hub.presence.MarkOffline(ctx, peerID); err != nil {
				s.logger.Warn(ctx, "goodbye offline transition failed", "peer", peerID, "error", err)
			}
		}
		return true

	case FrameFileAck:
		s.resolveAck(f)

	case FrameFile:
		s.handleOutboundFile(f)

	default:
		s.sendError(f.ID, fmt.Sprintf("unknown frame type %q", f.Type))
	}
	return false
}

func (s *Session) resolveAck(f *Frame) {
	s.mu.Lock()
	ch, ok := s.pending[f.ID]
	s.mu.Unlock()
	if !ok {
		s.logger.Debug(context.Background(), "ack for unknown frame", "peer", s.PeerID(), "id", f.ID)
		return
	}
	select {
	case ch <- f:
	default:
	}
}

// handleOutboundFile routes a client-originated file frame. Routing blocks on
// the receiver's ack, so it runs off the read pump to keep heartbeats flowing.
func (s *Session) handleOutboundFile(f *Frame) {
	senderID := s.PeerID()
	if senderID == "" {
		s.sendError(f.ID, "file before hello")
		return
	}
	router := s.hub.fileRouter()
	if router == nil {
		s.sendError(f.ID, "routing unavailable")
		return
	}

	req := &services.SendRequest{
		SenderID:   senderID,
		SenderName: f.SenderName,
		ReceiverID: f.ReceiverID,
		FileName:   f.FileName,
		FileSize:   f.FileSize,
		Data:       f.Data,
	}

	go func() {
		out, err := router.Send(context.Background(), req)
		if err != nil {
			s.sendError(f.ID, err.Error())
			return
		}
		reply := &Frame{
			Type:       FrameFileAck,
			ID:         f.ID,
			Status:     out.Status,
			ReceiverID: req.ReceiverID,
			BlobKey:    out.BlobKey,
			BlobURL:    out.BlobURL,
		}
		if err := s.send(reply); err != nil {
			s.logger.Warn(context.Background(), "send outcome reply dropped", "peer", senderID, "error", err)
		}
	}()
}
