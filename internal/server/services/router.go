package services

import (
	"context"
	"errors"
	"fmt"

	sc "github.com/peerdrop/peerdrop/internal/server/config"

	"github.com/peerdrop/peerdrop/internal/common"
	"github.com/peerdrop/peerdrop/internal/logging"
	"github.com/peerdrop/peerdrop/internal/server/blobstore"
)

// LiveChannel is an established point-to-point channel to one peer.
type LiveChannel interface {
	PeerID() string
	// SendFile pushes the payload and blocks until the receiving peer
	// acknowledges it or ctx expires.
	SendFile(ctx context.Context, fileName string, fileSize int64, data []byte) error
}

// LiveNetwork is the external session/signaling layer the router sends
// through. Dial must classify its failures: common.ErrPeerUnreachable when
// signaling worked but the remote party is not present (the only fallback
// trigger), and common.ErrConnectionFailed for transient faults.
type LiveNetwork interface {
	// Channel returns an already-established channel to peerID, if any.
	Channel(peerID string) (LiveChannel, bool)
	// Dial attempts to establish a new channel to peerID.
	Dial(ctx context.Context, peerID string) (LiveChannel, error)
}

// Outcome statuses for a routed send. Failures are reported as errors
// (common.ErrTransferFailed, ErrPeerUnknown, ErrConnectionFailed), not
// outcomes.
const (
	OutcomeDeliveredLive = "delivered_live"
	OutcomeQueued        = "queued"
)

// Outcome describes how a routed send completed.
type Outcome struct {
	Status string
	// ReceiverName is resolved for user feedback on both paths.
	ReceiverName string
	// BlobKey and BlobURL are set only for queued outcomes.
	BlobKey string
	BlobURL string
}

// SendRequest is a sender-facing file delivery request.
type SendRequest struct {
	SenderID   string
	SenderName string
	ReceiverID string
	FileName   string
	FileSize   int64
	Data       []byte
}

// RouterService decides between the live channel and the queued fallback.
// The fallback fires only on a peer-unreachable classification; every other
// failure propagates so the caller owns the retry decision.
type RouterService struct {
	presence *PresenceService
	queue    *TransferService
	blobs    blobstore.Store
	network  LiveNetwork
	config   *sc.Config
	logger   logging.Logger
}

func NewRouterService(presence *PresenceService, queue *TransferService, blobs blobstore.Store,
	network LiveNetwork, config *sc.Config, logger logging.Logger) *RouterService {
	return &RouterService{
		presence: presence,
		queue:    queue,
		blobs:    blobs,
		network:  network,
		config:   config,
		logger:   logger.With("module", "router"),
	}
}

// Send routes one file to its receiver: live channel first, durable staging
// second.
func (s *RouterService) Send(ctx context.Context, req *SendRequest) (*Outcome, error) {
	if req.SenderID == "" || req.ReceiverID == "" || req.FileName == "" {
		return nil, fmt.Errorf("%w: sender, receiver and file name are required", common.ErrorValidation)
	}

	// Resolve identity up front: an identifier without any presence record
	// is unknown, never unreachable, and never queues.
	receiver, err := s.presence.Get(ctx, req.ReceiverID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("receiver %q: %w", req.ReceiverID, common.ErrPeerUnknown)
		}
		return nil, fmt.Errorf("error resolving receiver: %w", err)
	}

	if ch, ok := s.network.Channel(req.ReceiverID); ok {
		// The peer was known reachable just prior, so a mid-transfer failure
		// is not a fallback trigger.
		if err := s.sendLive(ctx, ch, req); err != nil {
			return nil, err
		}
		s.logger.Info(ctx, "delivered over existing channel", "receiver", req.ReceiverID, "file", req.FileName)
		return &Outcome{Status: OutcomeDeliveredLive, ReceiverName: receiver.DisplayName}, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.config.DialTimeout)
	defer cancel()

	ch, err := s.network.Dial(dialCtx, req.ReceiverID)
	switch {
	case err == nil:
		if err := s.sendLive(ctx, ch, req); err != nil {
			return nil, err
		}
		s.logger.Info(ctx, "delivered over dialed channel", "receiver", req.ReceiverID, "file", req.FileName)
		return &Outcome{Status: OutcomeDeliveredLive, ReceiverName: receiver.DisplayName}, nil

	case errors.Is(err, common.ErrPeerUnreachable):
		return s.stage(ctx, req, receiver.DisplayName)

	case errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: dialing %q timed out", common.ErrConnectionFailed, req.ReceiverID)

	case errors.Is(err, common.ErrConnectionFailed):
		return nil, err

	default:
		return nil, fmt.Errorf("%w: %v", common.ErrConnectionFailed, err)
	}
}

func (s *RouterService) sendLive(ctx context.Context, ch LiveChannel, req *SendRequest) error {
	sendCtx, cancel := context.WithTimeout(ctx, s.config.LiveSendTimeout)
	defer cancel()

	if err := ch.SendFile(sendCtx, req.FileName, req.FileSize, req.Data); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: live send to %q timed out", common.ErrConnectionFailed, req.ReceiverID)
		}
		return fmt.Errorf("%w: live send to %q: %v", common.ErrTransferFailed, req.ReceiverID, err)
	}
	return nil
}

// stage uploads the payload and only then creates the queue record, so no
// record can ever reference an unresolved blob. An upload failure leaves
// nothing behind.
func (s *RouterService) stage(ctx context.Context, req *SendRequest, receiverName string) (*Outcome, error) {
	key := blobstore.NewStorageKey()

	uploadCtx, cancel := context.WithTimeout(ctx, s.config.BlobUploadTimeout)
	defer cancel()

	if err := s.blobs.Upload(uploadCtx, key, req.Data); err != nil {
		return nil, fmt.Errorf("%w: staging upload: %w", common.ErrTransferFailed, err)
	}

	t, err := s.queue.Enqueue(ctx, req.SenderID, req.SenderName, req.ReceiverID, key, req.FileName, req.FileSize)
	if err != nil {
		return nil, err
	}

	url, err := s.blobs.PresignGetURL(ctx, key)
	if err != nil {
		// The record is durable and listable; the receiver can still request
		// a download URL later.
		s.logger.Warn(ctx, "presign after staging failed", "transfer_id", t.ID, "error", err)
		url = ""
	}

	s.logger.Info(ctx, "transfer queued", "transfer_id", t.ID, "receiver", req.ReceiverID, "file", req.FileName)
	return &Outcome{
		Status:       OutcomeQueued,
		ReceiverName: receiverName,
		BlobKey:      key,
		BlobURL:      url,
	}, nil
}
