package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/peerdrop/peerdrop/internal/common"
	"github.com/peerdrop/peerdrop/internal/logging"
	"github.com/peerdrop/peerdrop/internal/server/auth"
	sc "github.com/peerdrop/peerdrop/internal/server/config"
	"github.com/peerdrop/peerdrop/internal/server/models"
	"github.com/peerdrop/peerdrop/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- fakes ----

type fakePresenceAPI struct {
	records map[string]*models.PeerPresence

	onlineErr error
	beatErr   error
	reachable bool
}

func (f *fakePresenceAPI) MarkOnline(ctx context.Context, peerID, displayName, contact string) (*models.PeerPresence, error) {
	if f.onlineErr != nil {
		return nil, f.onlineErr
	}
	p := &models.PeerPresence{
		PeerID: peerID, DisplayName: displayName, Contact: contact,
		Status: models.StatusOnline, LastHeartbeat: time.Now().UTC(),
	}
	f.records[peerID] = p
	return p, nil
}

func (f *fakePresenceAPI) Heartbeat(ctx context.Context, peerID string) error {
	if f.beatErr != nil {
		return f.beatErr
	}
	if _, ok := f.records[peerID]; !ok {
		return common.ErrorNotFound
	}
	return nil
}

func (f *fakePresenceAPI) MarkOffline(ctx context.Context, peerID string) error {
	if _, ok := f.records[peerID]; !ok {
		return common.ErrorNotFound
	}
	return nil
}

func (f *fakePresenceAPI) Get(ctx context.Context, peerID string) (*models.PeerPresence, error) {
	p, ok := f.records[peerID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return p, nil
}

func (f *fakePresenceAPI) Reachable(ctx context.Context, peerID string) (bool, *models.PeerPresence, error) {
	p, ok := f.records[peerID]
	if !ok {
		return false, nil, common.ErrorNotFound
	}
	return f.reachable, p, nil
}

type fakeQueueAPI struct {
	pending []*models.Transfer
	byID    map[string]*models.Transfer

	deliveredErr error
	delivered    []string
}

func (f *fakeQueueAPI) ListPending(ctx context.Context, receiverID string) ([]*models.Transfer, error) {
	return f.pending, nil
}

func (f *fakeQueueAPI) Get(ctx context.Context, transferID string) (*models.Transfer, error) {
	t, ok := f.byID[transferID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return t, nil
}

func (f *fakeQueueAPI) MarkDelivered(ctx context.Context, transferID, requestingPeerID string) error {
	if f.deliveredErr != nil {
		return f.deliveredErr
	}
	t, ok := f.byID[transferID]
	if !ok {
		return common.ErrorNotFound
	}
	if t.ReceiverID != requestingPeerID {
		return common.ErrorUnauthorized
	}
	f.delivered = append(f.delivered, transferID)
	return nil
}

type fakeRouterAPI struct {
	out *services.Outcome
	err error

	got *services.SendRequest
}

func (f *fakeRouterAPI) Send(ctx context.Context, req *services.SendRequest) (*services.Outcome, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

type fakeBlobAPI struct {
	err error
}

func (f *fakeBlobAPI) PresignGetURL(ctx context.Context, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "http://signed/" + key, nil
}

// ---- fixture ----

type apiFixture struct {
	cfg      *sc.Config
	presence *fakePresenceAPI
	queue    *fakeQueueAPI
	router   *fakeRouterAPI
	blobs    *fakeBlobAPI
	srv      *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	cfg := &sc.Config{SecretKey: "test-secret", TokenValidityDuration: time.Hour}
	f := &apiFixture{
		cfg:      cfg,
		presence: &fakePresenceAPI{records: map[string]*models.PeerPresence{}, reachable: true},
		queue:    &fakeQueueAPI{byID: map[string]*models.Transfer{}},
		router:   &fakeRouterAPI{},
		blobs:    &fakeBlobAPI{},
	}
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	handlers := NewHandlers(f.presence, f.queue, f.router, f.blobs, cfg, logger)

	mux := http.NewServeMux()
	handlers.Routes(mux, nil)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *apiFixture) token(t *testing.T, peerID string) string {
	t.Helper()
	tok, err := auth.GenerateToken(peerID, []byte(f.cfg.SecretKey), time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) *T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return &v
}

func multipartBody(t *testing.T, receiverID, fileName string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("receiver_id", receiverID))
	fw, err := w.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

// ---- tests ----

func TestOnline_IssuesToken(t *testing.T) {
	f := newAPIFixture(t)

	body := strings.NewReader(`{"peer_id":"p1","display_name":"Alice","contact":"alice@host"}`)
	resp := f.do(t, http.MethodPost, "/api/presence/online", "", body, "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[onlineResponse](t, resp)
	assert.Equal(t, "p1", out.Presence.PeerID)
	assert.NotEmpty(t, out.Token)

	peerID, err := auth.GetPeerIDFromToken(out.Token, []byte(f.cfg.SecretKey))
	require.NoError(t, err)
	assert.Equal(t, "p1", peerID)
}

func TestOnline_Validation(t *testing.T) {
	f := newAPIFixture(t)
	f.presence.onlineErr = common.ErrorValidation

	body := strings.NewReader(`{"peer_id":"","display_name":""}`)
	resp := f.do(t, http.MethodPost, "/api/presence/online", "", body, "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHeartbeat_AuthFlow(t *testing.T) {
	f := newAPIFixture(t)
	f.presence.records["p1"] = &models.PeerPresence{PeerID: "p1"}

	// no token
	resp := f.do(t, http.MethodPost, "/api/presence/heartbeat", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// garbage token
	resp = f.do(t, http.MethodPost, "/api/presence/heartbeat", "not-a-token", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// valid token, known peer
	resp = f.do(t, http.MethodPost, "/api/presence/heartbeat", f.token(t, "p1"), nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// valid token, unknown peer
	resp = f.do(t, http.MethodPost, "/api/presence/heartbeat", f.token(t, "ghost"), nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOffline(t *testing.T) {
	f := newAPIFixture(t)
	f.presence.records["p1"] = &models.PeerPresence{PeerID: "p1"}

	resp := f.do(t, http.MethodPost, "/api/presence/offline", f.token(t, "p1"), nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPresenceGet(t *testing.T) {
	f := newAPIFixture(t)
	f.presence.records["p1"] = &models.PeerPresence{
		PeerID: "p1", DisplayName: "Alice", LastHeartbeat: time.Now().UTC(),
	}
	f.presence.reachable = false

	resp := f.do(t, http.MethodGet, "/api/presence/p1", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[presenceResponse](t, resp)
	assert.Equal(t, "Alice", out.DisplayName)
	assert.False(t, out.Reachable)

	resp = f.do(t, http.MethodGet, "/api/presence/ghost", "", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSend_LiveOutcome(t *testing.T) {
	f := newAPIFixture(t)
	f.presence.records["alice"] = &models.PeerPresence{PeerID: "alice", DisplayName: "Alice"}
	f.router.out = &services.Outcome{Status: services.OutcomeDeliveredLive, ReceiverName: "Bob"}

	body, ct := multipartBody(t, "bob", "report.pdf", []byte("data"))
	resp := f.do(t, http.MethodPost, "/api/transfers", f.token(t, "alice"), body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[sendResponse](t, resp)
	assert.Equal(t, services.OutcomeDeliveredLive, out.Outcome)
	assert.Equal(t, "Bob", out.ReceiverName)

	require.NotNil(t, f.router.got)
	assert.Equal(t, "alice", f.router.got.SenderID)
	assert.Equal(t, "Alice", f.router.got.SenderName)
	assert.Equal(t, "bob", f.router.got.ReceiverID)
	assert.Equal(t, "report.pdf", f.router.got.FileName)
	assert.Equal(t, []byte("data"), f.router.got.Data)
}

func TestSend_QueuedOutcome(t *testing.T) {
	f := newAPIFixture(t)
	f.presence.records["alice"] = &models.PeerPresence{PeerID: "alice", DisplayName: "Alice"}
	f.router.out = &services.Outcome{
		Status: services.OutcomeQueued, ReceiverName: "Bob",
		BlobKey: "transfers/k", BlobURL: "http://signed/transfers/k",
	}

	body, ct := multipartBody(t, "bob", "f", []byte("x"))
	resp := f.do(t, http.MethodPost, "/api/transfers", f.token(t, "alice"), body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[sendResponse](t, resp)
	assert.Equal(t, services.OutcomeQueued, out.Outcome)
	assert.Equal(t, "transfers/k", out.BlobKey)
}

func TestSend_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"unknown peer", common.ErrPeerUnknown, http.StatusNotFound},
		{"connection failed", common.ErrConnectionFailed, http.StatusBadGateway},
		{"transfer failed", common.ErrTransferFailed, http.StatusInternalServerError},
		{"validation", common.ErrorValidation, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.presence.records["alice"] = &models.PeerPresence{PeerID: "alice", DisplayName: "Alice"}
			f.router.err = tc.err

			body, ct := multipartBody(t, "bob", "f", []byte("x"))
			resp := f.do(t, http.MethodPost, "/api/transfers", f.token(t, "alice"), body, ct)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestSend_MissingFile(t *testing.T) {
	f := newAPIFixture(t)
	f.presence.records["alice"] = &models.PeerPresence{PeerID: "alice"}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("receiver_id", "bob"))
	require.NoError(t, w.Close())

	resp := f.do(t, http.MethodPost, "/api/transfers", f.token(t, "alice"), &buf, w.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPending(t *testing.T) {
	f := newAPIFixture(t)
	f.queue.pending = []*models.Transfer{
		{ID: "t1", SenderID: "alice", SenderName: "Alice", FileName: "f1", FileSize: 1, BlobKey: "k1"},
		{ID: "t2", SenderID: "carol", SenderName: "Carol", FileName: "f2", FileSize: 2, BlobKey: "k2"},
	}

	resp := f.do(t, http.MethodGet, "/api/transfers/pending", f.token(t, "bob"), nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[pendingResponse](t, resp)
	assert.Equal(t, 2, out.Count)
	require.Len(t, out.Transfers, 2)
	assert.Equal(t, "t1", out.Transfers[0].ID)
}

func TestDelivered(t *testing.T) {
	f := newAPIFixture(t)
	f.queue.byID["t1"] = &models.Transfer{ID: "t1", ReceiverID: "bob"}

	// receiver acks
	resp := f.do(t, http.MethodPost, "/api/transfers/t1/delivered", f.token(t, "bob"), nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// someone else acks
	resp = f.do(t, http.MethodPost, "/api/transfers/t1/delivered", f.token(t, "mallory"), nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// unknown transfer
	resp = f.do(t, http.MethodPost, "/api/transfers/nope/delivered", f.token(t, "bob"), nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBlob_RedirectsReceiverOnly(t *testing.T) {
	f := newAPIFixture(t)
	f.queue.byID["t1"] = &models.Transfer{ID: "t1", ReceiverID: "bob", BlobKey: "transfers/k"}

	resp := f.do(t, http.MethodGet, "/api/transfers/t1/blob", f.token(t, "bob"), nil, "")
	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "http://signed/transfers/k", resp.Header.Get("Location"))

	resp = f.do(t, http.MethodGet, "/api/transfers/t1/blob", f.token(t, "mallory"), nil, "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestExpiredToken(t *testing.T) {
	f := newAPIFixture(t)
	tok, err := auth.GenerateToken("p1", []byte(f.cfg.SecretKey), -time.Minute)
	require.NoError(t, err)

	resp := f.do(t, http.MethodPost, "/api/presence/heartbeat", tok, nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
