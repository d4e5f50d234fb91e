package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"marketplace/internal/apperr"
	"marketplace/internal/auction"
	"marketplace/internal/chat"
	"marketplace/internal/handlers"
	"marketplace/internal/handlers/testutils"
	"marketplace/internal/jobs"
	"marketplace/internal/middleware"
	"marketplace/internal/risk"
	"marketplace/models"
)

// MockAuction реализует AuctionService
type MockAuction struct {
	err         error
	winner      *auction.WinnerResult
	SubmitBidFn func(actor models.Actor, tenderID uuid.UUID, in auction.BidInput) (*models.Bid, error)
}

func (m *MockAuction) CreateTender(_ context.Context, actor models.Actor, in auction.TenderInput) (*models.Tender, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Tender{ID: uuid.New(), ClientID: actor.ID, Category: in.Category, Status: models.TenderOpen}, nil
}

func (m *MockAuction) GetTender(_ context.Context, tenderID uuid.UUID) (*models.Tender, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Tender{ID: tenderID, Category: "plumbing", Status: models.TenderOpen}, nil
}

func (m *MockAuction) SubmitBid(_ context.Context, actor models.Actor, tenderID uuid.UUID, in auction.BidInput) (*models.Bid, error) {
	if m.SubmitBidFn != nil {
		return m.SubmitBidFn(actor, tenderID, in)
	}
	return &models.Bid{ID: uuid.New(), TenderID: tenderID, ProID: actor.ID, Price: in.Price}, nil
}

func (m *MockAuction) ListBids(context.Context, models.Actor, uuid.UUID) ([]models.Bid, error) {
	return []models.Bid{}, m.err
}

func (m *MockAuction) LockBids(_ context.Context, _ models.Actor, tenderID uuid.UUID) (*models.Tender, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Tender{ID: tenderID, BidsLocked: true}, nil
}

func (m *MockAuction) SelectWinner(context.Context, models.Actor, uuid.UUID) (*auction.WinnerResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.winner, nil
}

func (m *MockAuction) CancelTender(_ context.Context, _ models.Actor, tenderID uuid.UUID) (*models.Tender, error) {
	return &models.Tender{ID: tenderID, Status: models.TenderCancelled}, m.err
}

// MockJobs реализует JobService
type MockJobs struct {
	err      error
	startOTP string
	finished *jobs.FinishResult
}

func (m *MockJobs) job(jobID uuid.UUID, status models.JobStatus) (*models.Job, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Job{ID: jobID, Status: status}, nil
}

func (m *MockJobs) CreateJob(_ context.Context, actor models.Actor, in jobs.JobInput) (*models.Job, error) {
	return &models.Job{ID: uuid.New(), ClientID: actor.ID, Category: in.Category, Status: models.JobNew}, m.err
}
func (m *MockJobs) GetJob(_ context.Context, _ models.Actor, id uuid.UUID) (*models.Job, error) {
	return m.job(id, models.JobNew)
}
func (m *MockJobs) OfferJob(_ context.Context, _ models.Actor, id, proID uuid.UUID) (*models.Job, error) {
	j, err := m.job(id, models.JobOffered)
	if j != nil {
		j.OfferedProID = uuid.NullUUID{UUID: proID, Valid: true}
	}
	return j, err
}
func (m *MockJobs) AcceptJob(_ context.Context, _ models.Actor, id uuid.UUID) (*models.Job, error) {
	return m.job(id, models.JobAccepted)
}
func (m *MockJobs) StartJob(_ context.Context, _ models.Actor, id uuid.UUID, otp string) (*models.Job, error) {
	m.startOTP = otp
	return m.job(id, models.JobInProgress)
}
func (m *MockJobs) FinishJob(context.Context, models.Actor, uuid.UUID, jobs.FinishInput) (*jobs.FinishResult, error) {
	return m.finished, m.err
}
func (m *MockJobs) CancelJob(_ context.Context, _ models.Actor, id uuid.UUID) (*models.Job, error) {
	return m.job(id, models.JobCancelled)
}
func (m *MockJobs) DisputeJob(_ context.Context, _ models.Actor, id uuid.UUID) (*models.Job, error) {
	return m.job(id, models.JobDisputed)
}

// MockEscrow реализует EscrowService
type MockEscrow struct {
	created bool
	err     error
}

func (m *MockEscrow) CreateDeposit(_ context.Context, actor models.Actor, subject models.Subject, subjectID uuid.UUID, amount int64) (*models.Escrow, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	return &models.Escrow{ID: uuid.New(), Subject: subject, SubjectID: subjectID, ClientID: actor.ID, Amount: amount, Status: models.EscrowHeld}, m.created, nil
}
func (m *MockEscrow) Release(_ context.Context, _ models.Actor, id uuid.UUID, _ string) (*models.Escrow, error) {
	return &models.Escrow{ID: id, Status: models.EscrowReleased}, m.err
}
func (m *MockEscrow) Refund(_ context.Context, _ models.Actor, id uuid.UUID, reason string) (*models.Escrow, error) {
	if reason == "" {
		return nil, apperr.ErrInvalidInput
	}
	return &models.Escrow{ID: id, Status: models.EscrowRefunded}, m.err
}

type MockRisk struct{}

func (MockRisk) Assess(context.Context, uuid.UUID) (risk.Assessment, error) {
	return risk.Assessment{Score: 6, Level: risk.LevelMedium, Events: 3}, nil
}

type MockChat struct{}

func (MockChat) CreateChat(_ context.Context, actor models.Actor, subject models.Subject, subjectID, proID uuid.UUID) (*models.Chat, error) {
	return &models.Chat{ID: uuid.New(), Subject: subject, SubjectID: subjectID, ClientID: actor.ID, ProID: proID}, nil
}
func (MockChat) PostMessage(_ context.Context, actor models.Actor, chatID uuid.UUID, content string) (*chat.Message, error) {
	return &chat.Message{ID: uuid.New(), ChatID: chatID, SenderID: actor.ID, Content: content}, nil
}
func (MockChat) ListMessages(_ context.Context, _ models.Actor, chatID uuid.UUID) ([]chat.Message, error) {
	return []chat.Message{{ChatID: chatID, Content: "[hidden phone]", Masked: true, PIIDetected: true}}, nil
}

type env struct {
	auction *MockAuction
	jobs    *MockJobs
	escrow  *MockEscrow
	router  http.Handler
}

func newEnv() *env {
	e := &env{auction: &MockAuction{}, jobs: &MockJobs{}, escrow: &MockEscrow{}}
	h := handlers.NewHandler(handlers.Services{
		Auction: e.auction,
		Jobs:    e.jobs,
		Escrow:  e.escrow,
		Risk:    MockRisk{},
		Chat:    MockChat{},
	}, nil)
	r := chi.NewRouter()
	h.Routes(r)
	e.router = r
	return e
}

var (
	clientID = uuid.New()
	proID    = uuid.New()
)

func (e *env) do(t *testing.T, method, path, role, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	switch role {
	case "client":
		req.Header.Set(middleware.HeaderUserID, clientID.String())
		req.Header.Set(middleware.HeaderUserRole, role)
	case "pro":
		req.Header.Set(middleware.HeaderUserID, proID.String())
		req.Header.Set(middleware.HeaderUserRole, role)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	res := w.Result()
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decodeError(t *testing.T, data []byte) (string, string) {
	t.Helper()
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	return body.Error, body.Message
}

func TestPingHandler(t *testing.T) {
	e := newEnv()
	res, body := e.do(t, http.MethodGet, "/api/ping", "", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "ok", string(body))
}

func TestRequiresActorHeaders(t *testing.T) {
	e := newEnv()
	res, body := e.do(t, http.MethodPost, "/api/tenders", "", `{"category":"paint"}`)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	code, _ := decodeError(t, body)
	require.Equal(t, "unauthorized", code)
}

func TestCreateTenderHandler(t *testing.T) {
	e := newEnv()
	res, body := e.do(t, http.MethodPost, "/api/tenders", "client", `{"category":"plumbing","brief":"boiler"}`)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var tender models.Tender
	require.NoError(t, json.Unmarshal(body, &tender))
	require.Equal(t, "plumbing", tender.Category)
	require.Equal(t, clientID, tender.ClientID)
}

func TestCreateTenderInvalidJSON(t *testing.T) {
	e := newEnv()
	res, body := e.do(t, http.MethodPost, "/api/tenders", "client", `{"category":`)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	code, msg := decodeError(t, body)
	require.Equal(t, "invalid_input", code)
	require.Equal(t, "Invalid JSON format", msg)
}

func TestSubmitBidPassesInput(t *testing.T) {
	e := newEnv()
	tenderID := uuid.New()
	var got auction.BidInput
	e.auction.SubmitBidFn = func(actor models.Actor, id uuid.UUID, in auction.BidInput) (*models.Bid, error) {
		require.Equal(t, proID, actor.ID)
		require.Equal(t, tenderID, id)
		got = in
		return &models.Bid{ID: uuid.New(), TenderID: id, Price: in.Price}, nil
	}
	res, _ := e.do(t, http.MethodPost, "/api/tenders/"+tenderID.String()+"/bids", "pro", `{"price":4500,"warrantyDays":365}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, auction.BidInput{Price: 4500, WarrantyDays: 365}, got)
}

func TestErrorKindsMapToStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apperr.ErrTenderLocked, http.StatusConflict, "tender_locked"},
		{apperr.ErrNotOwner, http.StatusForbidden, "not_owner"},
		{apperr.ErrInvalidPrice, http.StatusBadRequest, "invalid_price"},
		{apperr.ErrNotFound, http.StatusNotFound, "not_found"},
		{fmt.Errorf("%w: card declined", apperr.ErrPaymentFailed), http.StatusBadGateway, "payment_failed"},
		{fmt.Errorf("select tender: connection reset"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		e := newEnv()
		e.auction.err = tc.err
		res, body := e.do(t, http.MethodPost, "/api/tenders/"+uuid.NewString()+"/lock", "client", "")
		require.Equal(t, tc.status, res.StatusCode, tc.code)
		code, _ := decodeError(t, body)
		require.Equal(t, tc.code, code)
	}
}

func TestConflictSetsRetryAfter(t *testing.T) {
	e := newEnv()
	e.auction.err = apperr.ErrConflict
	res, body := e.do(t, http.MethodPost, "/api/tenders/"+uuid.NewString()+"/winner", "client", "")
	require.Equal(t, http.StatusConflict, res.StatusCode)
	require.Equal(t, "1", res.Header.Get("Retry-After"))
	code, _ := decodeError(t, body)
	require.Equal(t, "conflict", code)
}

func TestSelectWinnerHandler(t *testing.T) {
	e := newEnv()
	bidID := uuid.New()
	e.auction.winner = &auction.WinnerResult{WinningBidID: bidID, PayPrice: 4200, OriginalPrice: 4500, TotalBids: 2}
	res, body := e.do(t, http.MethodPost, "/api/tenders/"+uuid.NewString()+"/winner", "client", "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	var result auction.WinnerResult
	require.NoError(t, json.Unmarshal(body, &result))
	require.Equal(t, bidID, result.WinningBidID)
	require.Equal(t, int64(4200), result.PayPrice)
}

func TestInvalidPathID(t *testing.T) {
	e := newEnv()
	res, _ := e.do(t, http.MethodGet, "/api/tenders/123", "client", "")
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestStartJobHandlerReadsOTP(t *testing.T) {
	e := newEnv()
	res, body := e.do(t, http.MethodPost, "/api/jobs/"+uuid.NewString()+"/start", "pro", `{"otp":"123456"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "123456", e.jobs.startOTP)
	require.Contains(t, string(body), string(models.JobInProgress))
}

func TestStartJobWrongOTP(t *testing.T) {
	e := newEnv()
	e.jobs.err = apperr.ErrInvalidOTP
	res, body := e.do(t, http.MethodPost, "/api/jobs/"+uuid.NewString()+"/start", "pro", `{"otp":"000000"}`)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	code, _ := decodeError(t, body)
	require.Equal(t, "invalid_otp", code)
}

func TestFinishJobReturnsWarnings(t *testing.T) {
	e := newEnv()
	e.jobs.finished = &jobs.FinishResult{
		Job:      &models.Job{ID: uuid.New(), Status: models.JobDone},
		Warnings: []string{"escrow release failed: credit_failed"},
	}
	res, body := e.do(t, http.MethodPost, "/api/jobs/"+uuid.NewString()+"/finish", "pro",
		`{"otp":"654321","evidenceUrls":["https://cdn.example.com/a.png"]}`)
	require.Equal(t, http.StatusOK, res.StatusCode)

	var result jobs.FinishResult
	require.NoError(t, json.Unmarshal(body, &result))
	require.False(t, result.EscrowReleased)
	require.Equal(t, []string{"escrow release failed: credit_failed"}, result.Warnings)
}

func TestOfferJobHandler(t *testing.T) {
	e := newEnv()
	target := uuid.New()
	res, body := e.do(t, http.MethodPost, "/api/jobs/"+uuid.NewString()+"/offer", "client", `{"proId":"`+target.String()+`"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)

	var job models.Job
	require.NoError(t, json.Unmarshal(body, &job))
	require.Equal(t, target, job.OfferedProID.UUID)
}

func TestCreateDepositStatus(t *testing.T) {
	e := newEnv()
	payload := `{"subject":"job","subjectId":"` + uuid.NewString() + `","amount":1500}`

	e.escrow.created = true
	res, _ := e.do(t, http.MethodPost, "/api/escrow", "client", payload)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	e.escrow.created = false
	res, _ = e.do(t, http.MethodPost, "/api/escrow", "client", payload)
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestRefundRequiresReason(t *testing.T) {
	e := newEnv()
	res, _ := e.do(t, http.MethodPost, "/api/escrow/"+uuid.NewString()+"/refund", "client", `{}`)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = e.do(t, http.MethodPost, "/api/escrow/"+uuid.NewString()+"/refund", "client", `{"reason":"no show"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestRiskHandler(t *testing.T) {
	e := newEnv()
	res, body := e.do(t, http.MethodGet, "/api/risk/me", "pro", "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	var a risk.Assessment
	require.NoError(t, json.Unmarshal(body, &a))
	require.Equal(t, 6, a.Score)
	require.Equal(t, risk.LevelMedium, a.Level)
}

func TestChatMessagesHandler(t *testing.T) {
	e := newEnv()
	chatID := uuid.NewString()
	res, _ := e.do(t, http.MethodPost, "/api/chats/"+chatID+"/messages", "client", `{"content":"hello"}`)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	res, body := e.do(t, http.MethodGet, "/api/chats/"+chatID+"/messages", "pro", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), "[hidden phone]")
}

func TestGetTenderHandlerDirect(t *testing.T) {
	h := handlers.NewHandler(handlers.Services{Auction: &MockAuction{}}, nil)
	tenderID := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/api/tenders/"+tenderID.String(), nil)
	req = testutils.WithChiURLParams(req, map[string]string{"tenderId": tenderID.String()})
	w := httptest.NewRecorder()

	h.GetTenderHandler(w, req)

	res := w.Result()
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), tenderID.String())
}
