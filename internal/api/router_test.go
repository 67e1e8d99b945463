package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxdesk/pharmacy-service/internal/auth"
	"github.com/rxdesk/pharmacy-service/internal/pharmacy"
)

type stubOrders struct {
	OrderService
	place func(ctx context.Context, sess auth.Session, in pharmacy.PlaceOrderInput) (*pharmacy.Order, bool, error)
	pay   func(ctx context.Context, sess auth.Session, id uuid.UUID, method string) (*pharmacy.Payment, error)
	get   func(ctx context.Context, sess auth.Session, id uuid.UUID) (*pharmacy.Order, error)
}

func (s stubOrders) PlaceOrder(ctx context.Context, sess auth.Session, in pharmacy.PlaceOrderInput) (*pharmacy.Order, bool, error) {
	return s.place(ctx, sess, in)
}

func (s stubOrders) Pay(ctx context.Context, sess auth.Session, id uuid.UUID, method string) (*pharmacy.Payment, error) {
	return s.pay(ctx, sess, id, method)
}

func (s stubOrders) Get(ctx context.Context, sess auth.Session, id uuid.UUID) (*pharmacy.Order, error) {
	return s.get(ctx, sess, id)
}

type stubAccounts struct {
	AccountService
	register func(ctx context.Context, in pharmacy.RegisterInput) (*pharmacy.User, error)
}

func (s stubAccounts) Register(ctx context.Context, in pharmacy.RegisterInput) (*pharmacy.User, error) {
	return s.register(ctx, in)
}

type testServer struct {
	handler http.Handler
	tokens  *auth.TokenIssuer
}

func newTestServer(t *testing.T, cfg RouterConfig) *testServer {
	t.Helper()
	tokens := auth.NewTokenIssuer("router-test-secret", time.Hour)
	cfg.Tokens = tokens
	cfg.Logger = zerolog.Nop()
	return &testServer{handler: NewRouter(cfg), tokens: tokens}
}

func (s *testServer) token(t *testing.T, role auth.Role) (string, uuid.UUID) {
	t.Helper()
	id := uuid.New()
	tok, _, err := s.tokens.Issue(id, string(role)+"@example.com", role)
	require.NoError(t, err)
	return tok, id
}

func (s *testServer) do(t *testing.T, method, path, token, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAuthentication(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})

	expired := auth.NewTokenIssuer("router-test-secret", -time.Minute)
	old, _, err := expired.Issue(uuid.New(), "p@example.com", auth.RolePatient)
	require.NoError(t, err)

	tests := []struct {
		name     string
		token    string
		wantKind string
	}{
		{"missing", "", "missing_token"},
		{"garbage", "not-a-jwt", "invalid_token"},
		{"expired", old, "expired_token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodGet, "/orders", tt.token, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tt.wantKind, decodeError(t, rec).Error)
		})
	}
}

func TestRequireRole(t *testing.T) {
	srv := newTestServer(t, RouterConfig{Orders: stubOrders{}})
	tok, _ := srv.token(t, auth.RolePharmacist)

	rec := srv.do(t, http.MethodPost, "/orders", tok, `{"items":[]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decodeError(t, rec).Error)
}

func TestPlaceOrderHandler(t *testing.T) {
	invID := uuid.New()
	var got pharmacy.PlaceOrderInput
	var gotSess auth.Session

	orders := stubOrders{
		place: func(_ context.Context, sess auth.Session, in pharmacy.PlaceOrderInput) (*pharmacy.Order, bool, error) {
			got, gotSess = in, sess
			return &pharmacy.Order{
				ID:         uuid.New(),
				PatientID:  sess.UserID,
				Status:     pharmacy.OrderPending,
				TotalPrice: decimal.RequireFromString("30.00"),
			}, in.IdempotencyKey == "replay", nil
		},
	}
	srv := newTestServer(t, RouterConfig{Orders: orders})
	tok, patientID := srv.token(t, auth.RolePatient)

	body := fmt.Sprintf(`{"items":[{"inventory_id":%q,"quantity":3}],"payment_method":"card"}`, invID)

	rec := srv.do(t, http.MethodPost, "/orders", tok, body, "Idempotency-Key", "first")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, patientID, gotSess.UserID)
	assert.Equal(t, "first", got.IdempotencyKey)
	assert.Equal(t, "card", got.PaymentMethod)
	require.Len(t, got.Items, 1)
	assert.Equal(t, pharmacy.OrderLine{InventoryID: invID, Quantity: 3}, got.Items[0])
	assert.Nil(t, got.PrescriptionID)
	assert.NotEmpty(t, rec.Header().Get("Location"))

	rec = srv.do(t, http.MethodPost, "/orders", tok, body, "Idempotency-Key", "replay")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodPost, "/orders", tok, `{"items":[{"inventory_id":"nope","quantity":1}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Error)

	rec = srv.do(t, http.MethodPost, "/orders", tok, `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantKind   string
	}{
		{fmt.Errorf("decrement: %w", pharmacy.ErrInsufficientStock), http.StatusBadRequest, "insufficient_stock"},
		{pharmacy.ErrEmptyOrder, http.StatusBadRequest, "empty_order"},
		{fmt.Errorf("%w: expired", pharmacy.ErrPrescriptionInvalid), http.StatusBadRequest, "prescription_invalid"},
		{pharmacy.ErrMedicineNotFound, http.StatusNotFound, "medicine_not_found"},
		{pharmacy.ErrForbidden, http.StatusForbidden, "forbidden"},
		{pharmacy.ErrOrderInFlight, http.StatusConflict, "order_in_flight"},
		{pharmacy.ErrDuplicatePayment, http.StatusBadRequest, "duplicate_payment"},
		{pharmacy.ErrUserInUse, http.StatusConflict, "user_in_use"},
		{context.DeadlineExceeded, http.StatusInternalServerError, "timeout"},
		{errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.wantKind, func(t *testing.T) {
			orders := stubOrders{
				place: func(context.Context, auth.Session, pharmacy.PlaceOrderInput) (*pharmacy.Order, bool, error) {
					return nil, false, tt.err
				},
			}
			srv := newTestServer(t, RouterConfig{Orders: orders})
			tok, _ := srv.token(t, auth.RolePatient)

			rec := srv.do(t, http.MethodPost, "/orders", tok, `{"items":[],"payment_method":"card"}`)
			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.wantKind, body.Error)
			assert.NotEmpty(t, body.Message)
			assert.Empty(t, body.Details)
		})
	}
}

func TestInternalErrorDetailsOnlyInDev(t *testing.T) {
	orders := stubOrders{
		get: func(context.Context, auth.Session, uuid.UUID) (*pharmacy.Order, error) {
			return nil, errors.New("pq: relation does not exist")
		},
	}

	for _, dev := range []bool{true, false} {
		srv := newTestServer(t, RouterConfig{Orders: orders, Dev: dev})
		tok, _ := srv.token(t, auth.RolePharmacist)

		rec := srv.do(t, http.MethodGet, "/orders/"+uuid.NewString(), tok, "")
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "internal server error", body.Message)
		if dev {
			assert.Contains(t, body.Details, "relation does not exist")
		} else {
			assert.Empty(t, body.Details)
		}
	}
}

func TestPayHandler(t *testing.T) {
	orderID := uuid.New()
	var gotMethod string
	orders := stubOrders{
		pay: func(_ context.Context, _ auth.Session, id uuid.UUID, method string) (*pharmacy.Payment, error) {
			gotMethod = method
			if id != orderID {
				return nil, pharmacy.ErrOrderNotFound
			}
			return &pharmacy.Payment{OrderID: id, Status: pharmacy.PaymentCompleted, Method: pharmacy.MethodUPI}, nil
		},
	}
	srv := newTestServer(t, RouterConfig{Orders: orders})
	tok, _ := srv.token(t, auth.RolePatient)

	rec := srv.do(t, http.MethodPost, "/orders/"+orderID.String()+"/pay", tok, `{"payment_method":"upi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "upi", gotMethod)

	var p pharmacy.Payment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, pharmacy.PaymentCompleted, p.Status)

	rec = srv.do(t, http.MethodPost, "/orders/"+orderID.String()+"/pay", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", gotMethod)

	rec = srv.do(t, http.MethodPost, "/orders/"+uuid.NewString()+"/pay", tok, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodPost, "/orders/not-a-uuid/pay", tok, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/orders/"+orderID.String()+"/pay", tok, `{"payment_method":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPayHandler_ChunkedEmptyBody(t *testing.T) {
	orderID := uuid.New()
	gotMethod := "unset"
	orders := stubOrders{
		pay: func(_ context.Context, _ auth.Session, id uuid.UUID, method string) (*pharmacy.Payment, error) {
			gotMethod = method
			return &pharmacy.Payment{OrderID: id, Status: pharmacy.PaymentCompleted, Method: pharmacy.MethodCard}, nil
		},
	}
	srv := newTestServer(t, RouterConfig{Orders: orders})
	tok, _ := srv.token(t, auth.RolePatient)

	// an unsized reader leaves ContentLength at -1, as with chunked uploads
	req := httptest.NewRequest(http.MethodPost, "/orders/"+orderID.String()+"/pay", io.MultiReader())
	require.Equal(t, int64(-1), req.ContentLength)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "", gotMethod)
}

func TestRegisterHandler_HidesPasswordHash(t *testing.T) {
	accounts := stubAccounts{
		register: func(_ context.Context, in pharmacy.RegisterInput) (*pharmacy.User, error) {
			if in.DateOfBirth == nil || in.DateOfBirth.Year() != 1990 {
				return nil, fmt.Errorf("%w: bad dob", pharmacy.ErrValidation)
			}
			return &pharmacy.User{ID: uuid.New(), Name: in.Name, Email: in.Email, PasswordHash: "$2a$secret", Role: auth.RolePatient}, nil
		},
	}
	srv := newTestServer(t, RouterConfig{Accounts: accounts})

	rec := srv.do(t, http.MethodPost, "/auth/register", "",
		`{"name":"Ada","email":"ada@example.com","password":"password1","role":"patient","date_of_birth":"1990-05-01"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.NotContains(t, rec.Body.String(), "password")

	rec = srv.do(t, http.MethodPost, "/auth/register", "",
		`{"name":"Ada","email":"ada@example.com","password":"password1","role":"patient","date_of_birth":"01/05/1990"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthReadiness(t *testing.T) {
	up := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("down") })

	tests := []struct {
		name       string
		postgres   Pinger
		redis      Pinger
		wantCode   int
		wantStatus string
	}{
		{"all up", up, up, http.StatusOK, "ok"},
		{"redis down", up, down, http.StatusOK, "degraded"},
		{"postgres down", down, up, http.StatusServiceUnavailable, "error"},
		{"redis disabled", up, nil, http.StatusOK, "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, RouterConfig{Health: NewHealthHandler(tt.postgres, tt.redis, "test", "v1")})

			rec := srv.do(t, http.MethodGet, "/health/ready", "", "")
			assert.Equal(t, tt.wantCode, rec.Code)

			var body ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, "v1", body.Version)
		})
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv := newTestServer(t, RouterConfig{Health: NewHealthHandler(PingFunc(func(context.Context) error { return nil }), nil, "test", "v1")})

	rec := srv.do(t, http.MethodGet, "/health/live", "", "", "X-Request-ID", "req-123")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec = srv.do(t, http.MethodGet, "/health/live", "", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer   abc "))
	assert.Equal(t, "", bearerToken("Basic abc"))
	assert.Equal(t, "", bearerToken("abc"))
	assert.Equal(t, "", bearerToken(""))
}
