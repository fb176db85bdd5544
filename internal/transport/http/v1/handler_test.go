package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatrelay/internal/adapter/llm"
	"github.com/xiaot623/gogo/chatrelay/internal/adapter/mailer"
	"github.com/xiaot623/gogo/chatrelay/internal/auth"
	"github.com/xiaot623/gogo/chatrelay/internal/config"
	"github.com/xiaot623/gogo/chatrelay/internal/domain"
	"github.com/xiaot623/gogo/chatrelay/internal/logging"
	"github.com/xiaot623/gogo/chatrelay/internal/policy"
	store "github.com/xiaot623/gogo/chatrelay/internal/repository"
	"github.com/xiaot623/gogo/chatrelay/internal/service"
	"github.com/xiaot623/gogo/chatrelay/tests/helpers"
)

type testEnv struct {
	handler *Handler
	store   store.Store
	mail    *mailer.Recorder
	tokens  *auth.TokenManager
}

func newTestHandler(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		HistoryMode:        domain.HistoryModeFull,
		OTPTTL:             10 * time.Minute,
		AdminApproverEmail: "approver@example.com",
		PublicBaseURL:      "http://localhost:8080",
	}
	logger := logging.Discard()
	db := helpers.NewTestSQLiteStore(t)
	policyEngine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	env := &testEnv{
		store:  db,
		mail:   &mailer.Recorder{},
		tokens: auth.NewTokenManager("secret", time.Hour),
	}
	gateway := service.NewModelGateway(llm.NewMockClient(), "mock", time.Second, logger)
	svc := service.New(db, gateway, env.tokens, env.mail, policyEngine, cfg, logger)
	env.handler = NewHandler(svc, auth.NewAuthenticator(env.tokens, svc.ResolveIdentity))
	return env
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return req
}

var alice = domain.Authenticated("u1", "alice", domain.AccountRoleUser)

func TestChatCRUD(t *testing.T) {
	e := echo.New()
	env := newTestHandler(t)
	h := env.handler

	// create
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/chats", `{"title":"Plans"}`), rec)
	auth.SetIdentity(c, alice)
	require.NoError(t, h.CreateChat(c))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "Plans", created.Title)

	// list
	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/chats", nil), rec)
	auth.SetIdentity(c, alice)
	require.NoError(t, h.ListChats(c))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.ConversationSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	// rename with empty title
	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPatch, "/api/chats/"+created.ConversationID, `{"title":""}`), rec)
	c.SetParamNames("chatId")
	c.SetParamValues(created.ConversationID)
	auth.SetIdentity(c, alice)
	require.NoError(t, h.UpdateChat(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// rename
	rec = httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPatch, "/api/chats/"+created.ConversationID, `{"title":"Trip"}`), rec)
	c.SetParamNames("chatId")
	c.SetParamValues(created.ConversationID)
	auth.SetIdentity(c, alice)
	require.NoError(t, h.UpdateChat(c))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"Trip"`)

	// delete
	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodDelete, "/api/chats/"+created.ConversationID, nil), rec)
	c.SetParamNames("chatId")
	c.SetParamValues(created.ConversationID)
	auth.SetIdentity(c, alice)
	require.NoError(t, h.DeleteChat(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	// get after delete
	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/chats/"+created.ConversationID, nil), rec)
	c.SetParamNames("chatId")
	c.SetParamValues(created.ConversationID)
	auth.SetIdentity(c, alice)
	require.NoError(t, h.GetChat(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetChatReturnsMessages(t *testing.T) {
	e := echo.New()
	env := newTestHandler(t)

	_, err := env.store.AppendMessage(context.Background(), "u1", "c1", domain.NewUserMessage("hello", time.Now()))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/chats/c1", nil), rec)
	c.SetParamNames("chatId")
	c.SetParamValues("c1")
	auth.SetIdentity(c, alice)
	require.NoError(t, env.handler.GetChat(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var conv domain.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Equal(t, "c1", conv.ConversationID)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "hello", conv.Messages[0].Content)
}

func TestChatsForbiddenForAnonymous(t *testing.T) {
	e := echo.New()
	env := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/chats", nil), rec)
	require.NoError(t, env.handler.ListChats(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRoutesRequireToken(t *testing.T) {
	e := echo.New()
	env := newTestHandler(t)
	env.handler.RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chats", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

var otpPattern = regexp.MustCompile(`code is (\d{4})`)

func (env *testEnv) lastOTP(t *testing.T, email string) string {
	t.Helper()
	m, ok := env.mail.Last(email)
	require.True(t, ok)
	match := otpPattern.FindStringSubmatch(m.Body)
	require.Len(t, match, 2)
	return match[1]
}

func TestAccountFlowOverHTTP(t *testing.T) {
	e := echo.New()
	env := newTestHandler(t)
	env.handler.RegisterRoutes(e)

	do := func(method, target, body, token string) *httptest.ResponseRecorder {
		req := jsonRequest(method, target, body)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/api/users/register", `{"name":"Alice","username":"alice","email":"alice@example.com","password":"pw"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "password")

	rec = do(http.MethodPost, "/api/users/register", `{"name":"Alice","username":"alice","email":"alice@example.com","password":"pw"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodPost, "/api/users/register", `{"name":"Bob"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodPost, "/api/users/login", `{"email":"alice@example.com","password":"pw"}`, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(http.MethodPost, "/api/users/verify-email", `{"email":"alice@example.com","otp":"`+env.lastOTP(t, "alice@example.com")+`"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(http.MethodPost, "/api/users/login", `{"email":"alice@example.com","password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(http.MethodPost, "/api/users/login", `{"email":"alice@example.com","password":"pw"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)

	rec = do(http.MethodGet, "/api/users/me", "", login.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"username":"alice"`)

	rec = do(http.MethodPatch, "/api/users/me", `{"name":"Alice B."}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(http.MethodPatch, "/api/users/me", `{"name":"Alice B."}`, login.Token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"name":"Alice B."`)
	assert.Contains(t, rec.Body.String(), `"token":`)

	rec = do(http.MethodPost, "/api/chats", `{"title":"First"}`, login.Token)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = do(http.MethodPost, "/api/users/forgot-password", `{"email":"alice@example.com"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(http.MethodPost, "/api/users/reset-password", `{"email":"alice@example.com","otp":"`+env.lastOTP(t, "alice@example.com")+`","newPassword":"pw2"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(http.MethodPost, "/api/users/login", `{"email":"alice@example.com","password":"pw2"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodPost, "/api/users/resend-otp", `{"email":"ghost@example.com"}`, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminApprovalOverHTTP(t *testing.T) {
	e := echo.New()
	env := newTestHandler(t)
	env.handler.RegisterRoutes(e)

	req := jsonRequest(http.MethodPost, "/api/admin/register", `{"name":"Root","username":"root","email":"root@example.com","password":"pw"}`)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	user, err := env.store.GetUserByEmail(context.Background(), "root@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, user.ApprovalToken)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/approve/"+user.ApprovalToken, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"approved"`)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/admin/reject/"+user.RejectionToken, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{domain.NewValidationError("bad"), http.StatusBadRequest},
		{&domain.ForbiddenError{Message: "no"}, http.StatusForbidden},
		{&domain.AuthenticationError{Reason: "who"}, http.StatusUnauthorized},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrConflict, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	e := echo.New()
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		require.NoError(t, respondError(c, tt.err))
		assert.Equal(t, tt.code, rec.Code, tt.err.Error())
	}
}
