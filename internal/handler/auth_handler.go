package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"authcore/internal/config"
	"authcore/internal/notify"
	"authcore/internal/otp"
	"authcore/internal/ratelimit"
	"authcore/internal/relying"
	"authcore/internal/session"
	"authcore/internal/util"
)

// AuthHandler carries both halves of the login flow: the identity-server
// endpoints that issue and verify OTP challenges, and the relying-party
// endpoints that start the authorization flow and consume its callback.
type AuthHandler struct {
	otpService *otp.Service
	dispatcher *notify.Dispatcher
	limiter    *ratelimit.Limiter
	rateCfg    config.RateLimitConfig
	callbacks  *session.CallbackCodec
	sessions   *session.Manager
	relying    *relying.Client
	// callbackURL is where verified identities are redirected with the
	// signed callback parameters.
	callbackURL string
	logger      *zap.Logger
}

func NewAuthHandler(
	otpService *otp.Service,
	dispatcher *notify.Dispatcher,
	limiter *ratelimit.Limiter,
	rateCfg config.RateLimitConfig,
	callbacks *session.CallbackCodec,
	sessions *session.Manager,
	relyingClient *relying.Client,
	callbackURL string,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		otpService:  otpService,
		dispatcher:  dispatcher,
		limiter:     limiter,
		rateCfg:     rateCfg,
		callbacks:   callbacks,
		sessions:    sessions,
		relying:     relyingClient,
		callbackURL: callbackURL,
		logger:      logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(code, message string) Response {
	return Response{
		Success: false,
		Error:   code,
		Message: message,
	}
}

// RegisterRoutes registers the OTP API routes.
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/otp", func(r chi.Router) {
		r.Post("/send", h.SendOTP)
		r.Post("/verify", h.VerifyOTP)
	})
}

type sendRequest struct {
	Email         string `json:"email"`
	AuthRequestID string `json:"auth_request_id"`
	ClientID      string `json:"client_id"`
}

type sendResponse struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SendOTP issues a challenge and dispatches the code to the mail pipeline.
// The response carries only the session handle; whether the address is
// registered is never revealed.
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithJSON(w, http.StatusBadRequest, errorResponse("bad_request", "Invalid request body"))
		return
	}

	email := util.NormalizeEmail(req.Email)
	if !util.ValidEmail(email) {
		h.respondWithJSON(w, http.StatusBadRequest, errorResponse("bad_request", "A valid email address is required"))
		return
	}

	ip := clientIP(r)
	if res := h.limiter.Check("send:ip:"+ip, h.rateCfg.SendPerIP, h.rateCfg.Window); !res.Allowed {
		h.respondRateLimited(w, res)
		return
	}
	if res := h.limiter.Check("send:email:"+email, h.rateCfg.SendPerEmail, h.rateCfg.Window); !res.Allowed {
		h.respondRateLimited(w, res)
		return
	}

	created, err := h.otpService.Create(ctx, otp.CreateParams{
		Email:         email,
		AuthRequestID: req.AuthRequestID,
		ClientID:      req.ClientID,
		DeviceInfo:    r.UserAgent(),
	})
	if err != nil {
		h.logger.Error("Failed to create OTP challenge", util.ErrorField(err))
		h.respondWithJSON(w, http.StatusInternalServerError, errorResponse("internal", "Could not start verification"))
		return
	}

	h.dispatcher.Dispatch(notify.Message{
		Email:     email,
		Code:      created.Code,
		SessionID: created.SessionID,
		ExpiresAt: created.ExpiresAt,
	})

	h.respondWithJSON(w, http.StatusOK, successResponse(sendResponse{
		SessionID: created.SessionID,
		ExpiresAt: created.ExpiresAt,
	}, "Verification code sent"))
}

type verifyRequest struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
	State     string `json:"state"`
}

type verifyResponse struct {
	Redirect string `json:"redirect"`
}

// VerifyOTP runs the verification state machine and, on success, answers
// with the signed callback redirect for the relying party.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithJSON(w, http.StatusBadRequest, errorResponse("bad_request", "Invalid request body"))
		return
	}
	if req.SessionID == "" || req.Code == "" {
		h.respondWithJSON(w, http.StatusBadRequest, errorResponse("bad_request", "session_id and code are required"))
		return
	}

	identity, err := h.otpService.VerifyCode(ctx, req.SessionID, req.Code)
	if err != nil {
		status, code, message := verifyOutcome(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("OTP verification failed", util.ErrorField(err))
		}
		h.respondWithJSON(w, status, errorResponse(code, message))
		return
	}

	redirect, err := h.buildCallbackRedirect(identity, req.State)
	if err != nil {
		h.logger.Error("Failed to build callback redirect", util.ErrorField(err))
		h.respondWithJSON(w, http.StatusInternalServerError, errorResponse("internal", "Verification could not be completed"))
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(verifyResponse{Redirect: redirect}, "Verified"))
}

func (h *AuthHandler) buildCallbackRedirect(identity *otp.VerifiedIdentity, state string) (string, error) {
	target, err := url.Parse(h.callbackURL)
	if err != nil {
		return "", fmt.Errorf("invalid callback URL: %w", err)
	}

	signed := h.callbacks.EncodeQuery(&session.Callback{
		AuthRequestID: identity.AuthRequestID,
		Email:         identity.Email,
		Approved:      true,
	})

	q := target.Query()
	for k, vs := range signed {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()
	return target.String(), nil
}

// verifyOutcome maps the closed set of verification errors to user-safe
// responses. Remaining-attempt counts are never exposed.
func verifyOutcome(err error) (int, string, string) {
	switch {
	case errors.Is(err, otp.ErrInvalidOrExpired), errors.Is(err, otp.ErrExpired):
		return http.StatusBadRequest, "invalid_or_expired", "The code is invalid or has expired"
	case errors.Is(err, otp.ErrAlreadyUsed):
		return http.StatusBadRequest, "already_used", "This code has already been used"
	case errors.Is(err, otp.ErrIncorrectCode):
		return http.StatusBadRequest, "incorrect_code", "The code is incorrect"
	case errors.Is(err, otp.ErrTooManyAttempts):
		return http.StatusTooManyRequests, "too_many_attempts", "Too many attempts"
	case errors.Is(err, otp.ErrLocked):
		return http.StatusTooManyRequests, "locked", "Verification is temporarily unavailable for this address"
	default:
		return http.StatusInternalServerError, "internal", "Verification could not be completed"
	}
}

// BeginLogin starts the relying-party flow: PKCE, DPoP key, state, pushed
// authorization request, flow cookie, then redirect to the identity server.
func (h *AuthHandler) BeginLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := h.relying.Begin(ctx, util.NormalizeEmail(r.URL.Query().Get("email")))
	if err != nil {
		h.logger.Error("Failed to begin authorization flow", util.ErrorField(err))
		h.respondWithJSON(w, http.StatusBadGateway, errorResponse("auth_failed", "Could not start sign-in"))
		return
	}

	flow := &session.OAuthFlow{
		State:          result.Materials.State,
		CodeVerifier:   result.Materials.CodeVerifier,
		DPoPPrivateJWK: result.Materials.PrivateJWK,
		AuthRequestID:  result.Materials.AuthRequestID,
		ReturnTo:       safeReturnTo(r.URL.Query().Get("return_to")),
	}
	if err := h.sessions.SetFlow(w, flow); err != nil {
		h.logger.Error("Failed to set flow cookie", util.ErrorField(err))
		h.respondWithJSON(w, http.StatusInternalServerError, errorResponse("internal", "Could not start sign-in"))
		return
	}

	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// Callback finishes the flow: signed callback parameters, state binding to
// the flow cookie, token exchange, then the user session cookie. Every
// failure mode collapses into one generic outcome; details are logged
// server-side only.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	flow, ok := h.sessions.GetFlow(r)
	if !ok {
		h.authFailed(w, "missing or invalid flow cookie")
		return
	}

	if state := query.Get("state"); state == "" || state != flow.State {
		h.authFailed(w, "state mismatch")
		return
	}

	cb, ok := h.callbacks.DecodeQuery(query)
	if !ok {
		h.authFailed(w, "callback signature rejected")
		return
	}
	if !cb.Approved || cb.AuthRequestID != flow.AuthRequestID {
		h.authFailed(w, "callback not bound to this flow")
		return
	}

	code := query.Get("code")
	if code == "" {
		h.authFailed(w, "missing authorization code")
		return
	}

	token, err := h.relying.Exchange(ctx, relying.FlowMaterials{
		State:         flow.State,
		CodeVerifier:  flow.CodeVerifier,
		PrivateJWK:    flow.DPoPPrivateJWK,
		AuthRequestID: flow.AuthRequestID,
	}, code)
	if err != nil {
		h.authFailed(w, fmt.Sprintf("token exchange: %v", err))
		return
	}

	if err := h.sessions.SetUser(w, &session.UserSession{
		Email:      cb.Email,
		NewAccount: cb.NewAccount,
	}); err != nil {
		h.authFailed(w, fmt.Sprintf("session cookie: %v", err))
		return
	}
	h.sessions.ClearFlow(w)

	h.logger.Info("Login completed",
		util.String("token_type", token.TokenType),
		util.Bool("new_account", cb.NewAccount))

	returnTo := flow.ReturnTo
	if returnTo == "" {
		returnTo = "/"
	}
	http.Redirect(w, r, returnTo, http.StatusFound)
}

// Logout clears the user session cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.ClearUser(w)
	w.WriteHeader(http.StatusNoContent)
}

// authFailed logs the real reason and answers with the one generic
// outcome, so cookie tampering and exchange failures are indistinguishable
// to a probing client.
func (h *AuthHandler) authFailed(w http.ResponseWriter, reason string) {
	h.logger.Warn("Authentication failed", util.String("reason", reason))
	h.respondWithJSON(w, http.StatusUnauthorized, errorResponse("auth_failed", "Authentication failed"))
}

func (h *AuthHandler) respondRateLimited(w http.ResponseWriter, res ratelimit.Result) {
	retry := int(res.RetryAfter.Seconds())
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	h.respondWithJSON(w, http.StatusTooManyRequests, errorResponse("rate_limited", "Too many requests, slow down"))
}

// respondWithJSON sends a JSON response
func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// clientIP trusts middleware.RealIP to have rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// safeReturnTo only allows same-site relative paths so the callback can
// never become an open redirect.
func safeReturnTo(raw string) string {
	if raw == "" || raw[0] != '/' {
		return ""
	}
	if len(raw) > 1 && raw[1] == '/' {
		return ""
	}
	return raw
}
