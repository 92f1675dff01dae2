// Package router exposes the link shortener over HTTP.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/zixialu/tinyapp/internal/auth"
	"github.com/zixialu/tinyapp/internal/gzippedhttp"
	"github.com/zixialu/tinyapp/internal/logger"
	"github.com/zixialu/tinyapp/internal/models"
	"github.com/zixialu/tinyapp/internal/service"
	"github.com/zixialu/tinyapp/internal/user"
)

const maxRequestBodyBytes = 1 << 20

type linkService interface {
	Register(ctx context.Context, sess *auth.Session, email, password string) (*user.User, error)
	Login(ctx context.Context, sess *auth.Session, email, password string) (*user.User, error)
	Logout(ctx context.Context, sess *auth.Session)
	CreateLink(ctx context.Context, sess *auth.Session, longURL string) (*models.Link, error)
	ListLinks(ctx context.Context, sess *auth.Session) ([]models.Link, error)
	GetLink(ctx context.Context, sess *auth.Session, token string) (*models.Link, error)
	UpdateLink(ctx context.Context, sess *auth.Session, token, longURL string) (*models.Link, error)
	DeleteLink(ctx context.Context, sess *auth.Session, token string) error
	Visit(ctx context.Context, sess *auth.Session, token string) (string, error)
	GetInternalStats(ctx context.Context) (models.InternalStatsResponse, error)
	GetShortURL(token string) string
}

type sessionKeeper interface {
	WithSession(h http.Handler) http.Handler
	Save(response http.ResponseWriter, s *auth.Session) error
}

type trustedSubnetGuard interface {
	TrustedOnly(h http.Handler) http.Handler
}

// Router is the HTTP handler of the service.
type Router struct {
	chi.Router
	svc       linkService
	sessions  sessionKeeper
	ipChecker trustedSubnetGuard
	validate  *validator.Validate
}

func New(
	sessions sessionKeeper,
	ipChecker trustedSubnetGuard,
	svc linkService,
) *Router {
	r := &Router{
		Router:    chi.NewRouter(),
		svc:       svc,
		sessions:  sessions,
		ipChecker: ipChecker,
		validate:  validator.New(),
	}

	r.Use(middleware.RequestID)
	r.Use(logger.WithLoggingHTTPMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(gzippedhttp.UngzipRequest)
	r.Use(middleware.Compress(5, "application/json", "text/plain"))
	r.Use(sessions.WithSession)

	r.Route("/api/user", func(router chi.Router) {
		router.Post("/register", r.PostApiuserregister)
		router.Post("/login", r.PostApiuserlogin)
		router.Post("/logout", r.PostApiuserlogout)
	})
	r.Route("/api/links", func(router chi.Router) {
		router.Post("/", r.PostApilinks)
		router.Get("/", r.GetApilinks)
		router.Get("/{token}", r.GetApilink)
		router.Put("/{token}", r.PutApilink)
		router.Delete("/{token}", r.DeleteApilink)
	})
	r.Get("/u/{token}", r.GetRedirecttolongurl)
	r.With(ipChecker.TrustedOnly).Get("/api/internal/stats", r.GetApiinternalstats)

	return r
}

// PostApiuserregister creates an account and logs the caller in.
func (r *Router) PostApiuserregister(response http.ResponseWriter, request *http.Request) {
	sess, ok := r.session(response, request)
	if !ok {
		return
	}

	var credentials models.CredentialsRequest
	if !r.decodeAndValidate(response, request, &credentials) {
		return
	}

	usr, err := r.svc.Register(request.Context(), sess, credentials.Email, credentials.Password)
	if err != nil {
		r.writeError(response, err)
		return
	}

	r.writeSessionAndJSON(response, sess, http.StatusCreated, models.UserResponse{UserID: usr.ID, Email: usr.Email})
}

// PostApiuserlogin logs the caller in with an email and a password.
func (r *Router) PostApiuserlogin(response http.ResponseWriter, request *http.Request) {
	sess, ok := r.session(response, request)
	if !ok {
		return
	}

	var credentials models.CredentialsRequest
	if !r.decode(response, request, &credentials) {
		return
	}

	usr, err := r.svc.Login(request.Context(), sess, credentials.Email, credentials.Password)
	if err != nil {
		r.writeError(response, err)
		return
	}

	r.writeSessionAndJSON(response, sess, http.StatusOK, models.UserResponse{UserID: usr.ID, Email: usr.Email})
}

// PostApiuserlogout ends the caller's login and sends a fresh anonymous session.
func (r *Router) PostApiuserlogout(response http.ResponseWriter, request *http.Request) {
	sess, ok := r.session(response, request)
	if !ok {
		return
	}

	r.svc.Logout(request.Context(), sess)

	if err := r.sessions.Save(response, sess); err != nil {
		logger.Log.Debugln("Error calling the `r.sessions.Save()`: ", zap.Error(err))
		response.WriteHeader(http.StatusInternalServerError)
		return
	}
	response.WriteHeader(http.StatusNoContent)
}

// PostApilinks shortens a URL on behalf of the logged-in caller.
func (r *Router) PostApilinks(response http.ResponseWriter, request *http.Request) {
	sess, ok := r.session(response, request)
	if !ok {
		return
	}
	if !sess.IsAuthenticated() {
		r.writeError(response, service.ErrUnauthenticated)
		return
	}

	var linkRequest models.LinkRequest
	if !r.decodeAndValidate(response, request, &linkRequest) {
		return
	}

	link, err := r.svc.CreateLink(request.Context(), sess, linkRequest.URL)
	if err != nil {
		r.writeError(response, err)
		return
	}

	writeJSON(response, http.StatusCreated, models.CreateLinkResponse{
		ShortToken: link.ShortToken,
		ShortURL:   r.svc.GetShortURL(link.ShortToken),
	})
}

// GetApilinks lists the caller's links. Anonymous callers get an empty list.
func (r *Router) GetApilinks(response http.ResponseWriter, request *http.Request) {
	sess, ok := r.session(response, request)
	if !ok {
		return
	}

	links, err := r.svc.ListLinks(request.Context(), sess)
	if err != nil {
		r.writeError(response, err)
		return
	}

	result := make(models.LinksResponse, 0, len(links))
	for _, link := range links {
		result = append(result, toLinkResponse(link, r.svc.GetShortURL))
	}

	writeJSON(response, http.StatusOK, result)
}

// GetApilink shows one of the caller's links with its counters.
func (r *Router) GetApilink(response http.ResponseWriter, request *http.Request) {
	sess, ok := r.session(response, request)
	if !ok {
		return
	}

	link, err := r.svc.GetLink(request.Context(), sess, chi.URLParam(request, "token"))
	if err != nil {
		r.writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, toLinkResponse(*link, r.svc.GetShortURL))
}

// PutApilink points one of the caller's links at a new URL.
func (r *Router) PutApilink(response http.ResponseWriter, request *http.Request) {
	sess, ok := r.session(response, request)
	if !ok {
		return
	}

	var linkRequest models.LinkRequest
	if !r.decodeAndValidate(response, request, &linkRequest) {
		return
	}

	link, err := r.svc.UpdateLink(request.Context(), sess, chi.URLParam(request, "token"), linkRequest.URL)
	if err != nil {
		r.writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, toLinkResponse(*link, r.svc.GetShortURL))
}

// DeleteApilink removes one of the caller's links.
func (r *Router) DeleteApilink(response http.ResponseWriter, request *http.Request) {
	sess, ok := r.session(response, request)
	if !ok {
		return
	}

	if err := r.svc.DeleteLink(request.Context(), sess, chi.URLParam(request, "token")); err != nil {
		r.writeError(response, err)
		return
	}

	response.WriteHeader(http.StatusNoContent)
}

// GetRedirecttolongurl counts the visit and redirects to the link's long URL.
func (r *Router) GetRedirecttolongurl(response http.ResponseWriter, request *http.Request) {
	sess, ok := r.session(response, request)
	if !ok {
		return
	}

	longURL, err := r.svc.Visit(request.Context(), sess, chi.URLParam(request, "token"))
	if err != nil {
		r.writeError(response, err)
		return
	}

	http.Redirect(response, request, longURL, http.StatusTemporaryRedirect)
}

// GetApiinternalstats reports how many users and links the service keeps.
func (r *Router) GetApiinternalstats(response http.ResponseWriter, request *http.Request) {
	stats, err := r.svc.GetInternalStats(request.Context())
	if err != nil {
		r.writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, stats)
}

func (r *Router) session(response http.ResponseWriter, request *http.Request) (*auth.Session, bool) {
	sess, ok := auth.FromContext(request.Context())
	if !ok {
		logger.Log.Debugln("request reached a handler without a session")
		response.WriteHeader(http.StatusInternalServerError)
	}

	return sess, ok
}

func (r *Router) decode(response http.ResponseWriter, request *http.Request, target any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(response, request.Body, maxRequestBodyBytes))
	if err := decoder.Decode(target); err != nil {
		logger.Log.Debugln("Error calling the `decoder.Decode()`: ", zap.Error(err))
		http.Error(response, "malformed JSON body", http.StatusBadRequest)
		return false
	}

	return true
}

func (r *Router) decodeAndValidate(response http.ResponseWriter, request *http.Request, target any) bool {
	if !r.decode(response, request, target) {
		return false
	}
	if err := r.validate.Struct(target); err != nil {
		logger.Log.Debugln("Error calling the `r.validate.Struct()`: ", zap.Error(err))
		http.Error(response, service.ErrInvalidInput.Error(), http.StatusBadRequest)
		return false
	}

	return true
}

func (r *Router) writeSessionAndJSON(response http.ResponseWriter, sess *auth.Session, status int, body any) {
	if err := r.sessions.Save(response, sess); err != nil {
		logger.Log.Debugln("Error calling the `r.sessions.Save()`: ", zap.Error(err))
		response.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeJSON(response, status, body)
}

func (r *Router) writeError(response http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Log.Errorw("request failed", "error", err)
		http.Error(response, http.StatusText(status), status)
		return
	}

	http.Error(response, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrAuthFailed), errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(response http.ResponseWriter, status int, body any) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(status)

	if err := json.NewEncoder(response).Encode(body); err != nil {
		logger.Log.Debugln("Error calling the `json.NewEncoder(response).Encode()`: ", zap.Error(err))
	}
}

func toLinkResponse(link models.Link, formatShortURL models.URLFormatter) models.LinkResponse {
	return models.LinkResponse{
		ShortToken:       link.ShortToken,
		ShortURL:         formatShortURL(link.ShortToken),
		LongURL:          link.LongURL,
		CreatedAt:        link.CreatedAt,
		VisitCount:       link.VisitCount,
		UniqueVisitCount: link.UniqueVisitCount,
	}
}
