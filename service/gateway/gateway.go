// Package gateway exposes the persisted scene state over HTTP. Reads
// and writes are authorized against the same topic grant patterns the
// broker enforces, so a credential can do over REST exactly what it
// could do over the bus.
package gateway

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"

	"github.com/scenesync/scenesync/lib/acl"
	"github.com/scenesync/scenesync/lib/logging"
	"github.com/scenesync/scenesync/lib/model"
	"github.com/scenesync/scenesync/lib/topics"
	"github.com/scenesync/scenesync/service"
)

// --------------------------------------------------------------------------
// Gateway
// --------------------------------------------------------------------------

// Config holds the gateway's settings.
type Config struct {
	// Endpoint is the listen address, e.g. ":8884".
	Endpoint string

	// Realm scopes the grant-check topics.
	Realm string

	// JWTPublicKey verifies request credentials. When nil the gateway
	// runs open, for development setups without an auth service.
	JWTPublicKey *rsa.PublicKey

	// Debug enables per-request logging.
	Debug bool
}

// Gateway serves the REST query surface of a running Service.
type Gateway struct {
	cfg    Config
	svc    *service.Service
	logger zerolog.Logger
}

// New creates a Gateway for the given service.
func New(cfg Config, svc *service.Service) *Gateway {
	return &Gateway{
		cfg:    cfg,
		svc:    svc,
		logger: logging.Component("gateway"),
	}
}

// Run serves until ctx is canceled.
func (g *Gateway) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    g.cfg.Endpoint,
		Handler: g.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	g.logger.Info().Str("endpoint", g.cfg.Endpoint).Msg("http gateway listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler builds the route table.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Unauthenticated surface
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /metrics", g.handleMetrics)

	// Query surface
	mux.Handle("GET /scenes", g.protected(g.handleAllScenes))
	mux.Handle("GET /scenes/{namespace}", g.protected(g.handleNamespaceScenes))
	mux.Handle("GET /scenes/{namespace}/{sceneId}", g.protected(g.handleListScene))
	mux.Handle("GET /scenes/{namespace}/{sceneId}/{objectId}", g.protected(g.handleGetObject))

	// Mutation surface
	mux.Handle("POST /scenes/{namespace}/{sceneId}", g.protected(g.handleSceneAction))
	mux.Handle("DELETE /scenes/{namespace}/{sceneId}", g.protected(g.handleDeleteScene))

	var h http.Handler = mux
	if g.cfg.Debug {
		h = g.loggerMiddleware(h)
	}
	return h
}

// --------------------------------------------------------------------------
// Middleware
// --------------------------------------------------------------------------

type claimsKey struct{}

// protected gates a handler on bus connectivity and, when a key is
// configured, a valid credential. Queries must not serve state the bus
// may be mutating unseen while this service is partitioned from it.
func (g *Gateway) protected(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.svc.Bus().Connected() {
			writeJSON(w, http.StatusServiceUnavailable, "Disconnected from message bus")
			return
		}
		if g.cfg.JWTPublicKey != nil {
			claims, err := g.authenticate(r)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, "Error validating permissions")
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims))
		}
		next(w, r)
	})
}

// requireRead checks the credential's subscribe grants against the
// scene's object topic. Wildcard namespace/scene arguments express
// listing endpoints. Returns false after writing the refusal.
func (g *Gateway) requireRead(w http.ResponseWriter, r *http.Request, namespace, sceneID string) bool {
	if g.cfg.JWTPublicKey == nil {
		return true
	}
	claims := r.Context().Value(claimsKey{}).(*Claims)
	if !acl.MatchAny(topics.ObjectPattern(g.cfg.Realm, namespace, sceneID), claims.Subs) {
		writeJSON(w, http.StatusUnauthorized, "You have not been granted read access")
		return false
	}
	return true
}

// requireWrite is requireRead for the publish grants.
func (g *Gateway) requireWrite(w http.ResponseWriter, r *http.Request, namespace, sceneID string) bool {
	if g.cfg.JWTPublicKey == nil {
		return true
	}
	claims := r.Context().Value(claimsKey{}).(*Claims)
	if !acl.MatchAny(topics.ObjectPattern(g.cfg.Realm, namespace, sceneID), claims.Publ) {
		writeJSON(w, http.StatusUnauthorized, "You have not been granted write access")
		return false
	}
	return true
}

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that logs HTTP requests
func (g *Gateway) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create custom response writer to capture status code
		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		// Process request
		next.ServeHTTP(rw, r)

		g.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.statusCode).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// --------------------------------------------------------------------------
// Query handlers
// --------------------------------------------------------------------------

// handleAllScenes lists every "namespace/sceneId" holding objects.
// Requires subscribe rights across all namespaces.
func (g *Gateway) handleAllScenes(w http.ResponseWriter, r *http.Request) {
	if !g.requireRead(w, r, topics.Wildcard, topics.Wildcard) {
		return
	}
	scenes, err := g.svc.Store().Scenes(r.Context(), "")
	if err != nil {
		g.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scenes)
}

// handleNamespaceScenes lists the scenes of one namespace.
func (g *Gateway) handleNamespaceScenes(w http.ResponseWriter, r *http.Request) {
	namespace := r.PathValue("namespace")
	if !g.requireRead(w, r, namespace, topics.Wildcard) {
		return
	}
	scenes, err := g.svc.Store().Scenes(r.Context(), namespace)
	if err != nil {
		g.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scenes)
}

// handleListScene returns the non-expired objects of a scene, with an
// optional ?type= filter.
func (g *Gateway) handleListScene(w http.ResponseWriter, r *http.Request) {
	namespace, sceneID := r.PathValue("namespace"), r.PathValue("sceneId")
	if !g.requireRead(w, r, namespace, sceneID) {
		return
	}
	objs, err := g.svc.Store().ListScene(r.Context(), namespace, sceneID, r.URL.Query().Get("type"))
	if err != nil {
		g.serverError(w, err)
		return
	}
	out := make([]model.SceneObject, 0, len(objs))
	for _, obj := range objs {
		out = append(out, obj.Redacted())
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetObject returns a single object, as a list of zero or one
// entries so clients share a decoder with handleListScene.
func (g *Gateway) handleGetObject(w http.ResponseWriter, r *http.Request) {
	namespace, sceneID := r.PathValue("namespace"), r.PathValue("sceneId")
	if !g.requireRead(w, r, namespace, sceneID) {
		return
	}
	key := model.Key{Namespace: namespace, SceneID: sceneID, ObjectID: r.PathValue("objectId")}
	obj, found, err := g.svc.Store().Get(r.Context(), key)
	if err != nil {
		g.serverError(w, err)
		return
	}
	out := []model.SceneObject{}
	if found {
		out = append(out, obj.Redacted())
	}
	writeJSON(w, http.StatusOK, out)
}

// --------------------------------------------------------------------------
// Mutation handlers
// --------------------------------------------------------------------------

// sceneActionRequest is the body of POST /scenes/{namespace}/{sceneId}.
type sceneActionRequest struct {
	Action              string `json:"action"`
	Namespace           string `json:"namespace"`
	SceneID             string `json:"sceneId"`
	AllowNonEmptyTarget bool   `json:"allowNonEmptyTarget"`
}

// handleSceneAction currently supports one action, "clone": copy the
// named source scene into the addressed scene without prefixing or
// reparenting, so the copy is indistinguishable from the original.
func (g *Gateway) handleSceneAction(w http.ResponseWriter, r *http.Request) {
	targetNS, targetScene := r.PathValue("namespace"), r.PathValue("sceneId")
	if !g.requireWrite(w, r, targetNS, targetScene) {
		return
	}

	var req sceneActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, "Malformed request body")
		return
	}
	if req.Action != "clone" {
		writeJSON(w, http.StatusBadRequest, "No valid action.")
		return
	}
	if req.Namespace == "" || req.SceneID == "" {
		writeJSON(w, http.StatusBadRequest, "No namespace or sceneId specified")
		return
	}
	// Cloning reads the source, so the credential needs subscribe
	// rights there too.
	if !g.requireRead(w, r, req.Namespace, req.SceneID) {
		return
	}

	ctx := r.Context()
	st := g.svc.Store()
	sourceCount, err := st.CountScene(ctx, req.Namespace, req.SceneID)
	if err != nil {
		g.serverError(w, err)
		return
	}
	if sourceCount == 0 {
		writeJSON(w, http.StatusNotFound, "The source scene is empty!")
		return
	}
	if !req.AllowNonEmptyTarget {
		targetCount, err := st.CountScene(ctx, targetNS, targetScene)
		if err != nil {
			g.serverError(w, err)
			return
		}
		if targetCount != 0 {
			writeJSON(w, http.StatusConflict, "The target scene is not empty!")
			return
		}
	}

	n, err := g.svc.LoadTemplate(ctx, service.TemplateRequest{
		InstanceID:      "clone",
		Realm:           g.cfg.Realm,
		SourceNamespace: req.Namespace,
		SourceSceneID:   req.SceneID,
		TargetNamespace: targetNS,
		TargetSceneID:   targetScene,
		Options: service.TemplateOptions{
			NoPrefix: true,
			NoParent: true,
			Persist:  true,
		},
	})
	if err != nil {
		g.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":        "success",
		"objectsCloned": n,
	})
}

// handleDeleteScene wipes a scene from the store and the cache.
func (g *Gateway) handleDeleteScene(w http.ResponseWriter, r *http.Request) {
	namespace, sceneID := r.PathValue("namespace"), r.PathValue("sceneId")
	if !g.requireWrite(w, r, namespace, sceneID) {
		return
	}
	n, err := g.svc.Store().DeleteScene(r.Context(), namespace, sceneID)
	if err != nil {
		g.serverError(w, err)
		return
	}
	g.svc.Cache().DropScene(namespace, sceneID)
	writeJSON(w, http.StatusOK, map[string]any{
		"result":       "success",
		"deletedCount": n,
	})
}

// --------------------------------------------------------------------------
// Operational handlers
// --------------------------------------------------------------------------

// handleHealth reports both backend connections. It stays reachable
// when the bus is down so orchestrators see what exactly is failing.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := g.svc.Store().Ping(r.Context()) == nil
	busOK := g.svc.Bus().Connected()

	if dbOK && busOK {
		writeJSON(w, http.StatusOK, map[string]any{"result": "success"})
		return
	}
	status := func(ok bool) string {
		if ok {
			return "connected"
		}
		return "disconnected"
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"result":   "failure",
		"database": status(dbOK),
		"bus":      status(busOK),
	})
}

func (g *Gateway) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	metrics.WritePrometheus(w, true)
}

func (g *Gateway) serverError(w http.ResponseWriter, err error) {
	g.logger.Error().Err(err).Msg("request failed")
	writeJSON(w, http.StatusInternalServerError, "Internal error")
}
