// Package web serves the navigator UI and its JSON API.
package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/joelkehle/cancer-navigator/internal/apperr"
	"github.com/joelkehle/cancer-navigator/internal/catalog"
	"github.com/joelkehle/cancer-navigator/internal/chat"
	"github.com/joelkehle/cancer-navigator/internal/imaging"
	"github.com/joelkehle/cancer-navigator/internal/report"
	"github.com/joelkehle/cancer-navigator/internal/session"
	"github.com/joelkehle/cancer-navigator/internal/stats"
	"github.com/joelkehle/cancer-navigator/internal/vault"
)

const (
	maxUploadBytes = 32 << 20
	maxJSONBytes   = 1 << 20
)

type ReportGenerator interface {
	Generate(ctx context.Context, req report.Request) (report.Report, error)
}

type ReportPDFRenderer interface {
	Render(ctx context.Context, rep report.Report) ([]byte, error)
}

type Deps struct {
	Catalog  *catalog.Tree
	Sessions session.Store
	Stats    *stats.Resolver
	Reports  ReportGenerator
	Chat     *chat.Bridge
	Analyzer *imaging.Analyzer
	Sealer   *vault.Sealer
	PDF      ReportPDFRenderer
	Logger   *zap.Logger
	WebDir   string
}

type Server struct {
	Deps
}

func NewServer(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Server{Deps: deps}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/catalog/organs", s.handleOrgans)
	mux.HandleFunc("GET /api/catalog/types", s.handleTypes)
	mux.HandleFunc("GET /api/catalog/options", s.handleOptions)

	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/consent", s.handleConsent)
	mux.HandleFunc("POST /api/sessions/{id}/profile", s.handleProfile)
	mux.HandleFunc("POST /api/sessions/{id}/report", s.handleReport)
	mux.HandleFunc("GET /api/sessions/{id}/report.pdf", s.handleReportPDF)
	mux.HandleFunc("GET /api/sessions/{id}/chat", s.handleChatLog)
	mux.HandleFunc("POST /api/sessions/{id}/chat", s.handleChat)
	mux.HandleFunc("POST /api/sessions/{id}/scan", s.handleScanUpload)
	mux.HandleFunc("GET /api/sessions/{id}/scan.png", s.handleScanImage)
	mux.HandleFunc("POST /api/sessions/{id}/scan/analyze", s.handleScanAnalyze)

	mux.HandleFunc("GET /", s.handleRoot)
	return s.logRequests(mux)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"error": msg, "code": code})
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.As(err)
	if e.Status >= 500 {
		s.Logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, e.Status, e.Code, "internal error")
		return
	}
	if e.Code == apperr.CodeExternalService {
		s.Logger.Warn("external service failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, e.Status, e.Code, e.Message)
}

func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperr.UnsupportedInput("invalid JSON body")
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	// Prevent stale frontend bundles from breaking the UI after deploys.
	w.Header().Set("Cache-Control", "no-store")
	if r.URL.Path == "/" || r.URL.Path == "/index.html" {
		http.ServeFile(w, r, filepath.Join(s.WebDir, "index.html"))
		return
	}
	path := filepath.Join(s.WebDir, filepath.Clean(r.URL.Path))
	if _, err := fs.Stat(os.DirFS(s.WebDir), strings.TrimPrefix(filepath.Clean(r.URL.Path), "/")); err == nil {
		http.ServeFile(w, r, path)
		return
	}
	http.NotFound(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]any{"status": "ok"})
}

func (s *Server) handleOrgans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]any{"organs": s.Catalog.Organs(), "other": catalog.Other})
}

func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	organ := strings.TrimSpace(r.URL.Query().Get("organ"))
	organStats, _ := s.Catalog.Stats(organ)
	writeJSON(w, 200, map[string]any{"organ": organ, "types": s.Catalog.Types(organ), "stats": organStats})
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rec, ok := s.Catalog.Options(strings.TrimSpace(q.Get("organ")), strings.TrimSpace(q.Get("type")))
	// Other closes every list so each tier can switch to free text.
	if !ok {
		writeJSON(w, 200, map[string]any{"freeform": true, "grades": []string{catalog.Other}, "mutations": []string{catalog.Other}})
		return
	}
	writeJSON(w, 200, map[string]any{
		"freeform":  false,
		"grades":    append(rec.Grades, catalog.Other),
		"mutations": append(rec.Mutations, catalog.Other),
	})
}

type sessionView struct {
	ID         string           `json:"id"`
	CreatedAt  time.Time        `json:"created_at"`
	Consent    bool             `json:"consent"`
	Profile    *catalog.Profile `json:"profile,omitempty"`
	ChatLength int              `json:"chat_length"`
	HasScan    bool             `json:"has_scan"`
	HasReport  bool             `json:"has_report"`
}

func viewOf(sess session.Session) sessionView {
	return sessionView{
		ID:         sess.ID,
		CreatedAt:  sess.CreatedAt,
		Consent:    sess.Consent,
		Profile:    sess.Profile,
		ChatLength: len(sess.Chat),
		HasScan:    len(sess.Scan) > 0,
		HasReport:  sess.LastReport != nil,
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Create(r.Context())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.Logger.Info("session created", zap.String("session_id", sess.ID))
	writeJSON(w, http.StatusCreated, viewOf(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, 200, viewOf(sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Sessions.Delete(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.Logger.Info("session ended", zap.String("session_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Consent bool `json:"consent"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	sess, err := s.Sessions.Update(r.Context(), r.PathValue("id"), func(sess *session.Session) error {
		sess.Consent = body.Consent
		return nil
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, 200, viewOf(sess))
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	var sel catalog.Selection
	if err := decodeJSON(r, &sel); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	id := r.PathValue("id")
	if _, err := s.Sessions.Get(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	profile := s.Catalog.Resolve(sel)
	if profile.Organ == "" {
		s.writeAppError(w, r, apperr.UnsupportedInput("select an organ or enter one"))
		return
	}
	st := s.Stats.Resolve(r.Context(), profile)
	if _, err := s.Sessions.Update(r.Context(), id, func(sess *session.Session) error {
		sess.Profile = &profile
		return nil
	}); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, 200, map[string]any{"profile": profile, "stats": st})
}

// consented loads the session and enforces the disclaimer gate.
func (s *Server) consented(ctx context.Context, id string) (session.Session, error) {
	sess, err := s.Sessions.Get(ctx, id)
	if err != nil {
		return session.Session{}, err
	}
	if !sess.Consent {
		return session.Session{}, apperr.Forbidden("accept the disclaimer before using the AI features")
	}
	return sess, nil
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Region string `json:"region"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	id := r.PathValue("id")
	sess, err := s.consented(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if sess.Profile == nil {
		s.writeAppError(w, r, apperr.UnsupportedInput("set a clinical profile before generating a report"))
		return
	}
	rep, err := s.Reports.Generate(r.Context(), report.Request{Profile: *sess.Profile, Region: body.Region})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if _, err := s.Sessions.Update(r.Context(), id, func(sess *session.Session) error {
		sess.LastReport = &rep
		return nil
	}); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, 200, rep)
}

func (s *Server) handleReportPDF(w http.ResponseWriter, r *http.Request) {
	if s.PDF == nil {
		writeError(w, 503, "unavailable", "pdf renderer unavailable")
		return
	}
	id := r.PathValue("id")
	sess, err := s.Sessions.Get(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if sess.LastReport == nil {
		s.writeAppError(w, r, apperr.NotFound("no report has been generated in this session"))
		return
	}
	pdf, err := s.PDF.Render(r.Context(), *sess.LastReport)
	if err != nil {
		s.Logger.Error("render report pdf failed", zap.String("session_id", id), zap.Error(err))
		writeError(w, 500, apperr.CodeInternal, "failed to render pdf")
		return
	}
	filename := fmt.Sprintf("%s-report.pdf", sanitizeFilename(sess.LastReport.CancerType))
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(200)
	_, _ = w.Write(pdf)
}

func (s *Server) handleChatLog(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, 200, map[string]any{"messages": sess.Chat})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	id := r.PathValue("id")
	if _, err := s.consented(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	// The model call runs under the session lock so concurrent questions
	// land in the log in the order they were answered.
	sess, err := s.Sessions.Update(r.Context(), id, func(sess *session.Session) error {
		if sess.Profile == nil {
			return apperr.UnsupportedInput("set a clinical profile before asking questions")
		}
		log, err := s.Chat.Submit(r.Context(), sess.Chat, *sess.Profile, body.Message)
		if err != nil {
			return err
		}
		sess.Chat = log
		return nil
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, 200, map[string]any{"messages": sess.Chat})
}

type scanView struct {
	Filename string           `json:"filename"`
	Format   string           `json:"format"`
	Metadata imaging.Metadata `json:"metadata"`
	Width    int              `json:"width"`
	Height   int              `json:"height"`
	Image    string           `json:"image"`
}

func (s *Server) handleScanUpload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.Sessions.Get(r.Context(), id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, 400, apperr.CodeUnsupportedInput, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, 400, apperr.CodeUnsupportedInput, "file field is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, 400, apperr.CodeUnsupportedInput, "failed to read uploaded file")
		return
	}

	scan, err := imaging.Decode(header.Filename, data)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	plain, err := json.Marshal(scan)
	if err != nil {
		s.writeAppError(w, r, apperr.Internal("encode scan", err))
		return
	}
	sealed, err := s.Sealer.Seal(plain, []byte(id))
	if err != nil {
		s.writeAppError(w, r, apperr.Internal("seal scan", err))
		return
	}
	if _, err := s.Sessions.Update(r.Context(), id, func(sess *session.Session) error {
		sess.Scan = sealed
		return nil
	}); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.Logger.Info("scan uploaded",
		zap.String("session_id", id),
		zap.String("format", scan.Format),
		zap.Int("bytes", len(data)),
	)
	writeJSON(w, 200, scanView{
		Filename: scan.Filename,
		Format:   scan.Format,
		Metadata: scan.Metadata,
		Width:    scan.Width,
		Height:   scan.Height,
		Image:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(scan.PNG),
	})
}

func (s *Server) openScan(sess session.Session) (imaging.Scan, error) {
	if len(sess.Scan) == 0 {
		return imaging.Scan{}, apperr.NotFound("no scan has been uploaded in this session")
	}
	plain, err := s.Sealer.Open(sess.Scan, []byte(sess.ID))
	if err != nil {
		return imaging.Scan{}, apperr.Internal("open scan", err)
	}
	var scan imaging.Scan
	if err := json.Unmarshal(plain, &scan); err != nil {
		return imaging.Scan{}, apperr.Internal("decode scan", err)
	}
	return scan, nil
}

func (s *Server) handleScanImage(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	scan, err := s.openScan(sess)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(200)
	_, _ = w.Write(scan.PNG)
}

func (s *Server) handleScanAnalyze(w http.ResponseWriter, r *http.Request) {
	sess, err := s.consented(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	scan, err := s.openScan(sess)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, 200, s.Analyzer.Analyze(r.Context(), scan))
}

func sanitizeFilename(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "report"
	}
	v = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, v)
	return v
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: 200}
		next.ServeHTTP(rec, r)
		s.Logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
