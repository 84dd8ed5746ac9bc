// Package synchttp exposes the polling sync protocol over HTTP. Clients
// join a session, heartbeat for their approval status, and exchange
// artifacts once approved. The handler owns no session state; it
// translates requests into sessions.Manager and artifacts.Store calls.
package synchttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
	"github.com/netdrop/netdrop-go/artifacts"
	"github.com/netdrop/netdrop-go/internal/approvaltoken"
	"github.com/netdrop/netdrop-go/internal/audit"
	"github.com/netdrop/netdrop-go/internal/logctx"
	"github.com/netdrop/netdrop-go/internal/sanitize"
	"github.com/netdrop/netdrop-go/ratelimit"
	"github.com/netdrop/netdrop-go/sessions"
)

var _ http.Handler = (*SyncHandler)(nil)

var jsonMediaType = contenttype.NewMediaType("application/json")

const (
	// Multipart bodies beyond this spill to temp files while parsing.
	multipartMemoryLimit = 8 << 20

	// JSON control-plane bodies are small; text uploads are bounded by the
	// per-file cap which the artifact store enforces again on write.
	maxJSONBody = 64 << 20
)

// Config holds the transport-level knobs. Defaults can be loaded via
// envdecode.
type Config struct {
	// TrustedProxies lists CIDRs whose X-Forwarded-For header is honored.
	// ENV: TRUSTED_PROXIES
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// BlockedExtensions lists file extensions (without dot) rejected on
	// upload. ENV: BLOCKED_FILE_EXTENSIONS
	BlockedExtensions []string `env:"BLOCKED_FILE_EXTENSIONS,default=exe;bat;cmd;com;pif;scr;vbs;msi;jar;app"`
}

// Option configures the SyncHandler.
type Option func(*SyncHandler)

// WithLogger sets the slog logger. If not provided, logs are discarded.
func WithLogger(log *slog.Logger) Option {
	return func(h *SyncHandler) { h.log = log }
}

// WithGuard installs a brute-force guard consulted before every request
// that names a session code.
func WithGuard(g ratelimit.Guard) Option {
	return func(h *SyncHandler) { h.guard = g }
}

// WithAudit installs an audit logger. A nil logger disables auditing.
func WithAudit(a *audit.Logger) Option {
	return func(h *SyncHandler) { h.audit = a }
}

// WithTokenIssuer enables approval tokens: approved clients receive one on
// heartbeat and may present it on download instead of a clientId.
func WithTokenIssuer(i *approvaltoken.Issuer) Option {
	return func(h *SyncHandler) { h.tokens = i }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(h *SyncHandler) { h.now = now }
}

// SyncHandler is the http.Handler for the sync protocol.
type SyncHandler struct {
	log      *slog.Logger
	sessions *sessions.Manager
	guard    ratelimit.Guard
	audit    *audit.Logger
	tokens   *approvaltoken.Issuer

	trusted    []netip.Prefix
	blockedExt map[string]struct{}

	now func() time.Time
	mux *http.ServeMux
}

// New builds a SyncHandler around mgr. The returned handler routes the
// whole protocol surface; mount it at the server root.
func New(mgr *sessions.Manager, cfg Config, opts ...Option) (*SyncHandler, error) {
	h := &SyncHandler{
		sessions:   mgr,
		blockedExt: make(map[string]struct{}, len(cfg.BlockedExtensions)),
		now:        time.Now,
	}
	for _, ext := range cfg.BlockedExtensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			h.blockedExt[ext] = struct{}{}
		}
	}
	for _, cidr := range cfg.TrustedProxies {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		pfx, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("parse trusted proxy %q: %w", cidr, err)
		}
		h.trusted = append(h.trusted, pfx)
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /{code}/join", h.handleJoin)
	mux.HandleFunc("POST /{code}/heartbeat", h.handleHeartbeat)
	mux.HandleFunc("POST /{code}/approve", h.handleApprove)
	mux.HandleFunc("GET /{code}/files", h.handleFiles)
	mux.HandleFunc("POST /{code}/upload", h.handleUpload)
	mux.HandleFunc("POST /{code}/text-upload", h.handleTextUpload)
	mux.HandleFunc("POST /{code}/delete_all", h.handleDeleteAll)
	mux.HandleFunc("GET /{code}/download/{name}", h.handleDownload)
	h.mux = mux
	return h, nil
}

func (h *SyncHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "no-referrer")

	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	})
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

type apiError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Status  string `json:"status,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func failure(code string) apiError { return apiError{Error: code} }

// admit runs the shared prelude: session-code hygiene and the brute-force
// guard. A "" code means the response has been written.
func (h *SyncHandler) admit(w http.ResponseWriter, r *http.Request) (string, string) {
	ctx := r.Context()
	code := sanitize.SessionCode(r.PathValue("code"))
	if code == "" {
		writeJSON(w, http.StatusBadRequest, failure("invalid_code"))
		h.log.WarnContext(ctx, "http.code.invalid")
		return "", ""
	}
	ip := sanitize.ClientIP(r.RemoteAddr, r.Header.Get("X-Forwarded-For"), h.trusted)
	if h.guard != nil {
		if err := h.guard.Allow(ctx, ip, code); err != nil {
			if errors.Is(err, ratelimit.ErrBlocked) {
				writeJSON(w, http.StatusForbidden, failure("blocked"))
				h.log.WarnContext(ctx, "http.guard.blocked", slog.String("ip", ip))
				return "", ""
			}
			// Guard backend trouble must not take the service down.
			h.log.ErrorContext(ctx, "http.guard.fail", slog.String("err", err.Error()))
		}
	}
	return code, ip
}

// decodeJSON enforces the content type and decodes the body into v.
func (h *SyncHandler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ctx := r.Context()
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSON(w, http.StatusUnsupportedMediaType, failure("invalid_content_type"))
		h.log.WarnContext(ctx, "http.content_type.unsupported")
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, failure("invalid_request"))
		h.log.WarnContext(ctx, "http.json.decode.fail", slog.String("err", err.Error()))
		return false
	}
	return true
}

// writeSessionsErr maps a sessions error onto the wire. Authorization
// problems get real HTTP statuses; the rest are logical failures the
// polling clients read out of a 200 body.
func writeSessionsErr(w http.ResponseWriter, err error) {
	code := sessions.ErrorCode(err)
	switch {
	case errors.Is(err, sessions.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, failure(code))
	case errors.Is(err, sessions.ErrForbidden), errors.Is(err, sessions.ErrUnauthorized):
		writeJSON(w, http.StatusForbidden, apiError{Error: code, Status: string(sessions.StatusPending)})
	case errors.Is(err, sessions.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, failure(code))
	default:
		writeJSON(w, http.StatusOK, failure(code))
	}
}

type joinRequest struct {
	ClientID string `json:"clientId"`
}

type joinResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

func (h *SyncHandler) handleJoin(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	code, ip := h.admit(w, r)
	if code == "" {
		return
	}
	ctx := r.Context()

	var req joinRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if !sanitize.ValidClientID(req.ClientID) {
		writeJSON(w, http.StatusBadRequest, failure("invalid_request"))
		h.log.WarnContext(ctx, "http.join.client_id.invalid")
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{Code: code, ClientID: req.ClientID})

	sess := h.sessions.GetOrCreate(code)
	status, err := sess.Join(ctx, req.ClientID, sessions.ClientInfo{
		Addr:      ip,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeSessionsErr(w, err)
		h.log.WarnContext(ctx, "http.join.fail", slog.String("err", err.Error()))
		return
	}

	h.audit.Record(ctx, "JOIN", code, req.ClientID, ip, slog.String("status", string(status)))
	h.log.InfoContext(ctx, "http.join.ok",
		slog.String("status", string(status)),
		slog.Duration("dur", time.Since(start)))
	writeJSON(w, http.StatusOK, joinResponse{Success: true, Status: string(status)})
}

type heartbeatRequest struct {
	ClientID string `json:"clientId"`
}

type pendingRequestEntry struct {
	ClientID string `json:"clientId"`
	JoinedAt int64  `json:"joined_at"`
	IP       string `json:"ip"`
	Browser  string `json:"browser"`
}

type heartbeatResponse struct {
	Success         bool                  `json:"success"`
	Status          string                `json:"status"`
	PendingRequests []pendingRequestEntry `json:"pending_requests"`
	Token           string                `json:"token,omitempty"`
}

func (h *SyncHandler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	code, _ := h.admit(w, r)
	if code == "" {
		return
	}
	ctx := r.Context()

	var req heartbeatRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if !sanitize.ValidClientID(req.ClientID) {
		writeJSON(w, http.StatusBadRequest, failure("invalid_request"))
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{Code: code, ClientID: req.ClientID})

	sess, err := h.sessions.Get(code)
	if err != nil {
		writeSessionsErr(w, err)
		return
	}
	res, err := sess.Heartbeat(ctx, req.ClientID)
	if err != nil {
		writeSessionsErr(w, err)
		h.log.InfoContext(ctx, "http.heartbeat.fail", slog.String("err", err.Error()))
		return
	}

	resp := heartbeatResponse{
		Success:         true,
		Status:          string(res.Status),
		PendingRequests: make([]pendingRequestEntry, 0, len(res.Pending)),
	}
	for _, p := range res.Pending {
		resp.PendingRequests = append(resp.PendingRequests, pendingRequestEntry{
			ClientID: p.ClientID,
			JoinedAt: p.JoinedAt.Unix(),
			IP:       p.Info.Addr,
			Browser:  p.Info.UserAgent,
		})
	}
	if res.Status == sessions.StatusApproved && h.tokens != nil {
		tok, err := h.tokens.Mint(code, req.ClientID, h.now())
		if err != nil {
			h.log.ErrorContext(ctx, "http.heartbeat.token.fail", slog.String("err", err.Error()))
		} else {
			resp.Token = tok
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type approveRequest struct {
	ClientID string `json:"clientId"`
	TargetID string `json:"targetId"`
	Decision string `json:"decision"`
}

type approveResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

func (h *SyncHandler) handleApprove(w http.ResponseWriter, r *http.Request) {
	code, ip := h.admit(w, r)
	if code == "" {
		return
	}
	ctx := r.Context()

	var req approveRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if !sanitize.ValidClientID(req.ClientID) || !sanitize.ValidClientID(req.TargetID) {
		writeJSON(w, http.StatusBadRequest, failure("invalid_request"))
		return
	}
	var decision sessions.Decision
	switch req.Decision {
	case string(sessions.DecisionApprove):
		decision = sessions.DecisionApprove
	case string(sessions.DecisionReject):
		decision = sessions.DecisionReject
	default:
		writeJSON(w, http.StatusBadRequest, failure("invalid_request"))
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{Code: code, ClientID: req.ClientID})

	sess, err := h.sessions.Get(code)
	if err != nil {
		writeSessionsErr(w, err)
		return
	}
	status, err := sess.Decide(ctx, req.ClientID, req.TargetID, decision)
	if err != nil {
		writeSessionsErr(w, err)
		h.log.InfoContext(ctx, "http.approve.fail",
			slog.String("target", req.TargetID),
			slog.String("err", err.Error()))
		return
	}

	h.audit.Record(ctx, "DECIDE", code, req.ClientID, ip,
		slog.String("target", req.TargetID),
		slog.String("decision", string(decision)))
	h.log.InfoContext(ctx, "http.approve.ok",
		slog.String("target", req.TargetID),
		slog.String("decision", string(decision)))
	writeJSON(w, http.StatusOK, approveResponse{Success: true, Status: string(status)})
}

type fileEntry struct {
	Name           string `json:"name"`
	Size           int64  `json:"size"`
	FormattedSize  string `json:"formatted_size"`
	RemainingTotal int    `json:"remaining_total"`
	RemainingMin   int    `json:"remaining_min"`
	RemainingSec   string `json:"remaining_sec"`
}

type filesResponse struct {
	Success bool        `json:"success"`
	Files   []fileEntry `json:"files"`
}

func (h *SyncHandler) handleFiles(w http.ResponseWriter, r *http.Request) {
	code, _ := h.admit(w, r)
	if code == "" {
		return
	}
	ctx := r.Context()

	clientID := r.URL.Query().Get("clientId")
	if !sanitize.ValidClientID(clientID) {
		writeJSON(w, http.StatusBadRequest, failure("invalid_request"))
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{Code: code, ClientID: clientID})

	sess, err := h.sessions.Get(code)
	if err != nil {
		writeSessionsErr(w, err)
		return
	}
	entries, err := sess.ListArtifacts(ctx, clientID)
	if err != nil {
		writeSessionsErr(w, err)
		return
	}

	resp := filesResponse{Success: true, Files: make([]fileEntry, 0, len(entries))}
	for _, e := range entries {
		total := int(e.Remaining / time.Second)
		resp.Files = append(resp.Files, fileEntry{
			Name:           e.Name,
			Size:           e.SizeBytes,
			FormattedSize:  sanitize.FormatSize(e.SizeBytes),
			RemainingTotal: total,
			RemainingMin:   total / 60,
			RemainingSec:   fmt.Sprintf("%02d", total%60),
		})
	}
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	writeJSON(w, http.StatusOK, resp)
}

type uploadResponse struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

func (h *SyncHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	code, ip := h.admit(w, r)
	if code == "" {
		return
	}
	ctx := r.Context()

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		writeJSON(w, http.StatusBadRequest, failure("invalid_request"))
		h.log.WarnContext(ctx, "http.upload.multipart.fail", slog.String("err", err.Error()))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	clientID := r.FormValue("clientId")
	if !sanitize.ValidClientID(clientID) {
		writeJSON(w, http.StatusBadRequest, failure("invalid_request"))
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{Code: code, ClientID: clientID})

	sess, err := h.sessions.Get(code)
	if err != nil {
		writeSessionsErr(w, err)
		return
	}
	if err := sess.Authorize(clientID); err != nil {
		writeSessionsErr(w, err)
		h.log.InfoContext(ctx, "http.upload.unauthorized")
		return
	}

	store := sess.Artifacts()
	var (
		count    int
		blocked  bool
		tooLarge bool
	)
	for _, fh := range r.MultipartForm.File["file"] {
		raw := sanitize.DecodeFilename(fh.Filename)
		if raw == "" {
			continue
		}
		if ext := strings.TrimPrefix(sanitize.FileExt(raw), "."); ext != "" {
			if _, bad := h.blockedExt[ext]; bad {
				blocked = true
				h.log.WarnContext(ctx, "http.upload.ext.blocked", slog.String("ext", ext))
				continue
			}
		}
		name := sanitize.Filename(sanitize.NormalizeFilename(raw))
		if name == "" {
			h.log.WarnContext(ctx, "http.upload.name.invalid")
			continue
		}

		part, err := fh.Open()
		if err != nil {
			h.log.ErrorContext(ctx, "http.upload.part.fail", slog.String("err", err.Error()))
			continue
		}
		hr := audit.NewHashingReader(part)
		art, err := store.Put(ctx, name, artifacts.KindFile, hr, h.now())
		_ = part.Close()
		if err != nil {
			switch {
			case errors.Is(err, artifacts.ErrFileTooLarge):
				tooLarge = true
				continue
			case errors.Is(err, artifacts.ErrStorageFull):
				writeJSON(w, http.StatusOK, failure("quota_exceeded"))
				h.log.WarnContext(ctx, "http.upload.quota")
				return
			case errors.Is(err, artifacts.ErrTooManyFiles):
				writeJSON(w, http.StatusOK, failure("too_many_files"))
				return
			default:
				writeJSON(w, http.StatusInternalServerError, failure("internal_error"))
				h.log.ErrorContext(ctx, "http.upload.fail", slog.String("err", err.Error()))
				return
			}
		}

		count++
		h.audit.Record(ctx, "UPLOAD", code, clientID, ip,
			slog.String("filename", art.Name),
			slog.Int64("size", art.SizeBytes),
			slog.String("hash", hr.Sum()))
	}

	if count == 0 && (blocked || tooLarge) {
		if tooLarge {
			writeJSON(w, http.StatusOK, failure("file_too_large"))
			return
		}
		writeJSON(w, http.StatusOK, failure("blocked_extension"))
		return
	}

	h.log.InfoContext(ctx, "http.upload.ok",
		slog.Int("count", count),
		slog.Duration("dur", time.Since(start)))
	writeJSON(w, http.StatusOK, uploadResponse{Success: true, Count: count})
}

type textUploadRequest struct {
	ClientID string `json:"clientId"`
	Text     string `json:"text"`
}

type textUploadResponse struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename"`
}

// textSnippetName derives a file name from the first line of the snippet:
// up to ten runes, filesystem-hostile characters replaced, ".txt" suffix.
func textSnippetName(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	line = strings.TrimSpace(line)
	if runes := []rune(line); len(runes) > 10 {
		line = strings.TrimSpace(string(runes[:10]))
	}
	line = strings.Map(func(r rune) rune {
		switch r {
		case '\\', '/', '*', '?', ':', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, line)
	if line == "" {
		line = "text_input"
	}
	return line + ".txt"
}

func (h *SyncHandler) handleTextUpload(w http.ResponseWriter, r *http.Request) {
	code, ip := h.admit(w, r)
	if code == "" {
		return
	}
	ctx := r.Context()

	var req textUploadRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if !sanitize.ValidClientID(req.ClientID) {
		writeJSON(w, http.StatusBadRequest, failure("invalid_request"))
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{Code: code, ClientID: req.ClientID})

	sess, err := h.sessions.Get(code)
	if err != nil {
		writeSessionsErr(w, err)
		return
	}
	if err := sess.Authorize(req.ClientID); err != nil {
		writeSessionsErr(w, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusOK, failure("empty_text"))
		return
	}

	name := sanitize.Filename(sanitize.NormalizeFilename(textSnippetName(req.Text)))
	if name == "" {
		name = "text_input.txt"
	}

	hr := audit.NewHashingReader(strings.NewReader(req.Text))
	art, err := sess.Artifacts().Put(ctx, name, artifacts.KindText, hr, h.now())
	if err != nil {
		switch {
		case errors.Is(err, artifacts.ErrFileTooLarge):
			writeJSON(w, http.StatusOK, failure("file_too_large"))
		case errors.Is(err, artifacts.ErrStorageFull):
			writeJSON(w, http.StatusOK, failure("quota_exceeded"))
		case errors.Is(err, artifacts.ErrTooManyFiles):
			writeJSON(w, http.StatusOK, failure("too_many_files"))
		default:
			writeJSON(w, http.StatusInternalServerError, failure("internal_error"))
			h.log.ErrorContext(ctx, "http.text_upload.fail", slog.String("err", err.Error()))
		}
		return
	}

	h.audit.Record(ctx, "UPLOAD_TEXT", code, req.ClientID, ip,
		slog.String("filename", art.Name),
		slog.Int64("size", art.SizeBytes),
		slog.String("hash", hr.Sum()))
	h.log.InfoContext(ctx, "http.text_upload.ok", slog.String("filename", art.Name))
	writeJSON(w, http.StatusOK, textUploadResponse{Success: true, Filename: art.Name})
}

type deleteAllResponse struct {
	Success bool `json:"success"`
}

func (h *SyncHandler) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	code, ip := h.admit(w, r)
	if code == "" {
		return
	}
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, failure("invalid_request"))
		return
	}
	clientID := r.FormValue("clientId")
	if !sanitize.ValidClientID(clientID) {
		writeJSON(w, http.StatusBadRequest, failure("invalid_request"))
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{Code: code, ClientID: clientID})

	sess, err := h.sessions.Get(code)
	if err != nil {
		writeSessionsErr(w, err)
		return
	}
	if err := sess.Authorize(clientID); err != nil {
		writeSessionsErr(w, err)
		return
	}

	sess.Artifacts().DeleteAll(ctx)
	h.audit.Record(ctx, "DELETE_ALL", code, clientID, ip)
	h.log.InfoContext(ctx, "http.delete_all.ok")
	writeJSON(w, http.StatusOK, deleteAllResponse{Success: true})
}

func (h *SyncHandler) handleDownload(w http.ResponseWriter, r *http.Request) {
	code, ip := h.admit(w, r)
	if code == "" {
		return
	}
	ctx := r.Context()

	sess, err := h.sessions.Get(code)
	if err != nil {
		writeSessionsErr(w, err)
		return
	}

	clientID := r.URL.Query().Get("clientId")
	if tok := r.URL.Query().Get("token"); tok != "" && h.tokens != nil {
		subject, err := h.tokens.Verify(tok, code)
		if err != nil {
			writeJSON(w, http.StatusForbidden, failure("forbidden"))
			h.log.WarnContext(ctx, "http.download.token.invalid")
			return
		}
		clientID = subject
	} else {
		if !sanitize.ValidClientID(clientID) {
			writeJSON(w, http.StatusBadRequest, failure("invalid_request"))
			return
		}
		if err := sess.Authorize(clientID); err != nil {
			writeSessionsErr(w, err)
			h.log.InfoContext(ctx, "http.download.unauthorized")
			return
		}
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{Code: code, ClientID: clientID})

	name := sanitize.Filename(sanitize.DecodeFilename(r.PathValue("name")))
	if name == "" {
		writeJSON(w, http.StatusNotFound, failure("not_found"))
		return
	}

	art, rc, err := sess.Artifacts().Open(ctx, name, h.now())
	if err != nil {
		writeJSON(w, http.StatusNotFound, failure("not_found"))
		h.log.InfoContext(ctx, "http.download.miss", slog.String("filename", name))
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Name))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", art.SizeBytes))
	if _, err := io.Copy(w, rc); err != nil {
		h.log.WarnContext(ctx, "http.download.copy.fail", slog.String("err", err.Error()))
		return
	}

	h.audit.Record(ctx, "DOWNLOAD", code, clientID, ip, slog.String("filename", art.Name))
	h.log.InfoContext(ctx, "http.download.ok",
		slog.String("filename", art.Name),
		slog.Int64("size", art.SizeBytes))
}
