package hlsd

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-monitor/internal/platform/paths"
)

var (
	idRegex   = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	fileRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]+\.(m3u8|ts)$`)
)

type Config struct {
	// LiveRoot is the directory holding {camera_id}/manifest.m3u8.
	LiveRoot string
	Keys     KeyProvider
}

// Handler serves the live HLS output the stream supervisor writes.
// The route is public; access control is the HMAC playback token.
type Handler struct {
	cfg Config
}

func NewHandler(cfg Config) *Handler {
	return &Handler{cfg: cfg}
}

func (h *Handler) ServeHLS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Range, Cookie")
	w.Header().Set("Access-Control-Expose-Headers", "Content-Range, Accept-Ranges, Content-Length")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	cameraID := chi.URLParam(r, "camera_id")
	file := chi.URLParam(r, "file")

	if !idRegex.MatchString(cameraID) || !fileRegex.MatchString(file) {
		http.Error(w, "Invalid request parameters", http.StatusBadRequest)
		return
	}

	// Token via query params, with a cookie fallback for players that
	// don't propagate the query string to segment requests.
	err := ValidatePlaybackToken(cameraID, r.URL.Query(), h.cfg.Keys)
	if err == nil {
		if strings.HasSuffix(file, ".m3u8") {
			http.SetCookie(w, &http.Cookie{
				Name:     fmt.Sprintf("hls_token_%s", cameraID),
				Value:    r.URL.RawQuery,
				Path:     fmt.Sprintf("/hls/%s/", cameraID),
				HttpOnly: true,
				SameSite: http.SameSiteStrictMode,
			})
		}
	} else {
		cookie, cookieErr := r.Cookie(fmt.Sprintf("hls_token_%s", cameraID))
		if cookieErr != nil {
			http.Error(w, "Unauthorized (Missing Token)", http.StatusUnauthorized)
			return
		}
		q, _ := url.ParseQuery(cookie.Value)
		if err := ValidatePlaybackToken(cameraID, q, h.cfg.Keys); err != nil {
			http.Error(w, "Unauthorized (Invalid Cookie Token)", http.StatusUnauthorized)
			return
		}
	}

	targetPath, err := paths.SafeJoin(h.cfg.LiveRoot, cameraID, file)
	if err != nil {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	if strings.HasSuffix(file, ".m3u8") {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	} else {
		w.Header().Set("Content-Type", "video/mp2t")
		w.Header().Set("Cache-Control", "private, max-age=60")
	}

	http.ServeFile(w, r, targetPath)
}

func (h *Handler) Register(r chi.Router) {
	r.HandleFunc("/hls/{camera_id}/{file}", h.ServeHLS)
}
