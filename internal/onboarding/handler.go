package onboarding

import (
	"net/http"
	"strings"

	"github.com/noah-isme/backend-paybridge/internal/common"
)

// Handler exposes connection URL generation over HTTP.
type Handler struct {
	Gen *Generator
}

// ConnectURL returns a sign-up URL for the acting user. An empty generator
// result maps to 503 so callers retry later.
func (h *Handler) ConnectURL(w http.ResponseWriter, r *http.Request) {
	if h.Gen == nil {
		common.JSONError(w, http.StatusInternalServerError, "NOT_CONFIGURED", "onboarding unavailable", nil)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		common.JSONError(w, http.StatusBadRequest, "USER_REQUIRED", "user_id is required", nil)
		return
	}
	var products []string
	if raw := strings.TrimSpace(r.URL.Query().Get("products")); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				products = append(products, p)
			}
		}
	}
	link := h.Gen.Generate(r.Context(), userID, products)
	if link == "" {
		common.JSONError(w, http.StatusServiceUnavailable, "URL_UNAVAILABLE", "connection URL temporarily unavailable", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]string{"url": link})
}
