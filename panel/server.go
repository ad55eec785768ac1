package panel

import "net/http"

// NewServeMux routes the configured paths to h.
func NewServeMux(cfg Config, h *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.PortPath, h.HandlePort)
	mux.HandleFunc(cfg.ViewerPath, h.HandleViewer)
	mux.HandleFunc(cfg.HealthPath, h.HandleHealth)
	return mux
}
