package channel

import (
	"encoding/json"
	"io"
	"net/http"

	"mediinterpret/internal/config"
)

// handleGetConfig returns the current config with secrets masked.
func (w *Web) handleGetConfig(rw http.ResponseWriter, r *http.Request) {
	w.cfgMu.RLock()
	defer w.cfgMu.RUnlock()

	if w.cfg == nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "config not loaded"})
		return
	}
	writeJSON(rw, http.StatusOK, config.Sanitize(w.cfg))
}

// handleUpdateConfig sets one value by dot path, e.g.
// {"path": "channels.telegram.editIntervalMs", "value": 800}, validates the
// result and saves it when the server was started from a config file.
// Changes apply on the next restart.
func (w *Web) handleUpdateConfig(rw http.ResponseWriter, r *http.Request) {
	w.cfgMu.Lock()
	defer w.cfgMu.Unlock()

	if w.cfg == nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": "config not loaded"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "read body: " + err.Error()})
		return
	}
	defer r.Body.Close()

	var req struct {
		Path  string `json:"path"`
		Value any    `json:"value"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Path == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "expected {\"path\": ..., \"value\": ...}"})
		return
	}

	// Apply to a copy so a failed validation leaves the live config intact.
	candidate, err := config.Clone(w.cfg)
	if err != nil {
		w.writeError(rw, err)
		return
	}
	if err := config.SetByPath(candidate, req.Path, req.Value); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := config.Validate(candidate); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "validation: " + err.Error()})
		return
	}
	*w.cfg = *candidate

	status := "updated"
	if w.cfgPath != "" {
		if err := config.Save(w.cfgPath, w.cfg); err != nil {
			writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": "save failed: " + err.Error()})
			return
		}
		status = "saved"
	}

	w.logger.Info("config updated via web", "path", req.Path)
	writeJSON(rw, http.StatusOK, map[string]string{"status": status, "path": req.Path, "note": "restart to apply"})
}
