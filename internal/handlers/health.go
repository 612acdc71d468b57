package handlers

import "net/http"

// Health handles GET /healthz. It reports liveness and whether the caller
// supplied an upstream credential, which flips the mirror host selection.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":               "ok",
		"credential_forwarded": credential(r) != "",
	})
}
