package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/swifthaul/logistics-api/api"
	"github.com/swifthaul/logistics-api/config"
)

// MapToken exported for testing purposes
type MapToken struct{}

// MapTokenHandler mints a short-lived maps-scoped token for the frontend map
// widget, so the long-lived API credential never reaches the map vendor.
func (m MapToken) MapTokenHandler(w http.ResponseWriter, r *http.Request) {
	uid, err := api.ActorUID(r.Context())
	if err != nil {
		config.ErrorStatus("authentication required", http.StatusUnauthorized, w, err)
		return
	}

	token, err := api.SignMapToken(uid)
	if err != nil {
		config.ErrorStatus("failed to sign map token", http.StatusInternalServerError, w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"token":     token,
		"expiresIn": int(api.MapTokenTTL.Seconds()),
	})
}
