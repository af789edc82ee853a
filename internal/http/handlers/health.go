package handlers

import "net/http"

type healthResponse struct {
	Status      string   `json:"status"`
	ActiveJobs  int      `json:"activeJobs"`
	Broadcaster string   `json:"broadcaster"`
	Strategies  []string `json:"strategies"`
}

func (api *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		ActiveJobs:  api.conversions.ActiveJobs(),
		Broadcaster: api.conversions.BroadcastMode(),
		Strategies:  api.conversions.Strategies(),
	})
}
