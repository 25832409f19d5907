package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shipsplit/shipsplit/internal/experiment"
	"github.com/shipsplit/shipsplit/internal/session"
	"github.com/shipsplit/shipsplit/internal/store"
)

type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}

// AssignRequest is what storefront edge code posts to bucket a visitor.
type AssignRequest struct {
	TenantID   string            `json:"tenant_id"`
	TestID     string            `json:"test_id"`
	VisitorID  string            `json:"visitor_id"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Bot        bool              `json:"bot,omitempty"`
	Internal   bool              `json:"internal,omitempty"`
}

type AssignResponse struct {
	VisitorID string `json:"visitor_id"`
	Assigned  bool   `json:"assigned"`
	VariantID string `json:"variant_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	FailOpen  bool   `json:"fail_open,omitempty"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "POST")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.TestID == "" {
		http.Error(w, "test_id required", http.StatusBadRequest)
		return
	}

	visitorID := session.ResolveVisitorID(req.VisitorID)
	res, err := s.engine.AssignVisitor(r.Context(), req.TestID, experiment.VisitorContext{
		VisitorID:  visitorID,
		TenantID:   req.TenantID,
		Attributes: req.Attributes,
		Bot:        req.Bot,
		Internal:   req.Internal,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Test not found", http.StatusNotFound)
			return
		}
		s.logger.Error("assignment failed", "test", req.TestID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := AssignResponse{VisitorID: visitorID, Assigned: res.Assigned, Reason: res.Reason}
	if res.Assigned {
		resp.VariantID = res.Assignment.VariantID
		resp.FailOpen = res.Assignment.FailOpen
	}
	writeJSON(w, http.StatusOK, resp)
}

// BeaconRequest is the compact wire form storefront snippets post.
type BeaconRequest struct {
	TenantID  string  `json:"tid"`
	TestID    string  `json:"t"`
	VisitorID string  `json:"vid"`
	EventType string  `json:"e"`
	Value     float64 `json:"val,omitempty"`
	DedupKey  string  `json:"dk,omitempty"`
}

func (s *Server) handleBeacon(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "POST")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BeaconRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.TestID == "" || req.VisitorID == "" {
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	err := s.engine.TrackEvent(r.Context(), experiment.Event{
		TenantID:   req.TenantID,
		TestID:     req.TestID,
		VisitorID:  req.VisitorID,
		Type:       experiment.EventType(req.EventType),
		Value:      req.Value,
		DedupKey:   req.DedupKey,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		http.Error(w, "Invalid event", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type ShippingRatesRequest struct {
	TestID    string   `json:"test_id"`
	VisitorID string   `json:"visitor_id"`
	Rates     []string `json:"rates"`
}

type ShippingRatesResponse struct {
	Hide []string `json:"hide"`
}

func (s *Server) handleShippingRates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ShippingRatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.TestID == "" || req.VisitorID == "" {
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	hide, err := s.engine.RatesToHide(r.Context(), req.TestID, req.VisitorID, req.Rates)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Test not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if hide == nil {
		hide = []string{}
	}
	writeJSON(w, http.StatusOK, ShippingRatesResponse{Hide: hide})
}

type TestSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	Variants int    `json:"variants"`
}

func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := r.URL.Query().Get("tenant")
	tests, err := s.store.ListTests(r.Context(), tenantID)
	if err != nil {
		s.logger.Error("list tests failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	summaries := make([]TestSummary, 0, len(tests))
	for _, t := range tests {
		summaries = append(summaries, TestSummary{
			ID:       t.ID,
			Name:     t.Name,
			Type:     string(t.Type),
			Status:   string(t.Status),
			Variants: len(t.Variants),
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

type VariantResult struct {
	VariantID      string  `json:"variant_id"`
	Label          string  `json:"label,omitempty"`
	Control        bool    `json:"control"`
	Exposures      int     `json:"exposures"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
	RateLower      float64 `json:"rate_lower"`
	RateUpper      float64 `json:"rate_upper"`
	Revenue        float64 `json:"revenue"`
}

type ComparisonResult struct {
	VariantID   string  `json:"variant_id"`
	Estimate    float64 `json:"estimate"`
	Lower       float64 `json:"lower"`
	Upper       float64 `json:"upper"`
	Significant bool    `json:"significant"`
	PValue      float64 `json:"p_value"`
	Approximate bool    `json:"p_value_approximate"`
}

type AlertResult struct {
	Metric         string `json:"metric"`
	Severity       string `json:"severity"`
	Message        string `json:"message"`
	Recommendation string `json:"recommendation,omitempty"`
}

type ResultsResponse struct {
	TestID      string             `json:"test_id"`
	Name        string             `json:"name"`
	Status      string             `json:"status"`
	Variants    []VariantResult    `json:"variants"`
	Comparisons []ComparisonResult `json:"comparisons"`
	Alerts      []AlertResult      `json:"alerts"`
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	testID := r.URL.Query().Get("test")
	if testID == "" {
		http.Error(w, "test parameter required", http.StatusBadRequest)
		return
	}

	results, err := s.engine.GetTestResults(r.Context(), testID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Test not found", http.StatusNotFound)
			return
		}
		s.logger.Error("results failed", "test", testID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := ResultsResponse{
		TestID:      results.Test.ID,
		Name:        results.Test.Name,
		Status:      string(results.Test.Status),
		Variants:    make([]VariantResult, 0, len(results.Variants)),
		Comparisons: make([]ComparisonResult, 0, len(results.Comparisons)),
		Alerts:      make([]AlertResult, 0, len(results.Alerts)),
	}
	for _, v := range results.Variants {
		resp.Variants = append(resp.Variants, VariantResult{
			VariantID:      v.VariantID,
			Label:          v.Label,
			Control:        v.Control,
			Exposures:      v.Exposures,
			Conversions:    v.Conversions,
			ConversionRate: v.ConversionRate,
			RateLower:      v.RateLower,
			RateUpper:      v.RateUpper,
			Revenue:        v.Revenue,
		})
	}
	for _, c := range results.Comparisons {
		resp.Comparisons = append(resp.Comparisons, ComparisonResult{
			VariantID:   c.VariantID,
			Estimate:    c.Difference.Estimate,
			Lower:       c.Difference.Lower,
			Upper:       c.Difference.Upper,
			Significant: c.Significant,
			PValue:      c.PValue.Value,
			Approximate: c.PValue.Approximate,
		})
	}
	for _, a := range results.Alerts {
		resp.Alerts = append(resp.Alerts, AlertResult{
			Metric:         a.Metric,
			Severity:       string(a.Severity),
			Message:        a.Message,
			Recommendation: a.Recommendation,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func setCORS(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods+", OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
