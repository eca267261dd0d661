package main

import (
	"net/http"
	"strconv"

	"github.com/tradesight/portal/internal/audit"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// parsePage reads page/limit query parameters with clamped defaults.
func parsePage(r *http.Request) (page, limit int) {
	page = 1
	limit = defaultPageLimit

	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

// paginate computes page metadata. totalPages is a ceiling division and the
// page is clamped into [1, totalPages] so a stale deep link returns the last
// page instead of an empty one.
func paginate(total, page, limit int) Pagination {
	totalPages := (total + limit - 1) / limit
	if totalPages < 1 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	return Pagination{
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}
}

// AdminListSubscriptions returns one page of subscriptions filtered by
// search text, status and plan.
func (h *Handler) AdminListSubscriptions(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePage(r)
	q := r.URL.Query()

	filter := SubscriptionFilter{
		Search: q.Get("search"),
		Status: q.Get("status"),
		Plan:   q.Get("plan"),
		Page:   page,
		Limit:  limit,
	}

	// The clamp needs the total, so count first with page 1, then re-read the
	// clamped page if it moved.
	rows, total, err := h.store.ListSubscriptions(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list subscriptions", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to list subscriptions")
		return
	}

	pagination := paginate(total, page, limit)
	if pagination.Page != page {
		filter.Page = pagination.Page
		rows, _, err = h.store.ListSubscriptions(r.Context(), filter)
		if err != nil {
			h.logger.Error("Failed to list subscriptions", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to list subscriptions")
			return
		}
	}

	if rows == nil {
		rows = []SubscriptionRow{}
	}
	respondJSON(w, http.StatusOK, SubscriptionListResponse{Subscriptions: rows, Pagination: pagination})
}

// AdminListCompanies returns one page of companies filtered by search text.
func (h *Handler) AdminListCompanies(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePage(r)

	filter := CompanyFilter{
		Search: r.URL.Query().Get("search"),
		Page:   page,
		Limit:  limit,
	}

	companies, total, err := h.store.ListCompanies(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list companies", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to list companies")
		return
	}

	pagination := paginate(total, page, limit)
	if pagination.Page != page {
		filter.Page = pagination.Page
		companies, _, err = h.store.ListCompanies(r.Context(), filter)
		if err != nil {
			h.logger.Error("Failed to list companies", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to list companies")
			return
		}
	}

	if companies == nil {
		companies = []Company{}
	}
	respondJSON(w, http.StatusOK, CompanyListResponse{Companies: companies, Pagination: pagination})
}

// AdminListAuditLogs returns one page of audit entries filtered by event
// type.
func (h *Handler) AdminListAuditLogs(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePage(r)

	filter := AuditFilter{
		EventType: r.URL.Query().Get("event_type"),
		Page:      page,
		Limit:     limit,
	}

	entries, total, err := h.store.ListAuditLogs(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list audit logs", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to list audit logs")
		return
	}

	pagination := paginate(total, page, limit)
	if pagination.Page != page {
		filter.Page = pagination.Page
		entries, _, err = h.store.ListAuditLogs(r.Context(), filter)
		if err != nil {
			h.logger.Error("Failed to list audit logs", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to list audit logs")
			return
		}
	}

	if entries == nil {
		entries = []audit.Entry{}
	}
	respondJSON(w, http.StatusOK, AuditLogListResponse{AuditLogs: entries, Pagination: pagination})
}
