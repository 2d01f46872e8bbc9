package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/domain/model"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain error kinds to HTTP statuses.
func statusFor(err error) int {
	switch domain.Kind(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotAuthorized:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := http.StatusText(status)
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		msg = ve.Error()
	}
	if status >= 500 {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("admin api request failed")
	}
	writeError(w, status, msg)
}

func unwired(w http.ResponseWriter) {
	writeError(w, http.StatusNotImplemented, "not available")
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		unwired(w)
		return
	}
	st, err := s.stats.Totals(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ActiveUsers  int `json:"active_users"`
		UnsoldStock  int `json:"unsold_stock"`
		SoldAccounts int `json:"sold_accounts"`
		ExpiringSoon int `json:"expiring_within_3d"`
	}{st.ActiveUsers, st.UnsoldStock, st.SoldAccounts, st.ExpiringSoon})
}

type userDTO struct {
	ID          int64     `json:"id"`
	DisplayName string    `json:"display_name"`
	ExpiresAt   time.Time `json:"expires_at"`
	Active      bool      `json:"active"`
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	if s.ent == nil {
		unwired(w)
		return
	}
	users, err := s.ent.ListAuthorized(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]userDTO, 0, len(users))
	for _, u := range users {
		out = append(out, userDTO{ID: u.User.ID, DisplayName: u.User.DisplayName, ExpiresAt: u.User.ExpiresAt, Active: u.Active})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out, "total": len(out)})
}

// Listings never include credential secrets.
type stockDTO struct {
	ID        int64     `json:"id"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) listStock(w http.ResponseWriter, r *http.Request) {
	if s.inv == nil {
		unwired(w)
		return
	}
	items, err := s.inv.ListUnsold(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]stockDTO, 0, len(items))
	for _, it := range items {
		out = append(out, stockDTO{ID: it.ID, Address: it.Address, CreatedAt: it.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out, "total": len(out)})
}

type soldDTO struct {
	ID        int64     `json:"id"`
	Address   string    `json:"address"`
	BuyerID   int64     `json:"buyer_id"`
	ExpiresAt time.Time `json:"expires_at"`
	SoldAt    time.Time `json:"sold_at"`
}

func (s *Server) listSold(w http.ResponseWriter, r *http.Request) {
	if s.inv == nil {
		unwired(w)
		return
	}
	ctx := r.Context()
	var (
		accs []*model.SoldAccount
		err  error
	)
	if q := r.URL.Query().Get("buyer"); q != "" {
		buyer, perr := strconv.ParseInt(q, 10, 64)
		if perr != nil {
			s.fail(w, r, domain.Invalid("buyer", "must be a number"))
			return
		}
		accs, err = s.inv.ListSoldByBuyer(ctx, buyer)
	} else {
		accs, err = s.inv.ListSold(ctx)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]soldDTO, 0, len(accs))
	for _, a := range accs {
		out = append(out, soldDTO{ID: a.ID, Address: a.Address, BuyerID: a.BuyerID, ExpiresAt: a.ExpiresAt, SoldAt: a.SoldAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out, "total": len(out)})
}

type keyRequest struct {
	Months int `json:"months"`
}

func (s *Server) generateKey(w http.ResponseWriter, r *http.Request) {
	if s.ent == nil {
		unwired(w)
		return
	}
	var req keyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	k, err := s.ent.GenerateKey(r.Context(), req.Months)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"key": k.KeyText, "duration_months": k.DurationMonths})
}

func (s *Server) runMaintenance(w http.ResponseWriter, r *http.Request) {
	if s.maint == nil {
		unwired(w)
		return
	}
	rep, err := s.maint.RunCycle(r.Context())
	if rep == nil {
		s.fail(w, r, err)
		return
	}
	body := map[string]any{
		"started_at":     rep.StartedAt,
		"reminders_sent": rep.RemindersSent,
		"swept":          len(rep.Swept),
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("maintenance cycle finished with errors")
		body["error"] = "some steps failed"
	}
	writeJSON(w, http.StatusOK, body)
}
