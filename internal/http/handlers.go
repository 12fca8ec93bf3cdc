package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"finman/internal/core"
)

type categoryPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type categoryResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type categorySummaryResponse struct {
	categoryResponse
	TotalAmount string `json:"total_amount"`
	ItemsCount  int    `json:"items_count"`
}

type depositPayload struct {
	Name             string `json:"name"`
	Amount           string `json:"amount"`
	RemainingBalance string `json:"remaining_balance,omitempty"`
	Description      string `json:"description"`
}

type depositResponse struct {
	ID               int64  `json:"id"`
	CategoryID       int64  `json:"category_id"`
	Name             string `json:"name"`
	OriginalAmount   string `json:"original_amount"`
	RemainingBalance string `json:"remaining_balance"`
	Description      string `json:"description"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

type withdrawPayload struct {
	Amount string `json:"amount"`
}

type itemAffected struct {
	ItemID           int64  `json:"item_id"`
	Name             string `json:"name"`
	Deducted         string `json:"deducted"`
	RemainingBalance string `json:"remaining_balance"`
}

type withdrawalResponse struct {
	WithdrawnAmount string         `json:"withdrawn_amount"`
	PreviousTotal   string         `json:"previous_total"`
	NewTotal        string         `json:"new_total"`
	ItemsAffected   []itemAffected `json:"items_affected"`
}

func categoryToResponse(c *core.Category) categoryResponse {
	return categoryResponse{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		CreatedAt:   c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func depositToResponse(d *core.DepositRecord) depositResponse {
	return depositResponse{
		ID:               d.ID,
		CategoryID:       d.CategoryID,
		Name:             d.Name,
		OriginalAmount:   core.FormatAmount(d.OriginalAmount),
		RemainingBalance: core.FormatAmount(d.RemainingBalance),
		Description:      d.Description,
		CreatedAt:        d.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        d.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// === Categories ===

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var p categoryPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeBadRequest(w, "malformed_body")
		return
	}

	cat, err := s.repo.CreateCategory(r.Context(), p.Name, p.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, categoryToResponse(cat))
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.repo.ListCategories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]categorySummaryResponse, 0, len(summaries))
	for i := range summaries {
		sm := &summaries[i]
		out = append(out, categorySummaryResponse{
			categoryResponse: categoryToResponse(&sm.Category),
			TotalAmount:      core.FormatAmount(sm.TotalAmount),
			ItemsCount:       sm.ItemCount,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, core.ErrNotFound)
		return
	}

	cat, err := s.repo.GetCategory(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	total, err := s.repo.CategoryTotal(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		categoryResponse
		TotalAmount string `json:"total_amount"`
	}{categoryToResponse(cat), core.FormatAmount(total)})
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, core.ErrNotFound)
		return
	}

	var p categoryPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeBadRequest(w, "malformed_body")
		return
	}

	cat, err := s.repo.UpdateCategory(r.Context(), id, p.Name, p.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categoryToResponse(cat))
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, core.ErrNotFound)
		return
	}
	if err := s.repo.DeleteCategory(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// === Deposits ===

func (s *Server) handleCreateDeposit(w http.ResponseWriter, r *http.Request) {
	categoryID, ok := pathID(r)
	if !ok {
		writeError(w, r, core.ErrNotFound)
		return
	}

	var p depositPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeBadRequest(w, "malformed_body")
		return
	}

	amount, err := core.ParseAmount(p.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	nd := core.NewDeposit{
		CategoryID:  categoryID,
		Name:        p.Name,
		Amount:      amount,
		Description: p.Description,
	}
	if p.RemainingBalance != "" {
		balance, err := core.ParseBalance(p.RemainingBalance)
		if err != nil {
			writeError(w, r, err)
			return
		}
		nd.Remaining = &balance
	}

	dep, err := s.repo.CreateDeposit(r.Context(), nd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, depositToResponse(dep))
}

func (s *Server) handleListDeposits(w http.ResponseWriter, r *http.Request) {
	categoryID, ok := pathID(r)
	if !ok {
		writeError(w, r, core.ErrNotFound)
		return
	}
	if _, err := s.repo.GetCategory(r.Context(), categoryID); err != nil {
		writeError(w, r, err)
		return
	}

	deposits, err := s.repo.ListDeposits(r.Context(), categoryID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]depositResponse, 0, len(deposits))
	for i := range deposits {
		out = append(out, depositToResponse(&deposits[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, core.ErrNotFound)
		return
	}
	dep, err := s.repo.GetDeposit(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, depositToResponse(dep))
}

// handleUpdateDeposit edits deposit metadata. Amounts are not accepted
// here: balances change only through withdrawals.
func (s *Server) handleUpdateDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, core.ErrNotFound)
		return
	}

	var p struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeBadRequest(w, "malformed_body")
		return
	}

	dep, err := s.repo.UpdateDepositMetadata(r.Context(), id, p.Name, p.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, depositToResponse(dep))
}

func (s *Server) handleDeleteDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, core.ErrNotFound)
		return
	}
	if err := s.repo.DeleteDeposit(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// === Withdrawals & totals ===

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	categoryID, ok := pathID(r)
	if !ok {
		writeError(w, r, core.ErrNotFound)
		return
	}

	var p withdrawPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeBadRequest(w, "malformed_body")
		return
	}

	amount, err := core.ParseAmount(p.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.ledger.Withdraw(r.Context(), categoryID, amount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]itemAffected, 0, len(res.Deductions))
	for _, d := range res.Deductions {
		items = append(items, itemAffected{
			ItemID:           d.DepositID,
			Name:             d.Name,
			Deducted:         core.FormatAmount(d.Amount),
			RemainingBalance: core.FormatAmount(d.RemainingBalance),
		})
	}

	writeJSON(w, http.StatusOK, withdrawalResponse{
		WithdrawnAmount: core.FormatAmount(res.Requested),
		PreviousTotal:   core.FormatAmount(res.PreviousTotal),
		NewTotal:        core.FormatAmount(res.NewTotal),
		ItemsAffected:   items,
	})
}

func (s *Server) handleTotalAssets(w http.ResponseWriter, r *http.Request) {
	total, err := s.ledger.TotalAssets(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"total_assets": core.FormatAmount(total)})
}
