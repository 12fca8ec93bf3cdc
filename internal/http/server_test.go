package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"finman/internal/core"
	"finman/internal/services"
	"finman/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.SQLiteRepository) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "finman.db"))
	if err != nil {
		t.Fatalf("open test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	srv := NewServer(":0", repo, services.NewLedgerService(repo, nil))
	t.Cleanup(func() { srv.rateLimiter.stop() })
	return srv, repo
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func seed(t *testing.T, repo *storage.SQLiteRepository, amounts ...string) int64 {
	t.Helper()
	cat, err := repo.CreateCategory(context.Background(), "Groceries", "")
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	for i, a := range amounts {
		_, err := repo.CreateDeposit(context.Background(), core.NewDeposit{
			CategoryID: cat.ID,
			Name:       "deposit-" + a,
			Amount:     decimal.RequireFromString(a),
		})
		if err != nil {
			t.Fatalf("seed deposit %d: %v", i, err)
		}
	}
	return cat.ID
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCategoryLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/categories", map[string]string{
		"name": "Rent", "description": "housing",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body %s", rec.Code, rec.Body)
	}
	var created struct {
		ID int64 `json:"id"`
	}
	decodeBody(t, rec, &created)

	// Duplicate names are refused.
	rec = doJSON(t, srv, http.MethodPost, "/api/categories", map[string]string{"name": "Rent"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/categories", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list []struct {
		Name        string `json:"name"`
		TotalAmount string `json:"total_amount"`
		ItemsCount  int    `json:"items_count"`
	}
	decodeBody(t, rec, &list)
	if len(list) != 1 || list[0].TotalAmount != "0.00" {
		t.Fatalf("unexpected list: %+v", list)
	}

	rec = doJSON(t, srv, http.MethodDelete, "/api/categories/"+itoa(created.ID), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, "/api/categories/"+itoa(created.ID), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rec.Code)
	}
}

func TestCreateDepositAppliesCreationRule(t *testing.T) {
	srv, repo := newTestServer(t)
	catID := seed(t, repo)

	rec := doJSON(t, srv, http.MethodPost, "/api/categories/"+itoa(catID)+"/deposits", map[string]string{
		"name": "salary", "amount": "100.00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body %s", rec.Code, rec.Body)
	}
	var dep struct {
		RemainingBalance string `json:"remaining_balance"`
	}
	decodeBody(t, rec, &dep)
	if dep.RemainingBalance != "100.00" {
		t.Fatalf("implicit balance = %s", dep.RemainingBalance)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/categories/"+itoa(catID)+"/deposits", map[string]string{
		"name": "partial", "amount": "100.00", "remaining_balance": "40.00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body %s", rec.Code, rec.Body)
	}
	decodeBody(t, rec, &dep)
	if dep.RemainingBalance != "40.00" {
		t.Fatalf("explicit balance = %s", dep.RemainingBalance)
	}
}

func TestCreateDepositRejectsInvalidInput(t *testing.T) {
	srv, repo := newTestServer(t)
	catID := seed(t, repo, "10.00")

	// Out-of-range explicit balance is the client's mistake, not a
	// storage failure.
	rec := doJSON(t, srv, http.MethodPost, "/api/categories/"+itoa(catID)+"/deposits", map[string]string{
		"name": "broken", "amount": "100.00", "remaining_balance": "150.00",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["error"] != "invalid_input" {
		t.Fatalf("error = %q, want invalid_input", body["error"])
	}

	rec = doJSON(t, srv, http.MethodPatch, "/api/deposits/1", map[string]string{
		"name": strings.Repeat("x", 201),
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("overlong name status = %d body %s", rec.Code, rec.Body)
	}
}

func TestWithdrawWireShape(t *testing.T) {
	srv, repo := newTestServer(t)
	catID := seed(t, repo, "30.00", "20.00", "50.00")

	rec := doJSON(t, srv, http.MethodPost, "/api/categories/"+itoa(catID)+"/withdraw", map[string]string{
		"amount": "40.00",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}

	var res struct {
		WithdrawnAmount string `json:"withdrawn_amount"`
		PreviousTotal   string `json:"previous_total"`
		NewTotal        string `json:"new_total"`
		ItemsAffected   []struct {
			ItemID           int64  `json:"item_id"`
			Deducted         string `json:"deducted"`
			RemainingBalance string `json:"remaining_balance"`
		} `json:"items_affected"`
	}
	decodeBody(t, rec, &res)

	if res.WithdrawnAmount != "40.00" || res.PreviousTotal != "100.00" || res.NewTotal != "60.00" {
		t.Fatalf("totals wrong: %+v", res)
	}
	if len(res.ItemsAffected) != 2 {
		t.Fatalf("expected 2 items affected, got %d", len(res.ItemsAffected))
	}
	if res.ItemsAffected[0].Deducted != "30.00" || res.ItemsAffected[0].RemainingBalance != "0.00" {
		t.Fatalf("first item wrong: %+v", res.ItemsAffected[0])
	}
	if res.ItemsAffected[1].Deducted != "10.00" || res.ItemsAffected[1].RemainingBalance != "10.00" {
		t.Fatalf("second item wrong: %+v", res.ItemsAffected[1])
	}
}

func TestWithdrawFailures(t *testing.T) {
	srv, repo := newTestServer(t)
	catID := seed(t, repo, "50.00")

	t.Run("insufficient funds", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/categories/"+itoa(catID)+"/withdraw", map[string]string{
			"amount": "60.00",
		})
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d body %s", rec.Code, rec.Body)
		}
		var body map[string]string
		decodeBody(t, rec, &body)
		if body["error"] != "insufficient_funds" || body["available"] != "50.00" || body["requested"] != "60.00" {
			t.Fatalf("body wrong: %v", body)
		}

		// Refusal is a no-op.
		total, _ := repo.CategoryTotal(context.Background(), catID)
		if total.StringFixed(2) != "50.00" {
			t.Fatalf("refused withdrawal mutated state: %s", total)
		}
	})

	t.Run("invalid amount", func(t *testing.T) {
		for _, a := range []string{"0", "-5", "abc", ""} {
			rec := doJSON(t, srv, http.MethodPost, "/api/categories/"+itoa(catID)+"/withdraw", map[string]string{
				"amount": a,
			})
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("amount %q: status = %d", a, rec.Code)
			}
		}
	})

	t.Run("unknown category", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/categories/99999/withdraw", map[string]string{
			"amount": "1.00",
		})
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/categories/"+itoa(catID)+"/withdraw", bytes.NewBufferString("{nope"))
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}

func TestDepositMetadataPatch(t *testing.T) {
	srv, repo := newTestServer(t)
	catID := seed(t, repo, "25.00")
	deposits, _ := repo.ListDeposits(context.Background(), catID)

	rec := doJSON(t, srv, http.MethodPatch, "/api/deposits/"+itoa(deposits[0].ID), map[string]string{
		"name": "renamed", "description": "edited",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	var dep struct {
		Name             string `json:"name"`
		RemainingBalance string `json:"remaining_balance"`
	}
	decodeBody(t, rec, &dep)
	if dep.Name != "renamed" || dep.RemainingBalance != "25.00" {
		t.Fatalf("metadata patch wrong: %+v", dep)
	}
}

func TestTotalAssetsEndpoint(t *testing.T) {
	srv, repo := newTestServer(t)
	seed(t, repo, "10.00", "5.25")

	rec := doJSON(t, srv, http.MethodGet, "/api/total-assets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["total_assets"] != "15.25" {
		t.Fatalf("total_assets = %s", body["total_assets"])
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
