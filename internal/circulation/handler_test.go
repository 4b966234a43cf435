// internal/circulation/handler_test.go
package circulation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracore/internal/catalog"
)

func newTestRouter(t *testing.T) (*fixture, http.Handler) {
	t.Helper()
	f := newFixture(t, "alice", "bob")
	r := chi.NewRouter()
	NewHandler(f.svc).Routes(r)
	return f, r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCirculation(t *testing.T) {
	f, h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/resources",
		`{"id":"dune","kind":"book","title":"Dune","attributes":{"author":"Frank Herbert"},"copies":[14]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var view ResourceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "Frank Herbert", view.Entry.Attr(catalog.AttrAuthor))
	assert.Len(t, view.Copies, 1)

	rec = do(t, h, http.MethodPost, "/loans", `{"username":"alice","copy":"dune-0"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/loans", `{"username":"bob","copy":"dune-0"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/requests", `{"username":"bob","resource_id":"dune"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var receipt RequestReceipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	require.NotNil(t, receipt.ReturnRequest)
	assert.Equal(t, "alice", receipt.ReturnRequest.Borrower)

	f.clock.Set(receipt.ReturnRequest.DueDate.Add(25 * time.Hour))
	rec = do(t, h, http.MethodGet, "/overdue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["dune-0"]`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/members/alice/overdue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["dune-0"]`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/returns", `{"username":"alice","copy":"dune-0"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ret ReturnReceipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ret))
	assert.Equal(t, 2, ret.Fine)
	require.NotNil(t, ret.Reservation)
	assert.Equal(t, "bob", ret.Reservation.User)

	rec = do(t, h, http.MethodPost, "/members/alice/payments", `{"amount":5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPost, "/members/alice/payments", `{"amount":2}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodDelete, "/requests", `{"username":"bob","resource_id":"dune"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/resources/dune", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.Available)
	assert.Empty(t, view.Queue)

	rec = do(t, h, http.MethodGet, "/resources/dune/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	assert.Equal(t, []string{
		EventCopyLoaned, EventReturnRequested, EventCopyReturned, EventFineApplied,
		EventCopyReserved, EventRequestCanceled,
	}, types)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/resources/nope/events", "").Code)
}

func TestHandlerResources(t *testing.T) {
	_, h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/resources", `{"id":"lap","kind":"laptop","title":"ThinkPad","copies":[3]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodPost, "/resources/lap/copies", `{"loan_duration":3}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"copy":"lap-1"}`, rec.Body.String())

	rec = do(t, h, http.MethodPatch, "/resources/lap", `{"year":"2023"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodDelete, "/resources/lap/copies/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, "/resources/lap/copies/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/resources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []ResourceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "2023", views[0].Entry.Year)
	assert.Len(t, views[0].Copies, 1)

	rec = do(t, h, http.MethodGet, "/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"next_copy_id":2`)
}

func TestHandlerSearchAndRemove(t *testing.T) {
	_, h := newTestRouter(t)
	for _, body := range []string{
		`{"id":"dune","kind":"book","title":"Dune","copies":[14]}`,
		`{"id":"dune-film","kind":"dvd","title":"Dune","copies":[7]}`,
		`{"id":"portal","kind":"videogame","title":"Portal","copies":[7]}`,
	} {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/resources", body).Code)
	}

	search := func(query string) []string {
		rec := do(t, h, http.MethodGet, "/resources?"+query, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var views []ResourceView
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
		ids := make([]string, 0, len(views))
		for _, v := range views {
			ids = append(ids, v.Entry.ID)
		}
		return ids
	}
	assert.Equal(t, []string{"dune", "dune-film"}, search("q=dune"))
	assert.Equal(t, []string{"dune-film", "portal"}, search("kind=dvd&kind=videogame"))
	assert.Equal(t, []string{"dune"}, search("q=dune&limit=1"))

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/resources?kind=scroll", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/resources?limit=-2", "").Code)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/resources/portal", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/resources/portal", "").Code)
	assert.Equal(t, []string{"dune", "dune-film"}, search("q="))
}

func TestHandlerErrors(t *testing.T) {
	_, h := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"malformed body", http.MethodPost, "/loans", `{`, http.StatusBadRequest},
		{"bad copy ref", http.MethodPost, "/loans", `{"username":"alice","copy":"nodash"}`, http.StatusBadRequest},
		{"unknown resource", http.MethodGet, "/resources/nope", "", http.StatusNotFound},
		{"unknown kind", http.MethodPost, "/resources", `{"kind":"scroll","title":"x"}`, http.StatusBadRequest},
		{"unknown member", http.MethodGet, "/members/ghost/overdue", "", http.StatusNotFound},
		{"return not borrowed", http.MethodPost, "/returns", `{"username":"alice","copy":"x-0"}`, http.StatusConflict},
		{"cancel nothing", http.MethodDelete, "/requests", `{"username":"alice","resource_id":"x"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}
