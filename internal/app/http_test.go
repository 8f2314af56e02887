package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clinchem/api/internal/metrics"
)

type apiClient struct {
	t       *testing.T
	handler http.Handler
	svc     *Service
}

func newAPIClient(t *testing.T) *apiClient {
	t.Helper()
	svc, _ := newTestService(t)
	return &apiClient{t: t, handler: NewHTTPServer(svc, "*", nil).Handler(), svc: svc}
}

func (c *apiClient) token(principal Principal) string {
	c.t.Helper()
	token, err := c.svc.IssueToken(principal, time.Hour)
	if err != nil {
		c.t.Fatalf("issue token: %v", err)
	}
	return token
}

func (c *apiClient) do(method, path string, principal *Principal, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if principal != nil {
		req.Header.Set("Authorization", "Bearer "+c.token(*principal))
	}
	rr := httptest.NewRecorder()
	c.handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
}

func TestHTTPCommentLifecycle(t *testing.T) {
	c := newAPIClient(t)

	rr := c.do(http.MethodPost, "/api/articles/"+testArticle+"/comments", &alice, map[string]string{"content": "Sodium reference range?"})
	expectStatus(t, rr, http.StatusCreated)
	root := decodeJSON[CommentView](t, rr)

	rr = c.do(http.MethodPost, "/api/comments/"+root.ID+"/replies", &bob, map[string]string{"content": "135-145 mmol/L"})
	expectStatus(t, rr, http.StatusCreated)
	reply := decodeJSON[CommentView](t, rr)
	if reply.ParentID == nil || *reply.ParentID != root.ID || reply.Depth != 1 {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	for _, voter := range []Principal{alice, carol} {
		rr = c.do(http.MethodPost, "/api/comments/"+reply.ID+"/upvote", &voter, nil)
		expectStatus(t, rr, http.StatusOK)
	}

	rr = c.do(http.MethodGet, "/api/articles/"+testArticle+"/comments?sort=top", nil, nil)
	expectStatus(t, rr, http.StatusOK)
	thread := decodeJSON[ThreadView](t, rr)
	if len(thread.Comments) != 1 || len(thread.Comments[0].Replies) != 1 {
		t.Fatalf("unexpected thread shape: %+v", thread)
	}
	if got := thread.Comments[0].Replies[0]; got.Score != 2 || got.CallerVote != nil {
		t.Fatalf("expected anonymous view of score 2, got %+v", got)
	}
	if thread.CommentCount != 2 {
		t.Fatalf("expected comment count 2, got %d", thread.CommentCount)
	}

	rr = c.do(http.MethodDelete, "/api/comments/"+reply.ID+"/vote", &alice, nil)
	expectStatus(t, rr, http.StatusOK)
	if result := decodeJSON[VoteResult](t, rr); result.Score != 1 || result.CallerVote != nil {
		t.Fatalf("unexpected unvote result: %+v", result)
	}

	rr = c.do(http.MethodPut, "/api/comments/"+root.ID, &alice, map[string]string{"content": "Sodium reference range in serum?"})
	expectStatus(t, rr, http.StatusOK)
	if edited := decodeJSON[CommentView](t, rr); !edited.IsEdited {
		t.Fatalf("expected edited flag")
	}

	rr = c.do(http.MethodDelete, "/api/comments/"+root.ID, &alice, nil)
	expectStatus(t, rr, http.StatusOK)
	if ack := decodeJSON[DeleteAck](t, rr); !ack.Deleted {
		t.Fatalf("expected delete ack")
	}
}

func TestHTTPAuthRequirements(t *testing.T) {
	c := newAPIClient(t)

	rr := c.do(http.MethodPost, "/api/articles/"+testArticle+"/comments", nil, map[string]string{"content": "hello"})
	expectStatus(t, rr, http.StatusUnauthorized)
	if body := decodeJSON[map[string]any](t, rr); body["code"] != CodeUnauthorized {
		t.Fatalf("expected UNAUTHORIZED code, got %v", body["code"])
	}

	req := httptest.NewRequest(http.MethodGet, "/api/articles/"+testArticle+"/comments", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusOK)

	rr = c.do(http.MethodGet, "/api/admin/comments", &alice, nil)
	expectStatus(t, rr, http.StatusForbidden)

	rr = c.do(http.MethodGet, "/api/admin/comments", &admin, nil)
	expectStatus(t, rr, http.StatusOK)
}

func TestHTTPErrorMapping(t *testing.T) {
	c := newAPIClient(t)

	rr := c.do(http.MethodGet, "/api/articles/art_missing/comments", nil, nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr = c.do(http.MethodPost, "/api/articles/"+testArticle+"/comments", &alice, map[string]string{"content": ""})
	expectStatus(t, rr, http.StatusBadRequest)
	if body := decodeJSON[map[string]any](t, rr); body["code"] != CodeValidation {
		t.Fatalf("expected validation code, got %v", body["code"])
	}

	req := httptest.NewRequest(http.MethodPost, "/api/articles/"+testArticle+"/comments", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+c.token(alice))
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusBadRequest)

	rr = c.do(http.MethodPost, "/api/comments/cmt_missing/upvote", &bob, nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr = c.do(http.MethodGet, "/api/unknown", nil, nil)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestHTTPReportAndModeration(t *testing.T) {
	c := newAPIClient(t)

	rr := c.do(http.MethodPost, "/api/articles/"+testArticle+"/comments", &alice, map[string]string{"content": "Questionable advice"})
	expectStatus(t, rr, http.StatusCreated)
	comment := decodeJSON[CommentView](t, rr)

	rr = c.do(http.MethodPost, "/api/comments/"+comment.ID+"/reports", &bob, map[string]string{"reason": "misleading"})
	expectStatus(t, rr, http.StatusCreated)

	rr = c.do(http.MethodPost, "/api/comments/"+comment.ID+"/reports", &bob, map[string]string{"reason": "misleading"})
	expectStatus(t, rr, http.StatusBadRequest)
	if body := decodeJSON[map[string]any](t, rr); body["code"] != CodeAlreadyReported {
		t.Fatalf("expected ALREADY_REPORTED, got %v", body["code"])
	}

	rr = c.do(http.MethodPost, "/api/admin/comments/"+comment.ID+"/reject", &admin, nil)
	expectStatus(t, rr, http.StatusOK)
	if view := decodeJSON[AdminCommentView](t, rr); view.Status != "spam" || view.ReportCount != 1 {
		t.Fatalf("unexpected rejected view: %+v", view)
	}

	rr = c.do(http.MethodGet, "/api/admin/comments?status=spam&page=1&limit=10", &admin, nil)
	expectStatus(t, rr, http.StatusOK)
	if page := decodeJSON[AdminPage](t, rr); page.Total != 1 || page.Items[0].ID != comment.ID {
		t.Fatalf("unexpected spam queue: %+v", page)
	}

	rr = c.do(http.MethodGet, "/api/admin/comments/search?q=questionable", &admin, nil)
	expectStatus(t, rr, http.StatusOK)
	if body := decodeJSON[map[string]any](t, rr); body["total"] != float64(1) {
		t.Fatalf("expected one search hit, got %v", body)
	}

	rr = c.do(http.MethodDelete, "/api/admin/comments/"+comment.ID, &admin, nil)
	expectStatus(t, rr, http.StatusOK)
	if result := decodeJSON[PurgeResult](t, rr); result.Removed != 1 || result.Descendants != 0 {
		t.Fatalf("unexpected purge result: %+v", result)
	}
}

func TestHTTPMetricsEndpoint(t *testing.T) {
	svc, _ := newTestService(t)
	commentMetrics, err := metrics.New(nil)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	svc.metrics = commentMetrics
	c := &apiClient{t: t, handler: NewHTTPServer(svc, "*", nil).Handler(), svc: svc}

	rr := c.do(http.MethodPost, "/api/articles/"+testArticle+"/comments", &alice, map[string]string{"content": "Glucose in fluoride tubes"})
	expectStatus(t, rr, http.StatusCreated)

	rr = c.do(http.MethodGet, "/api/metrics", nil, nil)
	expectStatus(t, rr, http.StatusOK)
	body := rr.Body.String()
	for _, want := range []string{
		`clinchem_comment_events_total{event="created"} 1`,
		`clinchem_http_requests_total{method="POST",status="201"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output:\n%s", want, body)
		}
	}
}
