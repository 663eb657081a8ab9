package registration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinsync/clinsync/internal/platform/auth"
	"github.com/clinsync/clinsync/internal/platform/connectivity"
	"github.com/clinsync/clinsync/internal/platform/remote"
	"github.com/clinsync/clinsync/internal/platform/store"
	"github.com/clinsync/clinsync/pkg/records"
)

type fakeDrainer struct {
	synced int
	err    error
}

func (f *fakeDrainer) Drain(_ context.Context) (int, error) { return f.synced, f.err }

func newTestServer(fr *fakeRegistrar, online bool) (*echo.Echo, *Outbox) {
	outbox := NewOutbox(store.NewMemory())
	c := NewCoordinator(fr, connectivity.NewManual(online), outbox, zerolog.Nop())

	e := echo.New()
	e.Use(auth.DevAuthMiddleware())
	NewHandler(c, outbox, &fakeDrainer{}).RegisterRoutes(e.Group("/api/v1"))
	return e, outbox
}

func postRegistration(e *echo.Echo, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/registrations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

const validBody = `{"name":"Asha Rao","dob":"1990-06-15T00:00:00Z","phone":"9876543210","location":"clinic-a"}`

func TestHandlerRemoteSuccessIs201(t *testing.T) {
	fr := &fakeRegistrar{resp: &records.RegisterResponse{
		Status:  records.RegisterSuccess,
		Patient: &records.PatientRecord{ID: "pat-1", Name: "Asha Rao", Phone: "9876543210"},
	}}
	e, _ := newTestServer(fr, true)

	rec := postRegistration(e, validBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var result SubmitResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if result.Status != StatusRegistered {
		t.Fatalf("result status = %q, want %q", result.Status, StatusRegistered)
	}
}

func TestHandlerQueuedOfflineIs202(t *testing.T) {
	e, outbox := newTestServer(&fakeRegistrar{}, false)

	rec := postRegistration(e, validBody)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	entries, _ := outbox.List(context.Background())
	if len(entries) != 1 {
		t.Fatalf("outbox has %d entries, want 1", len(entries))
	}
}

func TestHandlerValidationFailureIs400(t *testing.T) {
	e, _ := newTestServer(&fakeRegistrar{}, true)

	rec := postRegistration(e, `{"name":"","phone":"123"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestHandlerDuplicateIs409(t *testing.T) {
	e, _ := newTestServer(&fakeRegistrar{}, false)

	body := `{"name":"Asha Rao","dob":"1990-06-15T00:00:00Z","phone":"9876543210","location":"clinic-a",` +
		`"existing_consultations":[{"name":"asha rao","phone":"9876543210"}]}`
	rec := postRegistration(e, body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Duplicate Consultation") {
		t.Fatalf("body = %s, want duplicate message", rec.Body.String())
	}
}

func TestHandlerServiceRejectionIs422(t *testing.T) {
	fr := &fakeRegistrar{err: &remote.ServiceError{StatusCode: 422, Message: "phone already registered"}}
	e, _ := newTestServer(fr, true)

	rec := postRegistration(e, validBody)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
}

func TestHandlerStorageFailureIs500WithExplicitMessage(t *testing.T) {
	outbox := NewOutbox(&failingStore{Store: store.NewMemory()})
	c := NewCoordinator(&fakeRegistrar{}, connectivity.NewManual(false), outbox, zerolog.Nop())

	e := echo.New()
	e.Use(auth.DevAuthMiddleware())
	NewHandler(c, outbox, &fakeDrainer{}).RegisterRoutes(e.Group("/api/v1"))

	rec := postRegistration(e, validBody)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "NOT recorded") {
		t.Fatalf("body = %s, want the explicit not-recorded warning", rec.Body.String())
	}
}

func TestHandlerOutboxListAndGet(t *testing.T) {
	e, outbox := newTestServer(&fakeRegistrar{}, false)

	rec := postRegistration(e, validBody)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("seed registration: status %d", rec.Code)
	}
	entries, _ := outbox.List(context.Background())
	key := entries[0].Key

	req := httptest.NewRequest(http.MethodGet, "/api/v1/outbox", nil)
	listRec := httptest.NewRecorder()
	e.ServeHTTP(listRec, req)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list status = %d: %s", listRec.Code, listRec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/outbox/"+key, nil)
	getRec := httptest.NewRecorder()
	e.ServeHTTP(getRec, req)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", getRec.Code, getRec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/outbox/no-such-key", nil)
	missRec := httptest.NewRecorder()
	e.ServeHTTP(missRec, req)
	if missRec.Code != http.StatusNotFound {
		t.Fatalf("missing-entry status = %d, want 404", missRec.Code)
	}
}

func TestHandlerOutboxResolution(t *testing.T) {
	e, outbox := newTestServer(&fakeRegistrar{}, false)

	rec := postRegistration(e, validBody)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("seed registration: status %d", rec.Code)
	}
	entries, _ := outbox.List(context.Background())
	key := entries[0].Key

	resolve := func(id string) (*httptest.ResponseRecorder, map[string]interface{}) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/outbox/"+id+"/resolution", nil)
		r := httptest.NewRecorder()
		e.ServeHTTP(r, req)
		body := map[string]interface{}{}
		_ = json.Unmarshal(r.Body.Bytes(), &body)
		return r, body
	}

	// Still queued: not yet synced, no resolved id.
	r, body := resolve(key)
	if r.Code != http.StatusOK {
		t.Fatalf("pending resolution status = %d: %s", r.Code, r.Body.String())
	}
	if body["synced"] != false {
		t.Fatalf("pending resolution = %v, want synced=false", body)
	}

	if err := outbox.MapID(context.Background(), key, "pat-42"); err != nil {
		t.Fatalf("MapID: %v", err)
	}
	r, body = resolve(key)
	if r.Code != http.StatusOK {
		t.Fatalf("synced resolution status = %d: %s", r.Code, r.Body.String())
	}
	if body["synced"] != true || body["resolved_id"] != "pat-42" {
		t.Fatalf("synced resolution = %v, want resolved_id pat-42", body)
	}

	// A server-issued id is not resolvable, it already is the answer.
	r, _ = resolve("pat-42")
	if r.Code != http.StatusBadRequest {
		t.Fatalf("non-offline id status = %d, want 400", r.Code)
	}
}

func TestHandlerDrain(t *testing.T) {
	outbox := NewOutbox(store.NewMemory())
	c := NewCoordinator(&fakeRegistrar{}, connectivity.NewManual(true), outbox, zerolog.Nop())

	e := echo.New()
	e.Use(auth.DevAuthMiddleware())
	NewHandler(c, outbox, &fakeDrainer{synced: 3}).RegisterRoutes(e.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/outbox/drain", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "3") {
		t.Fatalf("body = %s, want synced count", rec.Body.String())
	}
}

func TestHandlerDrainFailureIs502(t *testing.T) {
	outbox := NewOutbox(store.NewMemory())
	c := NewCoordinator(&fakeRegistrar{}, connectivity.NewManual(true), outbox, zerolog.Nop())

	e := echo.New()
	e.Use(auth.DevAuthMiddleware())
	drainer := &fakeDrainer{err: errors.New("remote unreachable")}
	NewHandler(c, outbox, drainer).RegisterRoutes(e.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/outbox/drain", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}
