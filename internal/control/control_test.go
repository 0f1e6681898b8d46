package control_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dantte-lp/dnp3master/internal/control"
	"github.com/dantte-lp/dnp3master/internal/master"
)

// fakeSession drains a control channel the way master.Session.Run would,
// resolving every AddAssociation request successfully and reporting no
// failure for association-scoped messages whose address is known.
func fakeSession(t *testing.T, queue chan master.Message, known map[uint16]bool) {
	t.Helper()

	go func() {
		for msg := range queue {
			switch {
			case msg.Master != nil && msg.Master.Kind == master.MsgAddAssociation:
				known[uint16(msg.Master.NewAssociation.Address)] = true
				if msg.Master.AddResult != nil {
					msg.Master.AddResult(nil)
				}
			case msg.Association != nil:
				if !known[uint16(msg.Association.Address)] {
					msg.Association.OnAssociationFailure(master.ErrNoSuchAssociation)
				}
			}
		}
	}()
}

func setupTestServer(t *testing.T) (*httptest.Server, chan master.Message) {
	t.Helper()

	queue := make(chan master.Message, 16)
	known := make(map[uint16]bool)
	fakeSession(t, queue, known)

	srv := control.New(queue, slog.New(slog.DiscardHandler))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		close(queue)
	})

	return ts, queue
}

func TestAddAndListAssociation(t *testing.T) {
	t.Parallel()

	ts, _ := setupTestServer(t)

	body := bytes.NewBufferString(`{"address":1,"class1":true,"class2":true}`)
	resp, err := http.Post(ts.URL+"/associations", "application/json", body)
	if err != nil {
		t.Fatalf("POST /associations: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /associations status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	listResp, err := http.Get(ts.URL + "/associations")
	if err != nil {
		t.Fatalf("GET /associations: %v", err)
	}
	defer listResp.Body.Close()

	var views []map[string]any
	if err := json.NewDecoder(listResp.Body).Decode(&views); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if len(views) != 1 {
		t.Fatalf("associations count = %d, want 1", len(views))
	}
	if addr, _ := views[0]["address"].(float64); addr != 1 {
		t.Errorf("address = %v, want 1", views[0]["address"])
	}
}

func TestRemoveAssociation(t *testing.T) {
	t.Parallel()

	ts, _ := setupTestServer(t)

	body := bytes.NewBufferString(`{"address":5}`)
	if _, err := http.Post(ts.URL+"/associations", "application/json", body); err != nil {
		t.Fatalf("POST /associations: %v", err)
	}

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/associations/5", nil)
	if err != nil {
		t.Fatalf("build DELETE request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /associations/5: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
}

func TestEnqueueTaskUnknownAssociation(t *testing.T) {
	t.Parallel()

	ts, _ := setupTestServer(t)

	body := bytes.NewBufferString(`{"kind":"integrity"}`)
	resp, err := http.Post(ts.URL+"/associations/99/tasks", "application/json", body)
	if err != nil {
		t.Fatalf("POST tasks: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestSetDecodeLevel(t *testing.T) {
	t.Parallel()

	ts, _ := setupTestServer(t)

	body := bytes.NewBufferString(`{"level":"debug"}`)
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/decode-level", body)
	if err != nil {
		t.Fatalf("build PUT request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /decode-level: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
}

func TestSetDecodeLevelInvalid(t *testing.T) {
	t.Parallel()

	ts, _ := setupTestServer(t)

	body := bytes.NewBufferString(`{"level":"verbose"}`)
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/decode-level", body)
	if err != nil {
		t.Fatalf("build PUT request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT /decode-level: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}
