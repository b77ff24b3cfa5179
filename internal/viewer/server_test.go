package viewer

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/lincot/metaplex-collection-scraper/internal/aggregate"
	"github.com/lincot/metaplex-collection-scraper/internal/descriptor"
	"github.com/lincot/metaplex-collection-scraper/internal/report"
)

// testStore writes a three-token report called "coll" and returns its store.
func testStore(t *testing.T) (report.Writer, []solana.PublicKey) {
	t.Helper()

	bodies := []string{
		`{"name":"A","image":"a","attributes":[{"trait_type":"Color","value":"Red"},{"trait_type":"Level","value":3}]}`,
		`{"name":"B","image":"b","attributes":[{"trait_type":"Color","value":"Red"},{"trait_type":"Level","value":5}]}`,
		`{"name":"C","image":"c","attributes":{"trait_type":"Color","value":"Blue"}}`,
	}

	agg := aggregate.New("Coll")
	mints := make([]solana.PublicKey, len(bodies))

	for i, body := range bodies {
		d, err := descriptor.Parse([]byte(body))
		if err != nil {
			t.Fatalf("parse %d: %v", i, err)
		}

		mints[i] = solana.NewWallet().PublicKey()
		agg.Observe(mints[i], d)
	}

	w := report.Writer{Dir: t.TempDir()}
	if _, err := w.Write("coll", agg.Report()); err != nil {
		t.Fatalf("write: %v", err)
	}

	return w, mints
}

func do(t *testing.T, h http.Handler, method, path string, body []byte) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: invalid JSON response %q", method, path, rec.Body.String())
	}

	return rec, out
}

func TestHealth(t *testing.T) {
	store, _ := testStore(t)
	h := New(":0", store, nil).Handler()

	rec, out := do(t, h, "GET", "/health", nil)
	if rec.Code != http.StatusOK || out["status"] != "ok" {
		t.Errorf("health = %d %v", rec.Code, out)
	}
}

func TestListAndReport(t *testing.T) {
	store, _ := testStore(t)
	h := New(":0", store, nil).Handler()

	rec, out := do(t, h, "GET", "/collections", nil)
	if rec.Code != http.StatusOK || !reflect.DeepEqual(out["collections"], []any{"coll"}) {
		t.Errorf("list = %d %v", rec.Code, out)
	}

	rec, out = do(t, h, "GET", "/collections/coll", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report status = %d", rec.Code)
	}

	if out["collection_name"] != "Coll" || !reflect.DeepEqual(out["trait_types"], []any{"Color", "Level"}) {
		t.Errorf("unexpected report %v", out)
	}

	if tokens, _ := out["tokens"].([]any); len(tokens) != 3 {
		t.Errorf("tokens = %v", out["tokens"])
	}
}

func TestReportErrors(t *testing.T) {
	store, _ := testStore(t)
	h := New(":0", store, nil).Handler()

	if rec, _ := do(t, h, "GET", "/collections/absent", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing report status = %d", rec.Code)
	}

	if rec, _ := do(t, h, "GET", "/collections/..", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid name status = %d", rec.Code)
	}

	if rec, _ := do(t, h, "GET", "/collections/coll/traits/Hat", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown trait status = %d", rec.Code)
	}
}

func TestTraitHistogram(t *testing.T) {
	store, _ := testStore(t)
	h := New(":0", store, nil).Handler()

	rec, out := do(t, h, "GET", "/collections/coll/traits/Color", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	want := []any{
		map[string]any{"value": "Red", "count": float64(2)},
		map[string]any{"value": "Blue", "count": float64(1)},
	}
	if !reflect.DeepEqual(out["values"], want) || out["missing"] != float64(0) {
		t.Errorf("histogram = %v", out)
	}

	_, out = do(t, h, "GET", "/collections/coll/traits/Level", nil)
	if out["missing"] != float64(1) {
		t.Errorf("Level missing = %v", out["missing"])
	}
}

func TestSelection(t *testing.T) {
	store, mints := testStore(t)
	h := New(":0", store, nil).Handler()

	tests := []struct {
		name string
		body string
		want []solana.PublicKey
	}{
		{"no filters", `{}`, mints},
		{"one value", `{"filters":{"Color":["Red"]}}`, mints[:2]},
		{"any of values", `{"filters":{"Color":["Red","Blue"]}}`, mints},
		{"all traits", `{"filters":{"Color":["Red"],"Level":["5"]}}`, mints[1:2]},
		{"missing trait excluded", `{"filters":{"Level":["3","5"]}}`, mints[:2]},
		{"no match", `{"filters":{"Color":["Green"]}}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := do(t, h, "POST", "/collections/coll/selection", []byte(tt.body))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}

			want := []any{}
			for _, m := range tt.want {
				want = append(want, m.String())
			}

			if !reflect.DeepEqual(out["mints"], want) || out["count"] != float64(len(want)) {
				t.Errorf("selection = %v, want %v", out, want)
			}
		})
	}
}

func TestSelectionInvalidBody(t *testing.T) {
	store, _ := testStore(t)
	h := New(":0", store, nil).Handler()

	if rec, _ := do(t, h, "POST", "/collections/coll/selection", []byte(`{"filters":`)); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	store, _ := testStore(t)
	h := New(":0", store, []string{"http://viewer.local"}).Handler()

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "http://viewer.local")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://viewer.local" {
		t.Errorf("allow origin = %q", got)
	}
}
