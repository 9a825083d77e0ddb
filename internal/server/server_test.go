package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	sketchscorer "github.com/menta2k/sketch-scorer"
	"github.com/menta2k/sketch-scorer/internal/config"
	"github.com/menta2k/sketch-scorer/pkg/catalog"
	"github.com/menta2k/sketch-scorer/pkg/guess"
)

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.MaxUpload = 256 << 10

	s := New(cfg, sketchscorer.NewWithConfig(cfg.ScorerConfig()), opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return ts, cfg
}

type formFile struct {
	field, name string
	data        []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...formFile) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(f.data); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func houseSVG(t *testing.T) []byte {
	t.Helper()
	d, err := catalog.ByID("house")
	if err != nil {
		t.Fatal(err)
	}
	return []byte(d.SVG)
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestHealthAndVersion(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("Expected security headers on responses")
	}

	resp, err = http.Get(ts.URL + "/version")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), sketchscorer.Version) {
		t.Errorf("Expected version in body, got %q", body)
	}
}

func TestDrawings(t *testing.T) {
	ts, _ := newTestServer(t)

	var all []catalog.Drawing
	resp, err := http.Get(ts.URL + "/drawings")
	if err != nil {
		t.Fatal(err)
	}
	decodeJSON(t, resp, &all)
	if len(all) != 33 {
		t.Errorf("Expected 33 drawings, got %d", len(all))
	}

	var easy []catalog.Drawing
	resp, err = http.Get(ts.URL + "/drawings?difficulty=easy")
	if err != nil {
		t.Fatal(err)
	}
	decodeJSON(t, resp, &easy)
	if len(easy) != 8 {
		t.Errorf("Expected 8 easy drawings, got %d", len(easy))
	}

	resp, err = http.Get(ts.URL + "/drawings?difficulty=impossible")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad difficulty, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/drawings/house")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.Header.Get("Content-Type") != "image/svg+xml" || !bytes.Contains(body, []byte("<svg")) {
		t.Errorf("Expected SVG markup, got %s", resp.Header.Get("Content-Type"))
	}

	resp, err = http.Get(ts.URL + "/drawings/dragon")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown drawing, got %d", resp.StatusCode)
	}
}

func TestRandomDrawing(t *testing.T) {
	ts, _ := newTestServer(t, WithPicker(catalog.NewPicker(rand.NewPCG(1, 2))))

	easy := catalog.Filter(catalog.Easy)
	var used []string
	for _, d := range easy[1:] {
		used = append(used, d.ID)
	}

	var got catalog.Drawing
	resp, err := http.Get(ts.URL + "/random-drawing?difficulty=easy&used=" + strings.Join(used, ","))
	if err != nil {
		t.Fatal(err)
	}
	decodeJSON(t, resp, &got)
	if got.ID != easy[0].ID {
		t.Errorf("Expected the only unused drawing %s, got %s", easy[0].ID, got.ID)
	}

	used = append(used, easy[0].ID)
	resp, err = http.Get(ts.URL + "/random-drawing?difficulty=easy&used=" + strings.Join(used, ","))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 when exhausted, got %d", resp.StatusCode)
	}
}

func TestScore(t *testing.T) {
	ts, _ := newTestServer(t)

	body, ct := multipartBody(t, map[string]string{"drawing": "house"}, formFile{"image", "house.svg", houseSVG(t)})
	resp, err := http.Post(ts.URL+"/score", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var res scoreResponse
	decodeJSON(t, resp, &res)
	if res.Score != 100 {
		t.Errorf("Expected identical drawing to score 100, got %d", res.Score)
	}
	if !strings.HasPrefix(res.Overlay, "data:image/png;base64,") {
		t.Errorf("Expected PNG overlay data URL, got %.40s", res.Overlay)
	}
}

func TestScoreWithOriginalUpload(t *testing.T) {
	ts, _ := newTestServer(t)

	body, ct := multipartBody(t, map[string]string{"image": string(houseSVG(t))}, formFile{"original", "ref.svg", houseSVG(t)})
	resp, err := http.Post(ts.URL+"/score", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	var res scoreResponse
	decodeJSON(t, resp, &res)
	if res.Score != 100 {
		t.Errorf("Expected score 100, got %d", res.Score)
	}
}

func TestScoreErrors(t *testing.T) {
	ts, _ := newTestServer(t)

	cases := []struct {
		name   string
		fields map[string]string
		files  []formFile
		status int
	}{
		{"missing image", map[string]string{"drawing": "house"}, nil, http.StatusBadRequest},
		{"unknown drawing", map[string]string{"drawing": "dragon"}, []formFile{{"image", "a.svg", houseSVG(t)}}, http.StatusNotFound},
		{"no reference", nil, []formFile{{"image", "a.svg", houseSVG(t)}}, http.StatusBadRequest},
		{"too large", map[string]string{"drawing": "house"}, []formFile{{"image", "big.png", make([]byte, 300<<10)}}, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		body, ct := multipartBody(t, tc.fields, tc.files...)
		resp, err := http.Post(ts.URL+"/score", ct, body)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.status, resp.StatusCode)
		}
	}

	resp, err := http.Post(ts.URL+"/score", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for non-multipart body, got %d", resp.StatusCode)
	}
}

func createRound(t *testing.T, ts *httptest.Server, req string) roundView {
	t.Helper()
	resp, err := http.Post(ts.URL+"/rounds", "application/json", strings.NewReader(req))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		resp.Body.Close()
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}
	var v roundView
	decodeJSON(t, resp, &v)
	return v
}

func submit(t *testing.T, ts *httptest.Server, roundID, player string, img []byte) int {
	t.Helper()
	body, ct := multipartBody(t, map[string]string{"player": player}, formFile{"image", player + ".svg", img})
	resp, err := http.Post(ts.URL+"/rounds/"+roundID+"/submissions", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestRoundFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	v := createRound(t, ts, `{"drawing_id": "house"}`)
	if v.DrawingID != "house" || v.DrawingName != "House" || len(v.ID) != roundIDLength {
		t.Fatalf("Unexpected round %+v", v)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rounds/" + v.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	defer conn.Close()

	if status := submit(t, ts, v.ID, "alice", houseSVG(t)); status != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", status)
	}
	if status := submit(t, ts, v.ID, "alice", houseSVG(t)); status != http.StatusConflict {
		t.Errorf("Expected 409 for a second submission, got %d", status)
	}

	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	var ev roundEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("Failed to read result: %v", err)
	}
	if ev.PlayerID != "alice" || ev.RoundID != v.ID || ev.Score != 100 {
		t.Errorf("Expected alice to score 100, got %+v", ev)
	}

	resp, err := http.Get(ts.URL + "/rounds/" + v.ID)
	if err != nil {
		t.Fatal(err)
	}
	var got roundView
	decodeJSON(t, resp, &got)
	if len(got.Submissions) != 1 || !got.Submissions[0].Scored || got.Submissions[0].Score != 100 || !got.Complete {
		t.Errorf("Expected one scored submission, got %+v", got)
	}

	resp, err = http.Post(ts.URL+"/rounds/"+v.ID+"/close", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if status := submit(t, ts, v.ID, "bob", houseSVG(t)); status != http.StatusConflict {
		t.Errorf("Expected 409 after close, got %d", status)
	}

	// The stream ends once the closed round is drained
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("Expected normal close, got %v", err)
	}
}

func TestRoundLateSubscriber(t *testing.T) {
	ts, _ := newTestServer(t)
	v := createRound(t, ts, `{"drawing_id": "house"}`)

	if status := submit(t, ts, v.ID, "carol", houseSVG(t)); status != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", status)
	}

	deadline := time.Now().Add(30 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/rounds/" + v.ID)
		if err != nil {
			t.Fatal(err)
		}
		var got roundView
		decodeJSON(t, resp, &got)
		if got.Complete {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for the submission to be scored")
		}
		time.Sleep(20 * time.Millisecond)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rounds/" + v.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var ev roundEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("Failed to read replayed result: %v", err)
	}
	if ev.PlayerID != "carol" || ev.Score != 100 || ev.Overlay == "" {
		t.Errorf("Expected replayed result for carol, got player %s score %d", ev.PlayerID, ev.Score)
	}
}

func TestRoundErrors(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, path := range []string{"/rounds/nope", "/rounds/nope/qr", "/rounds/nope/upload", "/rounds/nope/ws"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("Expected 404 for %s, got %d", path, resp.StatusCode)
		}
	}

	for req, status := range map[string]int{
		`{"drawing_id": "dragon"}`:  http.StatusNotFound,
		`{"difficulty": "extreme"}`: http.StatusBadRequest,
		`{not json`:                 http.StatusBadRequest,
	} {
		resp, err := http.Post(ts.URL+"/rounds", "application/json", strings.NewReader(req))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != status {
			t.Errorf("Expected %d for %s, got %d", status, req, resp.StatusCode)
		}
	}

	v := createRound(t, ts, `{"difficulty": "hard"}`)
	d, err := catalog.ByID(v.DrawingID)
	if err != nil || d.Difficulty != catalog.Hard {
		t.Errorf("Expected a random hard drawing, got %s", v.DrawingID)
	}

	body, ct := multipartBody(t, nil, formFile{"image", "a.svg", houseSVG(t)})
	resp, err := http.Post(ts.URL+"/rounds/"+v.ID+"/submissions", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without player, got %d", resp.StatusCode)
	}
}

func TestRoundQRAndUploadPage(t *testing.T) {
	ts, _ := newTestServer(t)
	v := createRound(t, ts, `{}`)

	resp, err := http.Get(ts.URL + "/rounds/" + v.ID + "/qr?player=dave")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Content-Type") != "image/png" {
		t.Errorf("Expected image/png, got %s", resp.Header.Get("Content-Type"))
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("Expected a PNG QR code: %v", err)
	}
	if img.Bounds().Dx() != qrSize {
		t.Errorf("Expected %dpx QR code, got %d", qrSize, img.Bounds().Dx())
	}

	page, err := http.Get(ts.URL + "/rounds/" + v.ID + "/upload?player=%3Cdave%3E")
	if err != nil {
		t.Fatal(err)
	}
	html, _ := io.ReadAll(page.Body)
	page.Body.Close()
	if !bytes.Contains(html, []byte(`action="submissions"`)) || !bytes.Contains(html, []byte(v.ID)) {
		t.Errorf("Expected upload form for round %s", v.ID)
	}
	if bytes.Contains(html, []byte("<dave>")) {
		t.Error("Expected player name to be escaped")
	}
}

type fakeVision struct {
	reply string
}

func (f *fakeVision) Ask(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return f.reply, nil
}

func TestGuess(t *testing.T) {
	ts, _ := newTestServer(t)
	body, ct := multipartBody(t, nil, formFile{"image", "a.svg", houseSVG(t)})
	resp, err := http.Post(ts.URL+"/guess", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without a vision backend, got %d", resp.StatusCode)
	}

	g := guess.NewGuesser(&fakeVision{reply: `{"label": "house", "confidence": 0.9}`})
	ts, _ = newTestServer(t, WithGuesser(g, "llava"))
	body, ct = multipartBody(t, map[string]string{"difficulty": "easy"}, formFile{"image", "a.svg", houseSVG(t)})
	resp, err = http.Post(ts.URL+"/guess", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Label   string `json:"label"`
		Matched bool   `json:"matched"`
	}
	decodeJSON(t, resp, &got)
	if got.Label != "House" || !got.Matched {
		t.Errorf("Expected matched House, got %+v", got)
	}
}

func TestPrefix(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Prefix = "/party"
	s := New(cfg, sketchscorer.New())
	defer s.Close()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/party/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 under prefix, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without prefix, got %d", rec.Code)
	}
}

func TestRealIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5000"
	if got := realIP(r); got != "10.0.0.1:5000" {
		t.Errorf("Expected remote address, got %s", got)
	}

	r.Header.Set("X-Real-IP", "203.0.113.7")
	if got := realIP(r); got != "203.0.113.7:5000" {
		t.Errorf("Expected forwarded address, got %s", got)
	}
}

func TestServeShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Bind = "127.0.0.1"
	cfg.Server.Port = 0
	s := New(cfg, sketchscorer.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
