package server

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	_ "embed"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/menta2k/sketch-scorer/pkg/catalog"
	"github.com/menta2k/sketch-scorer/pkg/round"
	"github.com/menta2k/sketch-scorer/pkg/types"
)

const (
	roundIDLength = 8
	qrSize        = 320
	writeWait     = 10 * time.Second
)

// roundManager owns the live rounds and the goroutines scoring them. With a
// positive ttl, rounds idle that long are closed, and closed rounds are
// dropped ttl after their last score.
type roundManager struct {
	scorer round.Scorer
	opts   round.Options
	ttl    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	rounds map[string]*liveRound
}

type liveRound struct {
	queue    *round.Queue
	finished time.Time // zero while the queue is running
}

func newRoundManager(scorer round.Scorer, opts round.Options, ttl time.Duration) *roundManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &roundManager{
		scorer: scorer,
		opts:   opts,
		ttl:    ttl,
		ctx:    ctx,
		cancel: cancel,
		rounds: make(map[string]*liveRound),
	}

	if ttl > 0 {
		m.wg.Add(1)
		go m.janitor()
	}
	return m
}

// create starts a round for drawing d under a fresh random id
func (m *roundManager) create(d catalog.Drawing) *round.Queue {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := newRoundID()
	for m.rounds[id] != nil {
		id = newRoundID()
	}

	lr := &liveRound{queue: round.NewQueue(m.scorer, round.New(id, d.ID, d.Source()), m.opts)}
	m.rounds[id] = lr

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := lr.queue.Run(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.opts.Logger.Error("round queue stopped", zap.String("round", id), zap.Error(err))
		}

		m.mu.Lock()
		lr.finished = time.Now()
		m.mu.Unlock()
	}()
	return lr.queue
}

func (m *roundManager) get(id string) (*round.Queue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lr, ok := m.rounds[id]
	if !ok {
		return nil, false
	}
	return lr.queue, true
}

func (m *roundManager) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rounds)
}

func (m *roundManager) janitor() {
	defer m.wg.Done()

	interval := m.ttl / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			m.expire(now)
		}
	}
}

// expire closes idle rounds and forgets finished ones whose results have
// been up for ttl
func (m *roundManager) expire(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, lr := range m.rounds {
		last := lr.queue.Round().LastActivity()
		switch {
		case !lr.finished.IsZero():
			if lr.finished.After(last) {
				last = lr.finished
			}
			if now.Sub(last) >= m.ttl {
				delete(m.rounds, id)
				m.opts.Logger.Debug("round released", zap.String("round", id))
			}
		case now.Sub(last) >= m.ttl:
			lr.queue.Close()
			m.opts.Logger.Info("round expired", zap.String("round", id), zap.Duration("idle", now.Sub(last)))
		}
	}
}

func (m *roundManager) close() {
	m.cancel()
	m.wg.Wait()
}

// newRoundID returns a short crypto-random id
func newRoundID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	buf := make([]byte, roundIDLength)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	for i := range buf {
		buf[i] = letters[int(buf[i])%len(letters)]
	}
	return string(buf)
}

type createRoundRequest struct {
	DrawingID  string   `json:"drawing_id"`
	Difficulty string   `json:"difficulty"`
	Used       []string `json:"used"`
}

type roundView struct {
	ID          string             `json:"id"`
	DrawingID   string             `json:"drawing_id"`
	DrawingName string             `json:"drawing_name"`
	CreatedAt   time.Time          `json:"created_at"`
	Complete    bool               `json:"complete"`
	Submissions []round.Submission `json:"submissions"`
	Standings   []round.Standing   `json:"standings"`
}

func newRoundView(r *round.Round) roundView {
	v := roundView{
		ID:          r.ID,
		DrawingID:   r.DrawingID,
		CreatedAt:   r.CreatedAt,
		Submissions: r.Submissions(),
		Standings:   r.Tally(),
	}
	v.Complete = len(v.Submissions) > 0 && r.Complete()
	if d, err := catalog.ByID(r.DrawingID); err == nil {
		v.DrawingName = d.Name
	}
	return v
}

// roundEvent is sent over the websocket each time a submission is scored
type roundEvent struct {
	RoundID   string `json:"round_id"`
	PlayerID  string `json:"player_id"`
	ElapsedMS int64  `json:"elapsed_ms"`
	scoreResponse
}

func (s *Server) serveCreateRound(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createRoundRequest
	body := http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var drawing catalog.Drawing
	if req.DrawingID != "" {
		d, err := catalog.ByID(req.DrawingID)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		drawing = d
	} else {
		difficulty, err := catalog.ParseDifficulty(req.Difficulty)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		d, ok := s.picker.Random(req.Used, difficulty)
		if !ok {
			writeError(w, http.StatusNotFound, "every drawing has been used")
			return
		}
		drawing = d
	}

	q := s.rounds.create(drawing)
	s.logger.Info("round created", zap.String("round", q.Round().ID), zap.String("drawing", drawing.ID))
	writeJSON(w, http.StatusCreated, newRoundView(q.Round()))
}

func (s *Server) serveRound(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	q, ok := s.rounds.get(p.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "round not found")
		return
	}
	writeJSON(w, http.StatusOK, newRoundView(q.Round()))
}

func (s *Server) serveSubmit(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	q, ok := s.rounds.get(p.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "round not found")
		return
	}
	if !s.parseUpload(w, r) {
		return
	}

	player := r.FormValue("player")
	if player == "" {
		writeError(w, http.StatusBadRequest, "missing player")
		return
	}
	img, err := formSource(r, "image")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch err := q.Submit(player, img); {
	case errors.Is(err, round.ErrDuplicate), errors.Is(err, round.ErrClosed):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"round_id":  q.Round().ID,
		"player_id": player,
		"status":    "queued",
	})
}

func (s *Server) serveCloseRound(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	q, ok := s.rounds.get(p.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "round not found")
		return
	}
	q.Close()
	writeJSON(w, http.StatusOK, newRoundView(q.Round()))
}

type voteRequest struct {
	Voter string   `json:"voter"`
	Picks []string `json:"picks"`
}

// serveVote records a ranked vote and answers with the updated standings
func (s *Server) serveVote(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	q, ok := s.rounds.get(p.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "round not found")
		return
	}

	var req voteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := q.Round().Vote(req.Voter, req.Picks); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("vote recorded", zap.String("round", q.Round().ID), zap.String("voter", req.Voter))
	writeJSON(w, http.StatusOK, q.Round().Tally())
}

func (s *Server) serveStandings(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	q, ok := s.rounds.get(p.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "round not found")
		return
	}
	writeJSON(w, http.StatusOK, q.Round().Tally())
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveRoundWS streams scored submissions: first those already scored, then
// each new result until the round closes or the client goes away
func (s *Server) serveRoundWS(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	q, ok := s.rounds.get(p.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "round not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	results, unsubscribe := q.Subscribe()
	defer unsubscribe()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(ev roundEvent) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(ev) == nil
	}

	format := s.scorer.Config().Overlay.Format
	for _, sub := range q.Round().Submissions() {
		if !sub.Scored {
			continue
		}
		res := types.ScoringResult{Score: sub.Score, Transform: sub.Transform, Overlay: sub.Overlay, OverlayFormat: format}
		ev := roundEvent{
			RoundID:       q.Round().ID,
			PlayerID:      sub.PlayerID,
			ElapsedMS:     sub.ScoredAt.Sub(sub.SubmittedAt).Milliseconds(),
			scoreResponse: newScoreResponse(res),
		}
		if !send(ev) {
			return
		}
	}

	for {
		select {
		case res, ok := <-results:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "round closed"),
					time.Now().Add(writeWait))
				return
			}
			ev := roundEvent{
				RoundID:       res.RoundID,
				PlayerID:      res.PlayerID,
				ElapsedMS:     res.Elapsed.Milliseconds(),
				scoreResponse: newScoreResponse(res.Result),
			}
			if !send(ev) {
				return
			}
		case <-gone:
			return
		}
	}
}

// serveQR renders a PNG QR code that opens the round's phone upload page
func (s *Server) serveQR(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("id")
	if _, ok := s.rounds.get(id); !ok {
		writeError(w, http.StatusNotFound, "round not found")
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	target := url.URL{
		Scheme: scheme,
		Host:   r.Host,
		Path:   s.cfg.Server.Prefix + "/rounds/" + id + "/upload",
	}
	if player := r.URL.Query().Get("player"); player != "" {
		target.RawQuery = url.Values{"player": {player}}.Encode()
	}

	png, err := qrcode.Encode(target.String(), qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "qr generation failed")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

//go:embed upload.html
var uploadHTML string

var uploadPage = template.Must(template.New("upload").Parse(uploadHTML))

type uploadPageData struct {
	RoundID string
	Player  string
}

// serveUploadPage is the phone-friendly form a QR code points to
func (s *Server) serveUploadPage(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	q, ok := s.rounds.get(p.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "round not found")
		return
	}

	data := uploadPageData{
		RoundID: q.Round().ID,
		Player:  r.URL.Query().Get("player"),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := uploadPage.Execute(w, data); err != nil {
		s.logger.Error("upload page failed", zap.Error(err))
	}
}
