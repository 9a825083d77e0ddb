package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	sketchscorer "github.com/menta2k/sketch-scorer"
	"github.com/menta2k/sketch-scorer/pkg/catalog"
	"github.com/menta2k/sketch-scorer/pkg/raster"
	"github.com/menta2k/sketch-scorer/pkg/types"
)

// guessSize is the resolution markup is rendered at before it is shown to
// the vision model
const guessSize = 512

var errNoImage = errors.New("missing image")

// scoreResponse is the JSON form of a scoring result, with the overlay as a
// data URL
type scoreResponse struct {
	Score     int             `json:"score"`
	Transform types.Transform `json:"transform"`
	Overlay   string          `json:"overlay,omitempty"`
}

func newScoreResponse(res types.ScoringResult) scoreResponse {
	return scoreResponse{
		Score:     res.Score,
		Transform: res.Transform,
		Overlay:   res.OverlayDataURL(),
	}
}

func (s *Server) serveHealthCheck(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ok\n"))
}

func (s *Server) serveVersion(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("sketch-scorer v" + sketchscorer.GetVersion() + "\n"))
}

func (s *Server) serveDrawings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	d, err := catalog.ParseDifficulty(r.URL.Query().Get("difficulty"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	drawings := catalog.Filter(d)
	if drawings == nil {
		drawings = []catalog.Drawing{}
	}
	writeJSON(w, http.StatusOK, drawings)
}

func (s *Server) serveDrawing(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	d, err := catalog.ByID(p.ByName("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, d.SVG)
}

func (s *Server) serveRandomDrawing(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	d, err := catalog.ParseDifficulty(q.Get("difficulty"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	drawing, ok := s.picker.Random(splitList(q.Get("used")), d)
	if !ok {
		writeError(w, http.StatusNotFound, "every drawing has been used")
		return
	}
	writeJSON(w, http.StatusOK, drawing)
}

func (s *Server) serveScore(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !s.parseUpload(w, r) {
		return
	}

	var original types.Source
	if id := r.FormValue("drawing"); id != "" {
		d, err := catalog.ByID(id)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		original = d.Source()
	} else {
		src, err := formSource(r, "original")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing drawing id or original image")
			return
		}
		original = src
	}

	submission, err := formSource(r, "image")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.acquire(r.Context()) {
		writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting to score")
		return
	}
	defer s.release()

	writeJSON(w, http.StatusOK, newScoreResponse(s.scorer.ScoreSubmission(original, submission)))
}

func (s *Server) serveGuess(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.guesser == nil {
		writeError(w, http.StatusServiceUnavailable, "guessing is disabled (no vision backend configured)")
		return
	}
	if !s.parseUpload(w, r) {
		return
	}

	d, err := catalog.ParseDifficulty(r.FormValue("difficulty"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	src, err := formSource(r, "image")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	img, err := raster.SourceImage(src, guessSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	g, err := s.guesser.Guess(r.Context(), s.model, img, catalog.Names(d))
	if err != nil {
		s.logger.Error("guess failed", zap.String("model", s.model), zap.Error(err))
		writeError(w, http.StatusBadGateway, "vision model request failed")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// parseUpload limits the body and parses the multipart form, writing the
// error response itself
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUpload)
	if err := r.ParseMultipartForm(s.cfg.Server.MaxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form")
		return false
	}
	return true
}

// formSource reads an image from a file field, or from a text field holding
// markup or a data URL as sent by a canvas
func formSource(r *http.Request, field string) (types.Source, error) {
	if f, _, err := r.FormFile(field); err == nil {
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return types.Source{}, err
		}
		if len(data) == 0 {
			return types.Source{}, fmt.Errorf("%w: %s is empty", errNoImage, field)
		}
		return types.Detect(data), nil
	}

	if v := strings.TrimSpace(r.FormValue(field)); v != "" {
		return types.Detect([]byte(v)), nil
	}
	return types.Source{}, fmt.Errorf("%w: %s", errNoImage, field)
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
