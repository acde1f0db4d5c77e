package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"coinrounds/internal/config"
	"coinrounds/internal/game"
	"coinrounds/internal/idcodec"
	"coinrounds/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	cfg     config.APIConfig
	log     *slog.Logger
	game    *game.Service
	ids     *idcodec.Codec
	metrics *metrics.Metrics
	mux     *chi.Mux
}

// New wires the routes. m may be nil, in which case /metrics is not served.
func New(cfg config.APIConfig, logger *slog.Logger, gameSvc *game.Service, ids *idcodec.Codec, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		log:     logger,
		game:    gameSvc,
		ids:     ids,
		metrics: m,
		mux:     chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if s.metrics != nil {
		r.Use(s.observeRequests)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/rounds/{gameId}", func(r chi.Router) {
		r.Get("/rankings", s.handleRoundRankings)
		r.Get("/current-rankings", s.handleCurrentRankings)
		r.Get("/round-results", s.handleRoundResults)
		r.Post("/end-newRound", s.handleEndNewRound)
	})

	r.Route("/games/{gameId}", func(r chi.Router) {
		r.Get("/", s.handleGameStatus)
		r.Post("/start", s.handleStartGame)
		r.Post("/end", s.handleEndGame)
		r.Get("/balances/{userId}", s.handleBalance)
	})
}

func (s *Server) observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveHTTP(r.Method, route, status, time.Since(started))
	})
}

func (s *Server) handleRoundRankings(w http.ResponseWriter, r *http.Request) {
	gameID, token, ok := s.gameID(w, r)
	if !ok {
		return
	}
	rounds, err := s.game.RoundRankings(r.Context(), gameID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	views := make([]roundStandingsView, 0, len(rounds))
	for _, rr := range rounds {
		views = append(views, roundStandingsView{
			RoundID:     s.ids.Encode(rr.RoundID),
			RoundNumber: rr.RoundNumber,
			Standings:   s.standingViews(rr.Standings),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"game_id": token, "rounds": views})
}

func (s *Server) handleCurrentRankings(w http.ResponseWriter, r *http.Request) {
	gameID, token, ok := s.gameID(w, r)
	if !ok {
		return
	}
	standings, err := s.game.CurrentRankings(r.Context(), gameID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"game_id": token, "standings": s.standingViews(standings)})
}

func (s *Server) handleRoundResults(w http.ResponseWriter, r *http.Request) {
	gameID, token, ok := s.gameID(w, r)
	if !ok {
		return
	}
	results, err := s.game.RoundResults(r.Context(), gameID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	views := make([]roundStandingsView, 0, len(results))
	for _, res := range results {
		finalizedAt := res.FinalizedAt
		views = append(views, roundStandingsView{
			RoundID:     s.ids.Encode(res.RoundID),
			RoundNumber: res.RoundNumber,
			FinalizedAt: &finalizedAt,
			Standings:   s.standingViews(res.Standings),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"game_id": token, "results": views})
}

func (s *Server) handleEndNewRound(w http.ResponseWriter, r *http.Request) {
	gameID, token, ok := s.gameID(w, r)
	if !ok {
		return
	}
	var in struct {
		FromRound int `json:"from_round"`
	}
	if err := decodeOptionalJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if in.FromRound < 0 {
		writeError(w, http.StatusBadRequest, "validation", "from_round must be >= 0")
		return
	}

	next, err := s.game.StartNewRound(r.Context(), game.AdvanceInput{
		GameID:    gameID,
		FromRound: in.FromRound,
		Config:    s.cfg.RoundConfig(),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.roundView(token, next))
}

func (s *Server) handleStartGame(w http.ResponseWriter, r *http.Request) {
	gameID, token, ok := s.gameID(w, r)
	if !ok {
		return
	}
	first, err := s.game.StartGame(r.Context(), gameID, s.cfg.RoundConfig())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.roundView(token, first))
}

func (s *Server) handleEndGame(w http.ResponseWriter, r *http.Request) {
	gameID, token, ok := s.gameID(w, r)
	if !ok {
		return
	}
	last, err := s.game.EndGame(r.Context(), gameID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.roundView(token, last))
}

func (s *Server) handleGameStatus(w http.ResponseWriter, r *http.Request) {
	gameID, token, ok := s.gameID(w, r)
	if !ok {
		return
	}
	st, err := s.game.GameStatus(r.Context(), gameID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out := map[string]any{
		"game_id":       token,
		"status":        st.Game.Status,
		"room":          st.Room,
		"is_last_round": st.IsLastRound,
	}
	if st.CurrentRound.ID != 0 {
		out["current_round"] = s.roundView(token, st.CurrentRound)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	gameID, token, ok := s.gameID(w, r)
	if !ok {
		return
	}
	userID, err := s.ids.DecodeOrPlain(chi.URLParam(r, "userId"), s.cfg.AllowPlainIDs)
	if err != nil {
		writeError(w, http.StatusNotFound, "balance_not_found", "unknown user id")
		return
	}
	snap, err := s.game.Balance(r.Context(), gameID, userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"game_id": token, "balance": snap})
}

// gameID decodes the path token. An id that does not decode is reported as an
// unknown game.
func (s *Server) gameID(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	token := chi.URLParam(r, "gameId")
	id, err := s.ids.DecodeOrPlain(token, s.cfg.AllowPlainIDs)
	if err != nil {
		writeError(w, http.StatusNotFound, "game_not_found", game.ErrGameNotFound.Error())
		return 0, "", false
	}
	return id, s.ids.Encode(id), true
}

type roundView struct {
	GameID          string     `json:"game_id"`
	RoundID         string     `json:"round_id"`
	RoundNumber     int        `json:"round_number"`
	DurationMinutes int        `json:"duration_minutes"`
	StartedAt       time.Time  `json:"started_at"`
	Deadline        time.Time  `json:"deadline"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

func (s *Server) roundView(gameToken string, r game.Round) roundView {
	return roundView{
		GameID:          gameToken,
		RoundID:         s.ids.Encode(r.ID),
		RoundNumber:     r.Number,
		DurationMinutes: r.DurationMinutes,
		StartedAt:       r.StartedAt,
		Deadline:        r.Deadline(),
		EndedAt:         r.EndedAt,
	}
}

// standingView carries the user as a token the balance route accepts.
type standingView struct {
	Rank     int    `json:"rank"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	game.BalanceSnapshot
}

type roundStandingsView struct {
	RoundID     string         `json:"round_id"`
	RoundNumber int            `json:"round_number"`
	FinalizedAt *time.Time     `json:"finalized_at,omitempty"`
	Standings   []standingView `json:"standings"`
}

func (s *Server) standingViews(in []game.Standing) []standingView {
	out := make([]standingView, 0, len(in))
	for _, st := range in {
		out = append(out, standingView{
			Rank:            st.Rank,
			UserID:          s.ids.Encode(st.UserID),
			Username:        st.Username,
			BalanceSnapshot: st.BalanceSnapshot,
		})
	}
	return out
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := game.ErrorKind(err)
	switch {
	case game.IsNotFound(err):
		writeError(w, http.StatusNotFound, kind, err.Error())
	case errors.Is(err, game.ErrDuplicateRound),
		errors.Is(err, game.ErrBalanceExists),
		errors.Is(err, game.ErrGameEnded),
		errors.Is(err, game.ErrGameAlreadyStarted),
		errors.Is(err, game.ErrGameNotActive),
		errors.Is(err, game.ErrLockBusy),
		errors.Is(err, game.ErrTxConflict):
		writeError(w, http.StatusConflict, kind, err.Error())
	case kind == "validation":
		writeError(w, http.StatusBadRequest, kind, err.Error())
	default:
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, kind, "internal error")
	}
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message), "kind": kind})
}
