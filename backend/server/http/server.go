package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/waveroom/waveroom/backend/model"
	"github.com/waveroom/waveroom/backend/storage/memory"
)

const (
	defaultShutdownDeadline = 10 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type RoomService interface {
	CreateRoom() (string, error)
	GetRoom(roomID string) (model.RoomView, error)
	ListActiveRooms() []model.RoomSummary
}

type CreateRoomResponse struct {
	RoomID string `json:"room_id"`
}

type ListRoomsResponse struct {
	Rooms []model.RoomSummary `json:"rooms"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	logger zerolog.Logger
	svc    RoomService
	*http.Server
}

type Config struct {
	Logger      *zerolog.Logger
	RoomService RoomService
	ListenAddr  string
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "api-server").Logger(),
		svc:    cfg.RoomService,
	}

	r := http.NewServeMux()
	r.HandleFunc("POST /api/room", srv.createRoom)
	r.HandleFunc("GET /api/room/{roomID}", srv.getRoom)
	r.HandleFunc("GET /api/rooms", srv.listRooms)
	r.HandleFunc("OPTIONS /", corsHandler)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}
	return srv
}

func corsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) createRoom(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	roomID, err := srv.svc.CreateRoom()
	if err != nil {
		if errors.Is(err, memory.ErrCapacityExceeded) {
			writeJSON(w, http.StatusConflict, &ErrorResponse{Error: "room capacity exceeded"})
			return
		}
		srv.logger.Error().Err(err).Msg("room creation failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, &CreateRoomResponse{RoomID: roomID})
}

func (srv *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	roomID, err := model.NormalizeRoomID(r.PathValue("roomID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &ErrorResponse{Error: "invalid room id"})
		return
	}

	view, err := srv.svc.GetRoom(roomID)
	if err != nil {
		if errors.Is(err, memory.ErrRoomNotFound) {
			writeJSON(w, http.StatusNotFound, &ErrorResponse{Error: "room not found"})
			return
		}
		srv.logger.Error().Err(err).Msg("room lookup failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, &view)
}

func (srv *Server) listRooms(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	rooms := srv.svc.ListActiveRooms()
	if rooms == nil {
		rooms = make([]model.RoomSummary, 0)
	}
	writeJSON(w, http.StatusOK, &ListRoomsResponse{Rooms: rooms})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err = w.Write(b); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
