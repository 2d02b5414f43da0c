package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"causalog/internal/clock"
	"causalog/internal/eventlog"
	"causalog/internal/types"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Dispatcher is the node behaviour the API exposes.
type Dispatcher interface {
	Append(value int64) (eventlog.Event, error)
	Message(msg types.Message) error
	Read() []eventlog.Event
	ReadSorted() []eventlog.Event
	Status() types.ClockStatus
}

// PeerHealth reports the health monitor's view.
type PeerHealth interface {
	Snapshot() []types.PeerStatus
}

type API struct {
	nodeID string
	d      Dispatcher
	peers  PeerHealth
}

// New creates the API for one node. peers may be nil.
func New(nodeID string, d Dispatcher, peers PeerHealth) *API {
	return &API{nodeID: nodeID, d: d, peers: peers}
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)

	r.Post("/append", a.handleAppend)   // client append
	r.Get("/append", a.handleRead)      // event log, ?order=causal for presentation order
	r.Post("/message", a.handleMessage) // peer delivery
	r.Get("/clock", a.handleClock)
	r.Get("/peers", a.handlePeers)
	r.Get("/healthz", a.handleHealthz)

	return r
}

func (a *API) handleAppend(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req, err := types.DecodeAppendRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ev, err := a.d.Append(req.Value)
	if err != nil {
		if errors.Is(err, types.ErrBusy) || errors.Is(err, types.ErrClosed) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (a *API) handleRead(w http.ResponseWriter, r *http.Request) {
	var events []eventlog.Event
	switch order := r.URL.Query().Get("order"); order {
	case "", "local":
		events = a.d.Read()
	case "causal":
		events = a.d.ReadSorted()
	default:
		writeError(w, http.StatusBadRequest, errors.New("order must be local or causal"))
		return
	}
	if events == nil {
		events = []eventlog.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *API) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	msg, err := types.DecodeMessage(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.d.Message(msg); err != nil {
		log.Printf("[%s] Message from %s rejected: %v", a.nodeID, msg.Sender, err)
		if errors.Is(err, types.ErrUnknownNode) || errors.Is(err, clock.ErrKindMismatch) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleClock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.d.Status())
}

func (a *API) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers := []types.PeerStatus{}
	if a.peers != nil {
		peers = a.peers.Snapshot()
	}
	writeJSON(w, http.StatusOK, peers)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, types.ErrorResponse{Error: err.Error()})
}
