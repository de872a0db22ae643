package web

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/pborman/uuid"

	"github.com/unionhall/referral-app/log"
	"github.com/unionhall/referral-app/referral/constants"
	"github.com/unionhall/referral-app/referral/models"
	"github.com/unionhall/referral-app/referral/registration"
)

// API serves the read side of the engine. All writes go through the CLI and
// the job queue.
type API struct {
	manager registration.Manager
	repo    models.Repository
	db      *sql.DB
}

func NewAPI(manager registration.Manager, repo models.Repository, db *sql.DB) *API {
	return &API{manager: manager, repo: repo, db: db}
}

// QueueEntry is one registration as rendered to clients. Priority numbers are
// always strings with two decimal places; they are never floats on the wire.
type QueueEntry struct {
	Position       int       `json:"position"`
	RegistrationID uint      `json:"registration_id"`
	WorkerID       string    `json:"worker_id"`
	PriorityNumber string    `json:"priority_number"`
	Status         string    `json:"status"`
	CheckMarks     int       `json:"check_marks"`
	LastReSignAt   time.Time `json:"last_re_sign_at"`
}

type QueueResponse struct {
	BookID  string       `json:"book_id"`
	Entries []QueueEntry `json:"entries"`
}

type HistoryEntry struct {
	Action       string    `json:"action"`
	BookID       string    `json:"book_id,omitempty"`
	PrevStatus   string    `json:"prev_status,omitempty"`
	NewStatus    string    `json:"new_status,omitempty"`
	PrevPosition string    `json:"prev_position,omitempty"`
	NewPosition  string    `json:"new_position,omitempty"`
	Actor        string    `json:"actor"`
	Reason       string    `json:"reason,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

type HistoryResponse struct {
	WorkerID string         `json:"worker_id"`
	Records  []HistoryEntry `json:"records"`
}

type RequestResponse struct {
	ID                string    `json:"id"`
	EmployerID        string    `json:"employer_id"`
	BookID            string    `json:"book_id"`
	WorkersRequested  int       `json:"workers_requested"`
	WorkersDispatched int       `json:"workers_dispatched"`
	Status            string    `json:"status"`
	ShortCall         bool      `json:"short_call"`
	ByName            bool      `json:"by_name"`
	ReceivedAt        time.Time `json:"received_at"`
}

func (api *API) listBooks(w http.ResponseWriter, r *http.Request) {
	books, err := api.repo.GetActiveBooks(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, books)
}

func (api *API) bookQueue(w http.ResponseWriter, r *http.Request) {
	bookID := uuid.Parse(chi.URLParam(r, "bookID"))
	if bookID == nil {
		http.Error(w, "invalid book ID", http.StatusBadRequest)
		return
	}

	regs, err := api.manager.Queue(r.Context(), bookID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := QueueResponse{BookID: bookID.String(), Entries: []QueueEntry{}}
	for i, reg := range regs {
		resp.Entries = append(resp.Entries, QueueEntry{
			Position:       i + 1,
			RegistrationID: reg.ID,
			WorkerID:       reg.WorkerID,
			PriorityNumber: reg.PriorityNumber.StringFixed(2),
			Status:         string(reg.Status),
			CheckMarks:     reg.CheckMarkCount,
			LastReSignAt:   reg.LastReSignAt,
		})
	}

	render.JSON(w, r, resp)
}

func (api *API) workerHistory(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")

	recs, err := api.manager.History(r.Context(), workerID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := HistoryResponse{WorkerID: workerID, Records: []HistoryEntry{}}
	for _, rec := range recs {
		entry := HistoryEntry{
			Action:     string(rec.Action),
			PrevStatus: rec.PrevStatus,
			NewStatus:  rec.NewStatus,
			Actor:      rec.Actor,
			Reason:     rec.Reason,
			RecordedAt: rec.RecordedAt,
		}
		if rec.BookID != nil {
			entry.BookID = rec.BookID.String()
		}
		if rec.PrevPosition.Valid {
			entry.PrevPosition = rec.PrevPosition.Decimal.StringFixed(2)
		}
		if rec.NewPosition.Valid {
			entry.NewPosition = rec.NewPosition.Decimal.StringFixed(2)
		}
		resp.Records = append(resp.Records, entry)
	}

	render.JSON(w, r, resp)
}

func (api *API) openRequests(w http.ResponseWriter, r *http.Request) {
	var bookID uuid.UUID
	if raw := r.URL.Query().Get("bookId"); raw != "" {
		if bookID = uuid.Parse(raw); bookID == nil {
			http.Error(w, "invalid bookId", http.StatusBadRequest)
			return
		}
	}

	reqs, err := api.repo.GetOpenLaborRequests(r.Context(), bookID, time.Time{})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := []RequestResponse{}
	for _, req := range reqs {
		resp = append(resp, RequestResponse{
			ID:                req.ID.String(),
			EmployerID:        req.EmployerID,
			BookID:            req.BookID.String(),
			WorkersRequested:  req.WorkersRequested,
			WorkersDispatched: req.WorkersDispatched,
			Status:            string(req.Status),
			ShortCall:         req.ShortCall,
			ByName:            req.ByName,
			ReceivedAt:        req.ReceivedAt,
		})
	}

	render.JSON(w, r, resp)
}

func (api *API) getVersion(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"version": constants.Version})
}

func (api *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := api.db.Ping(); err != nil {
		log.API.Error(err)
		w.WriteHeader(http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]string{"database": "error"})
		return
	}
	render.JSON(w, r, map[string]string{"database": "ok"})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch err.(type) {
	case *models.NotFoundError:
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		log.API.Error(err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
