package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"partnerqueue/internal/domain"
	"partnerqueue/internal/handlers"
	"partnerqueue/internal/models"
	"partnerqueue/internal/tenant"
)

const maxExpenseBody = 1 << 20

// ProducerKeys lists the operation keys the expense endpoints enqueue.
// They are checked against the handler registry at startup.
func ProducerKeys() []string {
	return []string{
		handlers.KeyExpenseCreate,
		handlers.KeyExpenseUpdateByID,
		handlers.KeyExpenseUpdateByNumber,
		handlers.KeyExpenseDelete,
		handlers.KeyExpenseRoomAdd,
		handlers.KeyExpenseRoomUpdate,
		handlers.KeyExpenseRoomDelete,
	}
}

// deferred describes the queue item a write endpoint produces in queue mode.
type deferred struct {
	key         string
	payloadType string
	targetID    *int64
	businessRef *string
	body        []byte
}

// enqueueIfQueued records the write and answers 202 when queue mode is on for the
// bound tenant. It reports whether the response was written.
func (s *HTTPServer) enqueueIfQueued(w http.ResponseWriter, r *http.Request, d deferred) bool {
	t, _ := tenant.FromContext(r.Context())
	if !s.deps.Settings.ForTenant(t).EnableQueueMode {
		return false
	}

	key := d.key
	ref, err := s.deps.Queue.Enqueue(r.Context(), models.EnqueueRequest{
		Operation:    r.URL.Path,
		OperationKey: &key,
		TargetID:     d.targetID,
		PayloadType:  models.StringPtr(d.payloadType),
		BusinessRef:  d.businessRef,
		PayloadJSON:  string(d.body),
		HotelID:      models.Int64Ptr(t.ID),
	})
	if err != nil {
		s.fail(w, r, err)
		return true
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "requestRef": ref})
	return true
}

func (s *HTTPServer) expenseService(w http.ResponseWriter, r *http.Request) (domain.ExpenseService, bool) {
	t, _ := tenant.FromContext(r.Context())
	db, err := s.deps.Tenants.Open(r.Context(), t)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return s.deps.Expenses(db), true
}

// readBody reads and validates a JSON body into v, keeping the raw bytes for the queue.
func readBody(w http.ResponseWriter, r *http.Request, v any) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxExpenseBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	return raw, true
}

func (s *HTTPServer) listExpenses(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), 100)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	svc, ok := s.expenseService(w, r)
	if !ok {
		return
	}
	list, err := svc.List(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (s *HTTPServer) getExpense(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	svc, ok := s.expenseService(w, r)
	if !ok {
		return
	}
	e, err := svc.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *HTTPServer) createExpense(w http.ResponseWriter, r *http.Request) {
	var in models.CreateExpenseInput
	raw, ok := readBody(w, r, &in)
	if !ok {
		return
	}
	var ref *string
	if in.ExpenseNo != nil {
		ref = models.StringPtr(strings.TrimSpace(*in.ExpenseNo))
	}
	if s.enqueueIfQueued(w, r, deferred{key: handlers.KeyExpenseCreate, payloadType: "CreateExpenseInput", businessRef: ref, body: raw}) {
		return
	}

	svc, ok := s.expenseService(w, r)
	if !ok {
		return
	}
	e, err := svc.Create(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *HTTPServer) updateExpense(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in models.UpdateExpenseInput
	raw, ok := readBody(w, r, &in)
	if !ok {
		return
	}
	if s.enqueueIfQueued(w, r, deferred{key: handlers.KeyExpenseUpdateByID, payloadType: "UpdateExpenseInput", targetID: &id, body: raw}) {
		return
	}

	svc, ok := s.expenseService(w, r)
	if !ok {
		return
	}
	e, err := svc.Update(r.Context(), id, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *HTTPServer) updateExpenseByNumber(w http.ResponseWriter, r *http.Request) {
	number := strings.TrimSpace(chi.URLParam(r, "expenseNo"))
	if number == "" {
		writeError(w, http.StatusBadRequest, "invalid expenseNo")
		return
	}
	var in models.UpdateExpenseInput
	raw, ok := readBody(w, r, &in)
	if !ok {
		return
	}
	if s.enqueueIfQueued(w, r, deferred{key: handlers.KeyExpenseUpdateByNumber, payloadType: "UpdateExpenseInput", businessRef: &number, body: raw}) {
		return
	}

	svc, ok := s.expenseService(w, r)
	if !ok {
		return
	}
	e, err := svc.UpdateByNumber(r.Context(), number, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *HTTPServer) deleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.enqueueIfQueued(w, r, deferred{key: handlers.KeyExpenseDelete, targetID: &id, body: []byte("{}")}) {
		return
	}

	svc, ok := s.expenseService(w, r)
	if !ok {
		return
	}
	if err := svc.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) addExpenseRoom(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in models.CreateExpenseRoomInput
	raw, ok := readBody(w, r, &in)
	if !ok {
		return
	}
	if s.enqueueIfQueued(w, r, deferred{key: handlers.KeyExpenseRoomAdd, payloadType: "CreateExpenseRoomInput", targetID: &id, body: raw}) {
		return
	}

	svc, ok := s.expenseService(w, r)
	if !ok {
		return
	}
	room, err := svc.AddRoom(r.Context(), id, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (s *HTTPServer) updateExpenseRoom(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "roomId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in models.UpdateExpenseRoomInput
	raw, ok := readBody(w, r, &in)
	if !ok {
		return
	}
	if s.enqueueIfQueued(w, r, deferred{key: handlers.KeyExpenseRoomUpdate, payloadType: "UpdateExpenseRoomInput", targetID: &id, body: raw}) {
		return
	}

	svc, ok := s.expenseService(w, r)
	if !ok {
		return
	}
	room, err := svc.UpdateRoom(r.Context(), id, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *HTTPServer) deleteExpenseRoom(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "roomId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.enqueueIfQueued(w, r, deferred{key: handlers.KeyExpenseRoomDelete, targetID: &id, body: []byte("{}")}) {
		return
	}

	svc, ok := s.expenseService(w, r)
	if !ok {
		return
	}
	if err := svc.DeleteRoom(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
