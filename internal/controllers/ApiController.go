package controllers

import (
	"charsync/internal/models"
	"charsync/internal/providers"
	"charsync/internal/services"
	"charsync/internal/structures"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"

	json "github.com/goccy/go-json"
)

const (
	maxRequestBodySize = 1 << 20 // 1 MB
	maxImportBodySize  = 16 << 20
)

type ApiController struct {
	logger     providers.Logger
	registry   services.SessionRegistryInterface
	characters services.CharacterServiceInterface
	deviceName string
}

func NewApiController(logger providers.Logger, registry services.SessionRegistryInterface, characters services.CharacterServiceInterface, conf *structures.Config) *ApiController {
	return &ApiController{
		logger:     logger,
		registry:   registry,
		characters: characters,
		deviceName: conf.Device.Name,
	}
}

type sessionRequest struct {
	CharacterID int64  `json:"characterId"`
	EndpointID  string `json:"endpointId"`
	DeviceName  string `json:"deviceName"`
}

type sessionView struct {
	Status  models.SyncStatus    `json:"status"`
	Session services.SessionInfo `json:"session"`
}

type sessionsResponse struct {
	Active   int                    `json:"active"`
	Sessions map[string]sessionView `json:"sessions"`
}

type characterSummary struct {
	ID               int64             `json:"id"`
	GUID             string            `json:"guid"`
	Name             string            `json:"name"`
	LastModifiedDate int64             `json:"lastModifiedDate"`
	Status           models.SyncStatus `json:"syncStatus"`
}

type journalRequest struct {
	CharacterID   int64  `json:"characterId"`
	Category      string `json:"category"`
	PlayerMessage string `json:"playerMessage"`
	GMMessage     string `json:"gmMessage"`
}

type energyRequest struct {
	CharacterID int64  `json:"characterId"`
	Pool        string `json:"pool"`
	Delta       int    `json:"delta"`
	Reason      string `json:"reason"`
}

type createRequest struct {
	Name string `json:"name"`
}

func (ac *ApiController) writeJSON(w http.ResponseWriter, status int, v any) {
	gson, err := json.Marshal(v)
	if err != nil {
		ac.logger.Errorf(providers.TypeApp, "Encoding response: %s", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(gson)
}

func (ac *ApiController) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		ac.logger.Errorf(providers.GetLogTypeByRequestType(r.Method), "%s %s: %s", r.Method, r.URL.Path, err)
	}
	http.Error(w, err.Error(), status)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrUnknownCharacter):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrVersionIncompatible):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrTransport):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return false
	}
	return true
}

func characterID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	return id, err == nil && id > 0
}

func (ac *ApiController) localName(requested string) string {
	if requested != "" {
		return requested
	}
	return ac.deviceName
}

// GetSessions returns every known session with its status and the number of
// sessions with a connected peer.
func (ac *ApiController) GetSessions(w http.ResponseWriter, _ *http.Request) {
	statuses := ac.registry.Statuses()
	infos := ac.registry.Sessions()
	out := sessionsResponse{Sessions: make(map[string]sessionView, len(statuses))}
	for id, st := range statuses {
		if st.Active() {
			out.Active++
		}
		out.Sessions[strconv.FormatInt(id, 10)] = sessionView{Status: st, Session: infos[id]}
	}
	ac.writeJSON(w, http.StatusOK, out)
}

func (ac *ApiController) StartHost(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CharacterID <= 0 {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if err := ac.registry.StartHostSession(r.Context(), req.CharacterID, ac.localName(req.DeviceName)); err != nil {
		ac.writeError(w, r, err)
		return
	}
	ac.writeJSON(w, http.StatusAccepted, ac.registry.Status(req.CharacterID))
}

func (ac *ApiController) StartClient(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CharacterID <= 0 || req.EndpointID == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if err := ac.registry.StartClientSession(r.Context(), req.CharacterID, req.EndpointID, ac.localName(req.DeviceName)); err != nil {
		ac.writeError(w, r, err)
		return
	}
	ac.writeJSON(w, http.StatusAccepted, ac.registry.Status(req.CharacterID))
}

func (ac *ApiController) StopSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ac.registry.RemoveSession(req.CharacterID)
	w.WriteHeader(http.StatusNoContent)
}

func (ac *ApiController) GetHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := ac.registry.DiscoverHosts(r.Context())
	if err != nil {
		ac.writeError(w, r, err)
		return
	}
	ac.writeJSON(w, http.StatusOK, hosts)
}

func (ac *ApiController) ListCharacters(w http.ResponseWriter, r *http.Request) {
	all, err := ac.characters.List(r.Context())
	if err != nil {
		ac.writeError(w, r, err)
		return
	}
	out := make([]characterSummary, 0, len(all))
	for _, agg := range all {
		out = append(out, characterSummary{
			ID:               agg.Character.ID,
			GUID:             agg.Character.GUID,
			Name:             agg.Character.Name,
			LastModifiedDate: agg.Character.LastModifiedDate,
			Status:           ac.registry.Status(agg.Character.ID),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	ac.writeJSON(w, http.StatusOK, out)
}

// GetCharacter returns the aggregate with the journal newest first.
func (ac *ApiController) GetCharacter(w http.ResponseWriter, r *http.Request) {
	id, ok := characterID(r)
	if !ok {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	agg, err := ac.characters.Get(r.Context(), id)
	if err != nil {
		ac.writeError(w, r, err)
		return
	}
	agg.Journal = models.DisplayOrder(agg.Journal)
	ac.writeJSON(w, http.StatusOK, agg)
}

func (ac *ApiController) CreateCharacter(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decodeBody(w, r, &req) {
		return
	}
	agg, err := ac.characters.Create(r.Context(), req.Name)
	if err != nil {
		ac.writeError(w, r, err)
		return
	}
	ac.writeJSON(w, http.StatusCreated, agg)
}

func (ac *ApiController) ExportCharacter(w http.ResponseWriter, r *http.Request) {
	id, ok := characterID(r)
	if !ok {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	payload, err := ac.characters.Export(r.Context(), id)
	if err != nil {
		ac.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename=\"character-"+strconv.FormatInt(id, 10)+".json.gz\"")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (ac *ApiController) ImportCharacter(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	res, err := ac.characters.Import(r.Context(), payload)
	if err != nil {
		ac.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	ac.writeJSON(w, status, res)
}

func (ac *ApiController) AppendJournal(w http.ResponseWriter, r *http.Request) {
	var req journalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	agg, err := ac.characters.AppendJournal(r.Context(), req.CharacterID, req.Category, req.PlayerMessage, req.GMMessage)
	if err != nil {
		ac.writeError(w, r, err)
		return
	}
	ac.writeJSON(w, http.StatusOK, agg.Character)
}

func (ac *ApiController) ChangeEnergy(w http.ResponseWriter, r *http.Request) {
	var req energyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	agg, err := ac.characters.ChangeEnergy(r.Context(), req.CharacterID, req.Pool, req.Delta, req.Reason)
	if err != nil {
		ac.writeError(w, r, err)
		return
	}
	ac.writeJSON(w, http.StatusOK, agg.Character)
}
