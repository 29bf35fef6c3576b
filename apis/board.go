package apis

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/depboard/depboard/broadcast"
	"github.com/depboard/depboard/common"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// APIRestPushServerHandler REST / WebSocket handler for the departure board
type APIRestPushServerHandler struct {
	goutils.RestAPIHandler
	controller broadcast.Controller
	validate   *validator.Validate
	upgrader   websocket.Upgrader
}

// GetAPIRestPushServerHandler define APIRestPushServerHandler
func GetAPIRestPushServerHandler(
	httpConfig *common.HTTPConfig, controller broadcast.Controller,
) (APIRestPushServerHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "push-server",
	}
	return APIRestPushServerHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		controller: controller,
		validate:   validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Board clients are widgets and web views on other origins
				return true
			},
		},
	}, nil
}

// Write logging support
func (h APIRestPushServerHandler) Write(p []byte) (n int, err error) {
	log.WithFields(h.LogTags).Infof("%s", p)
	return len(p), nil
}

// =======================================================================
// Departure board subscription

var (
	errNoStopList   = fmt.Errorf("handshake missing stop list")
	errNotTextFrame = fmt.Errorf("only text frames are accepted")
)

// stopListSchema handshake / subscribe message schema for stop lists
type stopListSchema struct {
	Stops []string `json:"stops" validate:"required,min=1,dive,required"`
}

// subscribeRequest a mid-connection subscription replace instruction
type subscribeRequest struct {
	Subscribe []string `json:"subscribe" validate:"required,min=1,dive,required"`
}

// -----------------------------------------------------------------------

// ServeBoard godoc
// @Summary Open a departure board stream
// @Description Upgrades the request to a WebSocket and pushes departure
// updates for the requested stops. The "stops" query field must carry a
// JSON-encoded array of stop IDs. Mid-connection, a client may send
// {"subscribe": [...]} to replace its stop list wholesale.
// @tags Board
// @Produce json
// @Param Depboard-Request-ID header string false "User provided request ID to match against logs"
// @Param stops query string true "JSON-encoded array of stop IDs"
// @Success 101 {string} string "switching protocols"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/board [get]
func (h APIRestPushServerHandler) ServeBoard(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	stops, err := h.parseHandshakeStops(r)
	if err != nil {
		// Reject before any upgrade; no connection state is created
		msg := "Invalid stop list in handshake"
		log.WithError(err).WithFields(localLogTags).Errorf(msg)
		respBody := h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		if writeErr := h.WriteRESTResponse(
			w, http.StatusBadRequest, respBody, nil,
		); writeErr != nil {
			log.WithError(writeErr).WithFields(localLogTags).Error("Failed to form response")
		}
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade() already replied to the client
		log.WithError(err).WithFields(localLogTags).Error("WebSocket upgrade failed")
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	clientID := uuid.New().String()
	sender := &wsBoardSender{conn: conn}
	if err := h.controller.ClientOpened(r.Context(), clientID, stops, sender); err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf(
			"Unable to register client %s", clientID,
		)
		return
	}
	defer func() {
		if err := h.controller.ClientClosed(clientID); err != nil {
			log.WithError(err).WithFields(localLogTags).Errorf(
				"Teardown of client %s failed", clientID,
			)
		}
	}()

	h.clientReadLoop(conn, clientID, localLogTags)
}

// clientReadLoop consume subscription messages until the connection dies.
// A malformed message closes only this connection; everyone else keeps
// receiving updates.
func (h APIRestPushServerHandler) clientReadLoop(
	conn *websocket.Conn, clientID string, logTags log.Fields,
) {
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			// Client went away
			log.WithFields(logTags).Debugf("Client %s read loop ended: %s", clientID, err)
			return
		}

		newStops, err := h.parseSubscribeMessage(msgType, payload)
		if err != nil {
			log.WithError(err).WithFields(logTags).Errorf(
				"Closing client %s on protocol error", clientID,
			)
			closeFrame := websocket.FormatCloseMessage(
				websocket.CloseInternalServerErr, err.Error(),
			)
			_ = conn.WriteMessage(websocket.CloseMessage, closeFrame)
			return
		}

		if err := h.controller.ClientResubscribed(clientID, newStops); err != nil {
			log.WithError(err).WithFields(logTags).Errorf(
				"Unable to update subscription of %s", clientID,
			)
		}
	}
}

// parseHandshakeStops read and validate the stop list of the handshake
func (h APIRestPushServerHandler) parseHandshakeStops(r *http.Request) ([]string, error) {
	raw := r.URL.Query().Get("stops")
	if raw == "" {
		return nil, errNoStopList
	}
	var stops []string
	if err := json.Unmarshal([]byte(raw), &stops); err != nil {
		return nil, err
	}
	if err := h.validate.Struct(&stopListSchema{Stops: stops}); err != nil {
		return nil, err
	}
	return stops, nil
}

// parseSubscribeMessage validate one inbound frame as a subscription replace
func (h APIRestPushServerHandler) parseSubscribeMessage(
	msgType int, payload []byte,
) ([]string, error) {
	if msgType != websocket.TextMessage {
		return nil, errNotTextFrame
	}
	var request subscribeRequest
	if err := json.Unmarshal(payload, &request); err != nil {
		return nil, err
	}
	if err := h.validate.Struct(&request); err != nil {
		return nil, err
	}
	return request.Subscribe, nil
}

// ServeBoardHandler Wrapper around ServeBoard
func (h APIRestPushServerHandler) ServeBoardHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ServeBoard(w, r)
	}
}

// -----------------------------------------------------------------------

// wsBoardSender implements broadcast.Sender over a WebSocket connection.
// Writes are serialized; gorilla/websocket allows only one concurrent writer.
type wsBoardSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// SendBoard push one board update as a single text frame
func (s *wsBoardSender) SendBoard(update broadcast.BoardUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// =======================================================================
// Health Checks

// -----------------------------------------------------------------------

// Alive godoc
// @Summary For board REST API liveness check
// @Description Will return success to indicate board REST API module is live
// @tags Board
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {string} string "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /alive [get]
func (h APIRestPushServerHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestPushServerHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// -----------------------------------------------------------------------

// Ready godoc
// @Summary For board REST API readiness check
// @Description Will return success if board REST API module is ready for use
// @tags Board
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {string} string "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /ready [get]
func (h APIRestPushServerHandler) Ready(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// ReadyHandler Wrapper around Ready
func (h APIRestPushServerHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
