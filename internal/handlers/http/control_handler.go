package http

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
	"callcore/pkg/errors"
	"callcore/pkg/logger"
	"callcore/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CallController is the part of the call manager driven by the control API.
type CallController interface {
	OutgoingCall(recipient domain.RecipientID, offerType domain.OfferType)
	AcceptCall(answerWithVideo bool)
	DenyCall()
	LocalHangup()
	SetMuteAudio(muted bool)
	SetEnableVideo(enable bool)
	SetSpeakerAudio(speaker bool)
	SetBluetoothAudio(bluetooth bool)
	FlipCamera()
	IsInCall(reply func(inCall bool))
	ScreenOff()
	WiredHeadsetChange(present bool)
	BluetoothChange(available bool)
	NetworkChange(available bool)
	PstnCallStateChanged(offHook bool)
	CurrentViewModel(ctx context.Context) (domain.WebRtcViewModel, error)
}

type IdentityTrust interface {
	Trust(recipient domain.RecipientID, key []byte) error
}

// DeviceControls are the headless stand-ins for OS state the API reports.
type DeviceControls interface {
	SetForeground(foreground bool)
	SetOffHook(offHook bool)
	SetWiredHeadset(plugged bool)
}

type Contacts interface {
	IsBlocked(recipient domain.RecipientID) bool
	Accept(recipient domain.RecipientID)
	Block(recipient domain.RecipientID)
	Unblock(recipient domain.RecipientID)
}

type ControlHandler struct {
	calls    CallController
	callLog  ports.CallLogRepository
	trust    IdentityTrust
	devices  DeviceControls
	contacts Contacts
	log      *logger.ContextLogger
	logLimit int
	timeout  time.Duration
}

func NewControlHandler(
	calls CallController,
	callLog ports.CallLogRepository,
	trust IdentityTrust,
	devices DeviceControls,
	contacts Contacts,
	logLimit int,
	log *logger.ContextLogger,
) *ControlHandler {
	if logLimit <= 0 {
		logLimit = 100
	}
	if log == nil {
		log = logger.NewContextLogger(zap.NewNop())
	}
	return &ControlHandler{
		calls:    calls,
		callLog:  callLog,
		trust:    trust,
		devices:  devices,
		contacts: contacts,
		log:      log,
		logLimit: logLimit,
		timeout:  5 * time.Second,
	}
}

func (h *ControlHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.GET("/call", h.GetState)
		api.POST("/call", h.StartCall)
		api.POST("/call/accept", h.AcceptCall)
		api.POST("/call/deny", h.DenyCall)
		api.POST("/call/hangup", h.Hangup)
		api.GET("/call/active", h.IsInCall)

		api.PUT("/call/microphone", h.SetMicrophone)
		api.PUT("/call/video", h.SetVideo)
		api.PUT("/call/speaker", h.SetSpeaker)
		api.PUT("/call/bluetooth", h.SetBluetooth)
		api.POST("/call/camera/flip", h.FlipCamera)

		api.POST("/device/screen-off", h.ScreenOff)
		api.PUT("/device/wired-headset", h.WiredHeadset)
		api.PUT("/device/bluetooth", h.BluetoothAvailable)
		api.PUT("/device/network", h.Network)
		api.PUT("/device/pstn", h.Pstn)
		api.PUT("/device/foreground", h.Foreground)

		api.GET("/calls", h.ListCallLog)

		api.PUT("/recipients/:recipient/identity", h.TrustIdentity)
		api.POST("/recipients/:recipient/accept", h.AcceptRequest)
		api.PUT("/recipients/:recipient/block", h.Block)
		api.DELETE("/recipients/:recipient/block", h.Unblock)
	}
}

type StartCallRequest struct {
	Recipient string `json:"recipient" binding:"required,max=128"`
	Video     bool   `json:"video"`
}

type ToggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type TrustRequest struct {
	IdentityKey []byte `json:"identity_key" binding:"required"`
}

func (h *ControlHandler) GetState(c *gin.Context) {
	vm, err := h.currentViewModel(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": vm})
}

func (h *ControlHandler) StartCall(c *gin.Context) {
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateRecipientID(req.Recipient); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	recipient := domain.RecipientID(req.Recipient)
	ctx := logger.WithRecipient(c.Request.Context(), req.Recipient)
	if h.contacts != nil && h.contacts.IsBlocked(recipient) {
		h.log.LogWarn(ctx, "refusing to dial blocked recipient")
		_ = c.Error(errors.NewRecipientBlockedError(req.Recipient))
		return
	}

	offerType := domain.OfferTypeAudio
	if req.Video {
		offerType = domain.OfferTypeVideo
	}
	h.log.LogInfo(ctx, "placing call", zap.String("offer_type", string(offerType)))
	h.calls.OutgoingCall(recipient, offerType)
	c.JSON(http.StatusAccepted, gin.H{"status": "dialing", "recipient": recipient})
}

func (h *ControlHandler) AcceptCall(c *gin.Context) {
	var req struct {
		Video bool `json:"video"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(errors.NewInvalidInputError("invalid request format"))
			return
		}
	}
	ctx, ok := h.requireCall(c)
	if !ok {
		return
	}
	h.log.LogInfo(ctx, "accepting call", zap.Bool("video", req.Video))
	h.calls.AcceptCall(req.Video)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepting"})
}

func (h *ControlHandler) DenyCall(c *gin.Context) {
	ctx, ok := h.requireCall(c)
	if !ok {
		return
	}
	h.log.LogInfo(ctx, "denying call")
	h.calls.DenyCall()
	c.JSON(http.StatusAccepted, gin.H{"status": "denying"})
}

func (h *ControlHandler) Hangup(c *gin.Context) {
	ctx, ok := h.requireCall(c)
	if !ok {
		return
	}
	h.log.LogInfo(ctx, "hanging up")
	h.calls.LocalHangup()
	c.JSON(http.StatusAccepted, gin.H{"status": "hanging_up"})
}

// IsInCall answers from the action queue, so it reflects every action
// submitted before it.
func (h *ControlHandler) IsInCall(c *gin.Context) {
	reply := make(chan bool, 1)
	h.calls.IsInCall(func(inCall bool) { reply <- inCall })

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	select {
	case inCall := <-reply:
		c.JSON(http.StatusOK, gin.H{"in_call": inCall})
	case <-ctx.Done():
		h.log.LogDebug(ctx, "in-call query timed out")
		_ = c.Error(errors.NewTimeoutError("in-call query"))
	}
}

func (h *ControlHandler) SetMicrophone(c *gin.Context) {
	h.toggle(c, func(enabled bool) { h.calls.SetMuteAudio(!enabled) })
}

func (h *ControlHandler) SetVideo(c *gin.Context) {
	h.toggle(c, h.calls.SetEnableVideo)
}

func (h *ControlHandler) SetSpeaker(c *gin.Context) {
	h.toggle(c, h.calls.SetSpeakerAudio)
}

func (h *ControlHandler) SetBluetooth(c *gin.Context) {
	h.toggle(c, h.calls.SetBluetoothAudio)
}

func (h *ControlHandler) FlipCamera(c *gin.Context) {
	h.calls.FlipCamera()
	c.Status(http.StatusAccepted)
}

func (h *ControlHandler) ScreenOff(c *gin.Context) {
	h.calls.ScreenOff()
	c.Status(http.StatusAccepted)
}

func (h *ControlHandler) WiredHeadset(c *gin.Context) {
	h.toggle(c, func(plugged bool) {
		if h.devices != nil {
			h.devices.SetWiredHeadset(plugged)
		}
		h.calls.WiredHeadsetChange(plugged)
	})
}

func (h *ControlHandler) BluetoothAvailable(c *gin.Context) {
	h.toggle(c, h.calls.BluetoothChange)
}

func (h *ControlHandler) Network(c *gin.Context) {
	h.toggle(c, h.calls.NetworkChange)
}

func (h *ControlHandler) Pstn(c *gin.Context) {
	h.toggle(c, func(offHook bool) {
		if h.devices != nil {
			h.devices.SetOffHook(offHook)
		}
		h.calls.PstnCallStateChanged(offHook)
	})
}

func (h *ControlHandler) Foreground(c *gin.Context) {
	h.toggle(c, func(foreground bool) {
		if h.devices != nil {
			h.devices.SetForeground(foreground)
		}
	})
}

func (h *ControlHandler) ListCallLog(c *gin.Context) {
	limit := h.logLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > h.logLimit {
			_ = c.Error(errors.NewInvalidInputError("limit must be between 1 and " + strconv.Itoa(h.logLimit)))
			return
		}
		limit = n
	}

	var (
		entries []domain.CallLogEntry
		err     error
	)
	if recipient := c.Query("recipient"); recipient != "" {
		if verr := validation.ValidateRecipientID(recipient); verr != nil {
			_ = c.Error(errors.NewInvalidInputError(verr.Error()))
			return
		}
		entries, err = h.callLog.ListByRecipient(c.Request.Context(), domain.RecipientID(recipient), limit)
	} else {
		entries, err = h.callLog.List(c.Request.Context(), limit)
	}
	if err != nil {
		h.log.LogError(c.Request.Context(), err, "failed to read call log")
		_ = c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to read call log", http.StatusInternalServerError))
		return
	}
	if entries == nil {
		entries = []domain.CallLogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"calls": entries})
}

// TrustIdentity accepts a recipient's changed identity key after the user
// verified it.
func (h *ControlHandler) TrustIdentity(c *gin.Context) {
	recipient, ok := h.recipientParam(c)
	if !ok {
		return
	}
	var req TrustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateIdentityKey(req.IdentityKey); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := h.trust.Trust(recipient, req.IdentityKey); err != nil {
		h.log.LogWarn(logger.WithRecipient(c.Request.Context(), string(recipient)), "identity key rejected", zap.Error(err))
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "trusted", "recipient": recipient})
}

func (h *ControlHandler) AcceptRequest(c *gin.Context) {
	if recipient, ok := h.recipientParam(c); ok {
		h.contacts.Accept(recipient)
		c.Status(http.StatusNoContent)
	}
}

func (h *ControlHandler) Block(c *gin.Context) {
	if recipient, ok := h.recipientParam(c); ok {
		h.log.LogInfo(logger.WithRecipient(c.Request.Context(), string(recipient)), "blocking recipient")
		h.contacts.Block(recipient)
		c.Status(http.StatusNoContent)
	}
}

func (h *ControlHandler) Unblock(c *gin.Context) {
	if recipient, ok := h.recipientParam(c); ok {
		h.contacts.Unblock(recipient)
		c.Status(http.StatusNoContent)
	}
}

func (h *ControlHandler) recipientParam(c *gin.Context) (domain.RecipientID, bool) {
	recipient := c.Param("recipient")
	if err := validation.ValidateRecipientID(recipient); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return "", false
	}
	return domain.RecipientID(recipient), true
}

func (h *ControlHandler) toggle(c *gin.Context, apply func(bool)) {
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidInputError("enabled is required"))
		return
	}
	apply(*req.Enabled)
	c.JSON(http.StatusAccepted, gin.H{"enabled": *req.Enabled})
}

// requireCall rejects call actions while the state machine is idle. The
// returned context carries the call being acted on for logging.
func (h *ControlHandler) requireCall(c *gin.Context) (context.Context, bool) {
	ctx := c.Request.Context()
	vm, err := h.currentViewModel(c)
	if err != nil {
		_ = c.Error(err)
		return ctx, false
	}
	if vm.State == domain.CallStateIdle {
		_ = c.Error(errors.NewNoActiveCallError())
		return ctx, false
	}
	ctx = logger.WithRecipient(ctx, string(vm.Recipient))
	if vm.CallID.IsSet() {
		ctx = logger.WithCallID(ctx, strconv.FormatUint(uint64(vm.CallID), 10))
	}
	return ctx, true
}

func (h *ControlHandler) currentViewModel(c *gin.Context) (domain.WebRtcViewModel, error) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	vm, err := h.calls.CurrentViewModel(ctx)
	switch {
	case err == nil:
		return vm, nil
	case stderrors.Is(err, domain.ErrManagerStopped):
		return vm, errors.NewCallCoreStoppedError()
	case stderrors.Is(err, context.DeadlineExceeded):
		return vm, errors.NewTimeoutError("state query")
	default:
		return vm, err
	}
}
