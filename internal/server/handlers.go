package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"github.com/MagloireKITIO/findam-rencontre/internal/notify"
	"github.com/MagloireKITIO/findam-rencontre/internal/storage"
)

// Notifier is the slice of the notification fan-out service the HTTP surface needs.
type Notifier interface {
	Send(ctx context.Context, p notify.Params) (*storage.Notification, error)
	RegisterDevice(ctx context.Context, userID int64, token string, platform storage.Platform, deviceName string) (storage.DeviceToken, error)
	UnregisterDevice(ctx context.Context, token string) error
}

type authenticator interface {
	Authenticate(r *http.Request) (storage.User, error)
}

type parsers struct {
	registerDevicePool   fastjson.ParserPool
	unregisterDevicePool fastjson.ParserPool
}

type handler struct {
	logger   *zap.SugaredLogger
	auth     authenticator
	notifier Notifier
	parsers  parsers
}

// registerDevice handles HTTP requests on "/devices/register" endpoint.
// Registering a token already owned by someone else reassigns it to the caller.
func (h *handler) registerDevice(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Authenticate(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.registerDevicePool.Get()
	defer h.parsers.registerDevicePool.Put(parser)
	v, _ := parser.ParseBytes(body)

	if !v.Exists("token") {
		http.Error(w, "Missing Field \"token\"", http.StatusBadRequest)
		return
	}

	token := string(v.GetStringBytes("token"))
	if len(token) == 0 {
		http.Error(w, "Field \"token\" must be a string and have non-zero length", http.StatusBadRequest)
		return
	}

	platform := storage.Platform(v.GetStringBytes("platform"))
	switch platform {
	case storage.PlatformAndroid, storage.PlatformIOS, storage.PlatformWeb:
	default:
		http.Error(w, "Field \"platform\" must be one of ANDROID, IOS, WEB", http.StatusBadRequest)
		return
	}

	deviceName := string(v.GetStringBytes("device_name"))

	device, err := h.notifier.RegisterDevice(r.Context(), user.ID, token, platform, deviceName)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	payload := []byte(`{"id":` + strconv.FormatInt(device.ID, 10) + `}`)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if _, err = w.Write(payload); err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

// unregisterDevice handles HTTP requests on "/devices/unregister" endpoint
func (h *handler) unregisterDevice(w http.ResponseWriter, r *http.Request) {
	_, err := h.auth.Authenticate(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.unregisterDevicePool.Get()
	defer h.parsers.unregisterDevicePool.Put(parser)
	v, _ := parser.ParseBytes(body)

	token := string(v.GetStringBytes("token"))
	if len(token) == 0 {
		http.Error(w, "Missing Field \"token\"", http.StatusBadRequest)
		return
	}

	err = h.notifier.UnregisterDevice(r.Context(), token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			http.Error(w, "Unknown device token", http.StatusBadRequest)
			return
		}
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err = w.Write([]byte(`{"status":"success"}`)); err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

// testNotification handles HTTP requests on "/notifications/test" endpoint,
// fanning out a SYSTEM notification to the caller's own connections
func (h *handler) testNotification(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Authenticate(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	actionURL := "/profile"
	actionText := "Voir"
	notification, err := h.notifier.Send(r.Context(), notify.Params{
		RecipientID: user.ID,
		Type:        storage.NotificationSystem,
		ContextType: "SYSTEM",
		ContextID:   0,
		Title:       "Notification de test",
		Message:     "Ceci est une notification de test.",
		ActionURL:   &actionURL,
		ActionText:  &actionText,
	})
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if notification == nil {
		http.Error(w, "SYSTEM notifications are disabled for this user", http.StatusBadRequest)
		return
	}

	payload := []byte(`{"id":` + strconv.FormatInt(notification.ID, 10) + `}`)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if _, err = w.Write(payload); err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}
