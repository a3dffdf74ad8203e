package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// teamsSDKScript loads the Teams client SDK into the popup pages so
// they can talk back to the embedding Teams client.
const teamsSDKScript = `<script src="https://statics.teams.cdn.office.net/sdk/v1.6.0/js/MicrosoftTeams.min.js" integrity="sha384-mhp2E+BLMiZLe7rDIzj19WjgXJeI32NkPvrvvZBrMi5IvWup/1NUfS5xuYN5S3VT" crossorigin="anonymous"></script>`

const (
	exchangeTimeout = 15 * time.Second

	stateCookie = "quire_auth_state"
	stateTTL    = 10 * time.Minute
)

// WebHandler serves the two browser legs of the sign-in flow. Teams
// opens AuthStart in a popup, the provider redirects the popup back to
// AuthEnd, and AuthEnd hands the session a verification code through
// the Teams SDK.
type WebHandler struct {
	oauth  *OAuthClient
	broker *CodeBroker
	logger zerolog.Logger
}

// NewWebHandler creates the sign-in page handlers.
func NewWebHandler(oauth *OAuthClient, broker *CodeBroker, logger zerolog.Logger) *WebHandler {
	return &WebHandler{oauth: oauth, broker: broker, logger: logger}
}

// AuthStart serves the page that forwards the popup to the provider's
// authorization URL. A state nonce is pinned in a cookie so AuthEnd can
// reject redirects this popup never initiated.
func (h *WebHandler) AuthStart(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   true,
	})
	body := fmt.Sprintf(`<html><head><title>Sign In</title></head><body>%s<script type="text/javascript">microsoftTeams.initialize();window.location.assign(%q);</script></body></html>`,
		teamsSDKScript, h.oauth.AuthCodeURL(state))
	writeHTML(w, body)
}

// AuthEnd receives the provider redirect. On success it exchanges the
// authorization code for a token, binds it to a verification code, and
// reports that code to the Teams client; any failure is reported
// through notifyFailure so the chat side can tell the user.
func (h *WebHandler) AuthEnd(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if !h.stateValid(r, query.Get("state")) {
		h.logger.Warn().Msg("Authorization redirect with bad state")
		h.finish(w, "microsoftTeams.authentication.notifyFailure();")
		return
	}
	code := query.Get("code")
	if code == "" {
		// e.g. ?error=access_denied&error_description=The+user+denied+...
		h.logger.Info().Str("error", query.Get("error")).Msg("Authorization denied by provider")
		h.finish(w, fmt.Sprintf("microsoftTeams.authentication.notifyFailure(%q);", query.Get("error_description")))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), exchangeTimeout)
	defer cancel()

	token, err := h.oauth.Exchange(ctx, code)
	if err != nil {
		h.logger.Error().Err(err).Msg("Authorization code exchange failed")
		h.finish(w, "microsoftTeams.authentication.notifyFailure();")
		return
	}

	verification, err := h.broker.Issue(token)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to issue verification code")
		h.finish(w, "microsoftTeams.authentication.notifyFailure();")
		return
	}

	h.finish(w, fmt.Sprintf("microsoftTeams.authentication.notifySuccess(%q);", verification))
}

func (h *WebHandler) stateValid(r *http.Request, state string) bool {
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" {
		return false
	}
	return state == cookie.Value
}

func (h *WebHandler) finish(w http.ResponseWriter, notify string) {
	body := fmt.Sprintf(`<html><head><title>Quire for Teams Authentication</title></head><body>%s<script type="text/javascript">microsoftTeams.initialize();%s</script></body></html>`,
		teamsSDKScript, notify)
	writeHTML(w, body)
}

func writeHTML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, body)
}
