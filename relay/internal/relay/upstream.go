package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"spriteconsole/core/streaming"
	"spriteconsole/relay/internal/metrics"
)

// UpstreamDialer opens the exec WebSocket. *websocket.Dialer satisfies it.
type UpstreamDialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// UpstreamURL addresses the exec endpoint for t. Resuming an existing
// session uses its id; otherwise a new TTY session running command is
// requested with t's geometry.
func UpstreamURL(base string, t Target, command string) string {
	base = strings.TrimRight(base, "/")
	name := url.PathEscape(t.Sprite)
	if t.SessionID != "" {
		return fmt.Sprintf("%s/sprites/%s/exec/%s", base, name, url.PathEscape(t.SessionID))
	}

	q := url.Values{}
	q.Set("cmd", command)
	q.Set("tty", "true")
	q.Set("cols", strconv.Itoa(t.Cols))
	q.Set("rows", strconv.Itoa(t.Rows))
	return fmt.Sprintf("%s/sprites/%s/exec?%s", base, name, q.Encode())
}

// dialUpstream connects to the exec endpoint. An upstream that refuses the
// credential is reported as a policy violation so clients stop retrying;
// any other failure is an internal error.
func (h *Handler) dialUpstream(t Target, logger zerolog.Logger) (*websocket.Conn, *RejectError) {
	ctx, cancel := context.WithTimeout(h.ctx, h.cfg.Upstream.DialTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.Credential)

	target := UpstreamURL(h.cfg.Upstream.BaseURL, t, h.cfg.Upstream.Command)
	start := time.Now()
	conn, resp, err := h.dialer.DialContext(ctx, target, header)
	elapsed := time.Since(start)

	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
			if resp.Body != nil {
				resp.Body.Close()
			}
		}
		logger.Error().Err(err).Int("status", status).Dur("elapsed", elapsed).Msg("Failed to dial sprite exec endpoint")

		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			metrics.UpstreamDialDuration.WithLabelValues("unauthorized").Observe(elapsed.Seconds())
			return nil, policyViolation("upstream_unauthorized", "Unauthorized")
		}
		metrics.UpstreamDialDuration.WithLabelValues("error").Observe(elapsed.Seconds())
		return nil, &RejectError{
			Code:   websocket.CloseInternalServerErr,
			Reason: streaming.UpstreamErrorReason,
			Label:  "dial_failed",
		}
	}

	metrics.UpstreamDialDuration.WithLabelValues("ok").Observe(elapsed.Seconds())
	logger.Debug().Dur("elapsed", elapsed).Msg("Connected to sprite exec endpoint")
	return conn, nil
}
