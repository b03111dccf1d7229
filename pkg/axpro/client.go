package axpro

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/caretech/alarm-sync/internal/pkg/infrastructure/tracing"
	"github.com/samber/lo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("alarm-sync/axpro-client")

// ErrAuth covers login handshake failures: transport errors, non 2xx
// responses and malformed capability or login responses. The client never
// retries internally; the caller owns the retry policy.
var ErrAuth = fmt.Errorf("panel authentication failed")

// ErrTransport covers failures of the authenticated panel operations. A
// transport error invalidates the session on the caller's side.
var ErrTransport = fmt.Errorf("panel request failed")

// Session is the authenticated panel session, carried as the cookie issued
// by the login endpoint and replayed on subsequent requests.
type Session struct {
	Cookie string
}

func (s Session) Valid() bool {
	return s.Cookie != ""
}

// ZoneStatus is the raw per zone state reported by the panel.
type ZoneStatus struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Alarm bool   `json:"alarm"`
}

type Client interface {
	Login(ctx context.Context) (Session, error)
	ZoneStatus(ctx context.Context, session Session) ([]ZoneStatus, error)
	ClearAlarms(ctx context.Context, session Session, subsystem int) error
}

type client struct {
	baseURL    string
	username   string
	password   string
	httpClient http.Client
}

func New(baseURL, username, password string, requestTimeout time.Duration) Client {
	return &client{
		baseURL:  baseURL,
		username: username,
		password: password,
		httpClient: http.Client{
			Timeout:   requestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type sessionCapabilities struct {
	XMLName        xml.Name `xml:"SessionLoginCap"`
	SessionID      string   `xml:"sessionID"`
	Challenge      string   `xml:"challenge"`
	Salt           string   `xml:"salt"`
	Salt2          string   `xml:"salt2"`
	IsIrreversible bool     `xml:"isIrreversible"`
	Iterations     int      `xml:"iterations"`
}

type sessionLogin struct {
	XMLName   xml.Name `xml:"SessionLogin"`
	UserName  string   `xml:"userName"`
	Password  string   `xml:"password"`
	SessionID string   `xml:"sessionID"`
}

// Login performs the two step session handshake: fetch the per attempt
// challenge, salts and iteration count for the username, compute the salted
// iterated digest, and post it to the login endpoint. The session cookie of
// the response becomes the session token.
func (c *client) Login(ctx context.Context) (Session, error) {
	var err error
	ctx, span := tracer.Start(ctx, "panel-login")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	cap, err := c.capabilities(ctx)
	if err != nil {
		return Session{}, err
	}

	if cap.SessionID == "" || cap.Challenge == "" || cap.Iterations == 0 {
		err = fmt.Errorf("%w: incomplete capability response", ErrAuth)
		return Session{}, err
	}

	login := sessionLogin{
		UserName:  c.username,
		Password:  sessionDigest(cap, c.username, c.password),
		SessionID: cap.SessionID,
	}

	body, err := xml.Marshal(login)
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrAuth, err.Error())
		return Session{}, err
	}

	url := fmt.Sprintf("%s/ISAPI/Security/sessionLogin?timeStamp=%d", c.baseURL, time.Now().Unix())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrAuth, err.Error())
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrAuth, err.Error())
		return Session{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		err = fmt.Errorf("%w: login returned status %d", ErrAuth, resp.StatusCode)
		return Session{}, err
	}

	cookies := resp.Cookies()
	if len(cookies) == 0 {
		err = fmt.Errorf("%w: no session cookie in login response", ErrAuth)
		return Session{}, err
	}

	return Session{Cookie: cookies[0].Name + "=" + cookies[0].Value}, nil
}

func (c *client) capabilities(ctx context.Context) (sessionCapabilities, error) {
	url := fmt.Sprintf("%s/ISAPI/Security/sessionLogin/capabilities?username=%s", c.baseURL, c.username)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return sessionCapabilities{}, fmt.Errorf("%w: %s", ErrAuth, err.Error())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return sessionCapabilities{}, fmt.Errorf("%w: %s", ErrAuth, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return sessionCapabilities{}, fmt.Errorf("%w: capabilities returned status %d", ErrAuth, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return sessionCapabilities{}, fmt.Errorf("%w: %s", ErrAuth, err.Error())
	}

	cap := sessionCapabilities{}
	err = xml.Unmarshal(body, &cap)
	if err != nil {
		return sessionCapabilities{}, fmt.Errorf("%w: malformed capability response: %s", ErrAuth, err.Error())
	}

	return cap, nil
}

// ZoneStatus fetches the raw alarm state of every zone in a single
// authenticated GET.
func (c *client) ZoneStatus(ctx context.Context, session Session) ([]ZoneStatus, error) {
	var err error
	ctx, span := tracer.Start(ctx, "panel-zone-status")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	url := c.baseURL + "/ISAPI/SecurityCP/status/zones?format=json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrTransport, err.Error())
		return nil, err
	}
	req.Header.Set("Cookie", session.Cookie)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrTransport, err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("%w: zone status returned status %d", ErrTransport, resp.StatusCode)
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrTransport, err.Error())
		return nil, err
	}

	zones := zoneListResponse{}

	err = json.Unmarshal(body, &zones)
	if err != nil {
		err = fmt.Errorf("%w: malformed zone status body: %s", ErrTransport, err.Error())
		return nil, err
	}

	return lo.Map(zones.ZoneList, func(entry zoneEntry, _ int) ZoneStatus {
		return entry.Zone
	}), nil
}

type zoneEntry struct {
	Zone ZoneStatus `json:"Zone"`
}

type zoneListResponse struct {
	ZoneList []zoneEntry `json:"ZoneList"`
}

// ClearAlarms resets every alarm on the panel for the given subsystem.
// Repeating the call is safe.
func (c *client) ClearAlarms(ctx context.Context, session Session, subsystem int) error {
	var err error
	ctx, span := tracer.Start(ctx, "panel-clear-alarms")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	url := fmt.Sprintf("%s/ISAPI/SecurityCP/control/clearAlarm/%d?format=json", c.baseURL, subsystem)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, nil)
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrTransport, err.Error())
		return err
	}
	req.Header.Set("Cookie", session.Cookie)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("%w: %s", ErrTransport, err.Error())
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		err = fmt.Errorf("%w: clear alarm returned status %d", ErrTransport, resp.StatusCode)
		return err
	}

	return nil
}
