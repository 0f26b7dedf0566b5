package client

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"swimbook/pkg/model"
)

// ReservationsClient calls the session and booking endpoints of a
// reservations server.
type ReservationsClient struct {
	httpClient *HttpClient
}

func NewReservationsClient(baseURL string) *ReservationsClient {
	return &ReservationsClient{
		httpClient: NewHttpClient(baseURL),
	}
}

// HTTP exposes the underlying client for raw calls.
func (c *ReservationsClient) HTTP() *HttpClient {
	return c.httpClient
}

func (c *ReservationsClient) CreateSession(ctx context.Context, session *model.Session) (*Response, error) {
	return c.httpClient.POST(ctx, "/api/v1/sessions", session)
}

func (c *ReservationsClient) GetSession(ctx context.Context, id string) (*Response, error) {
	return c.httpClient.GET(ctx, "/api/v1/sessions/id/"+url.PathEscape(id))
}

// ListSessions sends the filter's statuses as one comma separated parameter.
func (c *ReservationsClient) ListSessions(ctx context.Context, filter model.SessionFilter, limit int, offset int64) (*Response, error) {
	q := url.Values{}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		q.Set("status", strings.Join(statuses, ","))
	}
	if filter.Instructor != "" {
		q.Set("instructor", filter.Instructor)
	}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.FormatInt(offset, 10))
	return c.httpClient.GET(ctx, "/api/v1/sessions?"+q.Encode())
}

func (c *ReservationsClient) CancelSession(ctx context.Context, id string) (*Response, error) {
	return c.httpClient.POST(ctx, "/api/v1/sessions/id/"+url.PathEscape(id)+"/cancel", nil)
}

func (c *ReservationsClient) PromoteWaitlist(ctx context.Context, sessionID string) (*Response, error) {
	return c.httpClient.POST(ctx, "/api/v1/sessions/id/"+url.PathEscape(sessionID)+"/promote", nil)
}

// Capacity fetches the live view, or the view at asOf when it is non-nil.
func (c *ReservationsClient) Capacity(ctx context.Context, sessionID string, asOf *time.Time) (*Response, error) {
	path := "/api/v1/sessions/id/" + url.PathEscape(sessionID) + "/capacity"
	if asOf != nil {
		path += "?as_of=" + url.QueryEscape(asOf.UTC().Format(time.RFC3339Nano))
	}
	return c.httpClient.GET(ctx, path)
}

func (c *ReservationsClient) SessionBookings(ctx context.Context, sessionID string, statuses ...model.BookingStatus) (*Response, error) {
	path := "/api/v1/sessions/id/" + url.PathEscape(sessionID) + "/bookings"
	if len(statuses) > 0 {
		q := url.Values{}
		for _, s := range statuses {
			q.Add("status", string(s))
		}
		path += "?" + q.Encode()
	}
	return c.httpClient.GET(ctx, path)
}

// CreateBooking sends X-Member-ID as the acting member and, when key is set,
// an Idempotency-Key.
func (c *ReservationsClient) CreateBooking(ctx context.Context, req *model.BookingRequest, key string) (*Response, error) {
	headers := map[string]string{"X-Member-ID": req.MemberID}
	if key != "" {
		headers["Idempotency-Key"] = key
	}
	return c.httpClient.POSTWithHeaders(ctx, "/api/v1/bookings", req, headers)
}

func (c *ReservationsClient) GetBooking(ctx context.Context, id string) (*Response, error) {
	return c.httpClient.GET(ctx, "/api/v1/bookings/id/"+url.PathEscape(id))
}

func (c *ReservationsClient) CancelBooking(ctx context.Context, id string) (*Response, error) {
	return c.httpClient.PATCH(ctx, "/api/v1/bookings/id/"+url.PathEscape(id)+"/cancel", nil)
}
