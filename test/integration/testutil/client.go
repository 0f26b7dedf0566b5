package testutil

import (
	"context"
	"testing"
	"time"

	"swimbook/pkg/client"
)

// Client wraps the reservations API client and fails the test on transport
// errors.
type Client struct {
	*client.ReservationsClient
	http *client.HttpClient
}

type Response = client.Response

func NewClient(baseURL string) *Client {
	api := client.NewReservationsClient(baseURL)
	return &Client{ReservationsClient: api, http: api.HTTP()}
}

func (c *Client) GET(t *testing.T, path string) *Response {
	t.Helper()
	return Must(t)(c.http.GET(context.Background(), path))
}

func (c *Client) POST(t *testing.T, path string, body any) *Response {
	t.Helper()
	return Must(t)(c.http.POST(context.Background(), path, body))
}

func (c *Client) PATCH(t *testing.T, path string, body any) *Response {
	t.Helper()
	return Must(t)(c.http.PATCH(context.Background(), path, body))
}

// POSTWithHeaders performs POST request with custom headers
func (c *Client) POSTWithHeaders(t *testing.T, path string, body any, headers map[string]string) *Response {
	t.Helper()
	return Must(t)(c.http.POSTWithHeaders(context.Background(), path, body, headers))
}

// Must unwraps a typed client call, failing the test on a transport error.
func Must(t *testing.T) func(*Response, error) *Response {
	t.Helper()
	return func(resp *Response, err error) *Response {
		t.Helper()
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		return resp
	}
}

// WaitForHealthy polls /ready until every backing service answers.
func (c *Client) WaitForHealthy(t *testing.T, maxWait time.Duration) {
	t.Helper()
	if err := c.http.WaitForReady(context.Background(), maxWait); err != nil {
		t.Fatal(err)
	}
	t.Log("Service is healthy")
}

// AssertStatusCode fails the test if status code doesn't match
func AssertStatusCode(t *testing.T, resp *Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d. Body: %s", expected, resp.StatusCode, string(resp.Body))
	}
}

// ErrorCode extracts the machine readable code from an error response.
func ErrorCode(t *testing.T, resp *Response) string {
	t.Helper()
	code := resp.ErrorCode()
	if code == "" {
		t.Fatalf("response carries no error code. Body: %s", string(resp.Body))
	}
	return code
}

// Data decodes the "data" envelope of a success response into target.
func Data(t *testing.T, resp *Response, target any) {
	t.Helper()
	if err := resp.DecodeData(target); err != nil {
		t.Fatalf("%v. Body: %s", err, string(resp.Body))
	}
}
