// internal/clients/circulation_client.go
package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"libracore/internal/catalog"
	"libracore/internal/circulation"
	"libracore/internal/membership"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CirculationClient talks to a running circulation service over HTTP.
// Error responses are mapped back onto the circulation sentinel errors, so
// callers can use errors.Is the same way they would against the service.
type CirculationClient struct {
	baseURL string
	http    *http.Client
}

func NewCirculationClient(baseURL string, httpClient *http.Client) *CirculationClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &CirculationClient{baseURL: baseURL, http: httpClient}
}

func (c *CirculationClient) LoanResource(ctx context.Context, user string, ref circulation.CopyRef) (circulation.Loan, error) {
	var loan circulation.Loan
	err := c.do(ctx, http.MethodPost, "/loans", copyBody(user, ref), &loan, http.StatusCreated)
	return loan, err
}

func (c *CirculationClient) ReturnResource(ctx context.Context, user string, ref circulation.CopyRef) (circulation.ReturnReceipt, error) {
	var receipt circulation.ReturnReceipt
	err := c.do(ctx, http.MethodPost, "/returns", copyBody(user, ref), &receipt, http.StatusOK)
	return receipt, err
}

func (c *CirculationClient) RequestResource(ctx context.Context, user, resourceID string) (circulation.RequestReceipt, error) {
	var receipt circulation.RequestReceipt
	err := c.do(ctx, http.MethodPost, "/requests", resourceBody(user, resourceID), &receipt, http.StatusCreated)
	return receipt, err
}

func (c *CirculationClient) CancelRequest(ctx context.Context, user, resourceID string) error {
	return c.do(ctx, http.MethodDelete, "/requests", resourceBody(user, resourceID), nil, http.StatusNoContent)
}

func (c *CirculationClient) CheckForOverdue(ctx context.Context, user string) ([]circulation.CopyRef, error) {
	return c.refs(ctx, "/members/"+url.PathEscape(user)+"/overdue")
}

func (c *CirculationClient) FindAllOverdue(ctx context.Context) ([]circulation.CopyRef, error) {
	return c.refs(ctx, "/overdue")
}

func (c *CirculationClient) PayFine(ctx context.Context, user string, amount int) (membership.Member, error) {
	var member membership.Member
	body := map[string]int{"amount": amount}
	err := c.do(ctx, http.MethodPost, "/members/"+url.PathEscape(user)+"/payments", body, &member, http.StatusOK)
	return member, err
}

func (c *CirculationClient) GetResource(ctx context.Context, id string) (circulation.ResourceView, error) {
	var view circulation.ResourceView
	err := c.do(ctx, http.MethodGet, "/resources/"+url.PathEscape(id), nil, &view, http.StatusOK)
	return view, err
}

func (c *CirculationClient) ListResources(ctx context.Context) ([]circulation.ResourceView, error) {
	var views []circulation.ResourceView
	err := c.do(ctx, http.MethodGet, "/resources", nil, &views, http.StatusOK)
	return views, err
}

func (c *CirculationClient) SearchResources(ctx context.Context, q catalog.Query) ([]circulation.ResourceView, error) {
	params := url.Values{}
	params.Set("q", q.Text)
	for _, k := range q.Kinds {
		params.Add("kind", string(k))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	var views []circulation.ResourceView
	err := c.do(ctx, http.MethodGet, "/resources?"+params.Encode(), nil, &views, http.StatusOK)
	return views, err
}

func (c *CirculationClient) RemoveResource(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/resources/"+url.PathEscape(id), nil, nil, http.StatusNoContent)
}

// ResourceHistory returns the journal of a resource. Event data is left
// as raw JSON.
func (c *CirculationClient) ResourceHistory(ctx context.Context, id string) ([]circulation.Event, error) {
	var raw []struct {
		Type string              `json:"type"`
		Data jsoniter.RawMessage `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/resources/"+url.PathEscape(id)+"/events", nil, &raw, http.StatusOK); err != nil {
		return nil, err
	}
	events := make([]circulation.Event, len(raw))
	for i, e := range raw {
		events[i] = circulation.Event{Type: e.Type, Data: e.Data}
	}
	return events, nil
}

func (c *CirculationClient) GetMember(ctx context.Context, username string) (membership.Member, error) {
	var member membership.Member
	err := c.do(ctx, http.MethodGet, "/members/"+url.PathEscape(username), nil, &member, http.StatusOK)
	return member, err
}

func (c *CirculationClient) refs(ctx context.Context, path string) ([]circulation.CopyRef, error) {
	var raw []string
	if err := c.do(ctx, http.MethodGet, path, nil, &raw, http.StatusOK); err != nil {
		return nil, err
	}
	refs := make([]circulation.CopyRef, 0, len(raw))
	for _, s := range raw {
		ref, err := circulation.ParseCopyRef(s)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (c *CirculationClient) do(ctx context.Context, method, path string, in, out any, want int) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// statusError turns an error response into the matching sentinel.
func statusError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	msg := payload.Error
	if msg == "" {
		msg = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", circulation.ErrNotFound, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", circulation.ErrInvalidArgument, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", circulation.ErrPolicyViolation, msg)
	default:
		return fmt.Errorf("unexpected status code: %d: %s", resp.StatusCode, msg)
	}
}

func copyBody(user string, ref circulation.CopyRef) map[string]string {
	return map[string]string{"username": user, "copy": ref.String()}
}

func resourceBody(user, resourceID string) map[string]string {
	return map[string]string{"username": user, "resource_id": resourceID}
}
