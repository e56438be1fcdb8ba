// Package client is the consuming side of the chat core: a REST client, a
// reconnecting live-channel client and the controllers that merge the two
// into a conversation view and a conversation list.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"campuscart/chat-service/internal/apperr"
	"campuscart/chat-service/internal/models"
)

// Identity is the signed-in user as supplied by the marketplace login flow.
type Identity struct {
	ID    string
	Token string
}

type API struct {
	baseURL  string
	identity Identity
	http     *http.Client
}

func NewAPI(baseURL string, identity Identity, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &API{
		baseURL:  strings.TrimRight(baseURL, "/"),
		identity: identity,
		http:     httpClient,
	}
}

func (a *API) Identity() Identity { return a.identity }

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// errorFor turns a non-2xx response into the matching error kind.
func errorFor(resp *http.Response) error {
	var body errorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(data))
		if body.Message == "" {
			body.Message = http.StatusText(resp.StatusCode)
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperr.Auth(body.Message)
	case resp.StatusCode == http.StatusNotFound:
		return apperr.NotFound(body.Message)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return apperr.Validation(body.Message)
	default:
		return apperr.Storage(body.Message, fmt.Errorf("status %d", resp.StatusCode))
	}
}

func (a *API) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	u := a.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return apperr.Validation("invalid request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return apperr.Validation("invalid request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+a.identity.Token)

	resp, err := a.http.Do(req)
	if err != nil {
		return apperr.Storage("chat server unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorFor(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Storage("malformed response", err)
	}
	return nil
}

func (a *API) ListConversations(ctx context.Context) ([]*models.ConversationSummary, error) {
	var out []*models.ConversationSummary
	if err := a.do(ctx, http.MethodGet, "/api/chats", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) AccessConversation(ctx context.Context, partnerID string) (*models.ConversationSummary, error) {
	var out models.ConversationSummary
	in := map[string]string{"userId": partnerID}
	if err := a.do(ctx, http.MethodPost, "/api/chats", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) OpenConversation(ctx context.Context, partnerID string) (*models.ConversationView, error) {
	var out models.ConversationView
	if err := a.do(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(partnerID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) HistoryPage(ctx context.Context, partnerID, beforeMessageID string, limit int) ([]*models.Message, error) {
	q := url.Values{}
	if beforeMessageID != "" {
		q.Set("before", beforeMessageID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out []*models.Message
	if err := a.do(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(partnerID)+"/messages", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) ClearConversation(ctx context.Context, partnerID string) (int, error) {
	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := a.do(ctx, http.MethodDelete, "/api/chats/"+url.PathEscape(partnerID)+"/messages", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

func (a *API) SendMessage(ctx context.Context, partnerID, content, clientID string) (*models.Message, error) {
	in := map[string]string{
		"receiver": partnerID,
		"content":  content,
		"clientId": clientID,
	}
	var out models.Message
	if err := a.do(ctx, http.MethodPost, "/api/chats/message", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) SearchUsers(ctx context.Context, query string) ([]*models.UserProfile, error) {
	var out []*models.UserProfile
	if err := a.do(ctx, http.MethodGet, "/api/users", url.Values{"search": {query}}, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var out models.UserProfile
	if err := a.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
