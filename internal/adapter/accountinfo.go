package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
)

// genericUserInfo is the union of identity fields the known vendors' user
// info / profile endpoints return. Not every vendor populates every field.
type genericUserInfo struct {
	UserID   string `json:"user_id"`
	ID       string `json:"id"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Mobile   string `json:"mobile"`
	Name     string `json:"name"`
	Nickname string `json:"nickname"`
	IsGuest  bool   `json:"is_guest"`
	Data     struct {
		UserID   string `json:"user_id"`
		Email    string `json:"email"`
		Phone    string `json:"phone"`
		Nickname string `json:"nickname"`
		IsGuest  bool   `json:"is_guest"`
	} `json:"data"`
}

func (g *genericUserInfo) toAccountInfo() *AccountInfo {
	info := &AccountInfo{
		UserID:   firstNonEmpty(g.Data.UserID, g.UserID, g.ID),
		Email:    firstNonEmpty(g.Data.Email, g.Email),
		Phone:    firstNonEmpty(g.Data.Phone, g.Phone, g.Mobile),
		Name:     g.Name,
		Nickname: firstNonEmpty(g.Data.Nickname, g.Nickname),
		IsGuest:  g.IsGuest || g.Data.IsGuest,
	}
	return info
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// FetchAccountInfo issues httpReq, expecting a JSON body shaped like one of
// the vendors' user-info endpoints, and maps it onto AccountInfo. Any
// transport or decode failure is returned as (nil, err) — callers treat
// that as "introspection unavailable", not as a guest rejection.
func FetchAccountInfo(ctx context.Context, client *http.Client, httpReq *http.Request) (*AccountInfo, error) {
	resp, err := client.Do(httpReq.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &httpStatusError{status: resp.StatusCode}
	}

	var raw genericUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw.toAccountInfo(), nil
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return "adapter: user info request failed with status " + strconv.Itoa(e.status)
}
