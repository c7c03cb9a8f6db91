package metabase

import (
	"context"
	"encoding/json"
	"fmt"
)

type currentUser struct {
	CommonName  string `json:"common_name"`
	Email       string `json:"email"`
	IsSuperuser bool   `json:"is_superuser"`
}

// TestConnection fetches the current user. It never returns an error: any
// failure is reported through the returned ConnectionStatus.
func (c *HTTPClient) TestConnection(ctx context.Context) ConnectionStatus {
	data, err := c.Get(ctx, currentUserEndpoint, nil)
	if err != nil {
		return ConnectionStatus{
			Success:    false,
			Error:      err.Error(),
			StatusCode: StatusCode(err),
		}
	}

	var u currentUser
	if err := json.Unmarshal(data, &u); err != nil {
		return ConnectionStatus{
			Success: false,
			Error:   fmt.Sprintf("decode current user: %v", err),
		}
	}

	name := u.CommonName
	if name == "" {
		name = u.Email
	}
	return ConnectionStatus{
		Success:     true,
		User:        name,
		Email:       u.Email,
		IsSuperuser: u.IsSuperuser,
	}
}
