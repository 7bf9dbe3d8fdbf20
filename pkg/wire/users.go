package wire

import (
	"context"
	"net/url"

	dErrors "pims/pkg/domain-errors"
	"pims/pkg/transport"
)

// Users is the entry point for the /Users resource group.
type Users struct {
	c *Client
}

// Details fetches one user by key. The server wraps the single record in a
// paged envelope.
func (u Users) Details(ctx context.Context, userKey string) (User, error) {
	raw, err := u.c.session.Get(ctx, "/Users/"+url.PathEscape(userKey)+"/Details")
	if err != nil {
		return User{}, opError(err, "get user "+userKey)
	}
	var page listResponse[User]
	if err := transport.Decode(raw, &page); err != nil {
		return User{}, opError(err, "get user "+userKey)
	}
	if len(page.Data) == 0 {
		return User{}, dErrors.Newf(dErrors.CodeNotFound, "user %q not found", userKey)
	}
	return page.Data[0], nil
}
