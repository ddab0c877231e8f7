// Package cont carries the authenticated user through the request context.
package cont

import (
	"context"
	"taskmarket/entity"
)

type userKey struct{}

// PutUser stores a copy, so handlers cannot change the cached user.
func PutUser(c context.Context, user *entity.User) context.Context {
	if user == nil {
		return c
	}
	u := *user
	return context.WithValue(c, userKey{}, &u)
}

// GetUser returns the authenticated user or nil when the request is anonymous.
func GetUser(c context.Context) *entity.User {
	user, _ := c.Value(userKey{}).(*entity.User)
	return user
}
