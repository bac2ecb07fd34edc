package service

import "errors"

var (
	ErrFollowSelf   = errors.New("cannot follow self")
	ErrUserNotFound = errors.New("user not found")
	ErrPostNotFound = errors.New("post not found")
)
