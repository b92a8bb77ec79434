package auth

import "errors"

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token has expired")
	ErrWrongTokenUse = errors.New("wrong token type")
)
