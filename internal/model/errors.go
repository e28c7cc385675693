package model

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrStackBusy         = errors.New("stack is busy")
	ErrStackExists       = errors.New("a stack with this title already exists")
	ErrActionUnavailable = errors.New("action is not available for this stack")
	ErrInvalidHostState  = errors.New("hosts are not in a valid state for this action")
	ErrInvalidInput      = errors.New("invalid input")
)
