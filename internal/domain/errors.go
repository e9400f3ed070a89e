package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidIntent    = errors.New("invalid order intent")
	ErrNoEligibleVenues = errors.New("no eligible venues")
	ErrAlreadyTerminal  = errors.New("order already in a terminal state")
	ErrVenueUnknown     = errors.New("unknown venue")
	ErrVenueDisconnected = errors.New("venue disconnected")
	ErrInsufficientCash = errors.New("insufficient cash")
	ErrExpired          = errors.New("expired")
)
