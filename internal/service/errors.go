package service

import "errors"

var (
	ErrMissingShopID     = errors.New("shop id is required")
	ErrMissingCustomerID = errors.New("customer id is required")
	ErrMissingEntryID    = errors.New("entry id is required")
)
