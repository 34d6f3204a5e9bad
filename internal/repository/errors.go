// Package repository provides GORM-backed access to topics, subscribers,
// subscriptions and content.
package repository

import (
	"errors"

	"gorm.io/gorm"
)

// errors
var (
	ErrNotFound              = errors.New("record not found")
	ErrNotPending            = errors.New("content is not pending")
	ErrDuplicateTopic        = errors.New("topic name already exists")
	ErrDuplicateEmail        = errors.New("subscriber email already exists")
	ErrDuplicateSubscription = errors.New("subscription already exists")
)

// translate maps driver errors onto the package sentinels.
func translate(err error, duplicate error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case duplicate != nil && errors.Is(err, gorm.ErrDuplicatedKey):
		return duplicate
	default:
		return err
	}
}

// exists reports whether a row of model with the given id exists.
func exists(tx *gorm.DB, model any, id int64) (bool, error) {
	var n int64
	if err := tx.Model(model).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}
