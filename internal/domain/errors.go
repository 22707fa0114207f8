package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found by ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when a job has already left the
	// pending state and cannot be claimed for processing again.
	ErrJobAlreadyClaimed = errors.New("job already claimed")

	// ErrInvalidSourceURL is returned when a submitted repository URL is
	// empty or not a fetchable git URL.
	ErrInvalidSourceURL = errors.New("invalid repository URL")

	// ErrInvalidStatus is returned when an unknown status filter is supplied.
	ErrInvalidStatus = errors.New("invalid job status")
)
