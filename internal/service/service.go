// Package service contains the application services wiring domain logic
// to the store, queue, cache and notifier ports.
package service

import "github.com/google/uuid"

func generateID() string {
	return uuid.NewString()
}
