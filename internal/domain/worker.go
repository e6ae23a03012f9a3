package domain

import "time"

// Worker is a directory entry for a specialist who can hold tickets.
type Worker struct {
	ID         string    `yaml:"id"`
	Name       string    `yaml:"name"`
	Email      string    `yaml:"email"`
	Department Category  `yaml:"department"`
	CreatedAt  time.Time `yaml:"created_at"`
}
