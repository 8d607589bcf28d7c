package models

import (
	"github.com/google/uuid"
)

// generateID 生成唯一ID
func generateID() string {
	return uuid.New().String()
}

// NewID 生成唯一ID (UUID v4)
func NewID() string {
	return generateID()
}
