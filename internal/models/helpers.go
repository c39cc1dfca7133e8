package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

func GenerateGameID() string {
	return uuid.New().String()
}

func GenerateTransactionID() string {
	return "tx_" + uuid.New().String()
}

func GenerateClientSeed() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate client seed: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
