package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var adjectives = []string{
	"Salty", "Lucky", "Tilted", "Based", "Hype",
	"Broke", "Degen", "Cursed", "Mirror", "Upset",
	"Whale", "Shrimp", "Combo", "Frame", "Turbo",
}

var nouns = []string{
	"Bettor", "Gambler", "Shark", "Punter", "Oracle",
	"Dreamer", "Sweeper", "Juggler", "Brawler", "Grappler",
	"Zoner", "Rushdown", "Pixel", "Sprite", "Mook",
}

func pick(n int) (int64, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return idx.Int64(), nil
}

// GenerateNickname creates a random nickname in the format "Adjective_Noun_XXXX"
func GenerateNickname() (string, error) {
	adj, err := pick(len(adjectives))
	if err != nil {
		return "", fmt.Errorf("failed to generate random adjective: %w", err)
	}
	noun, err := pick(len(nouns))
	if err != nil {
		return "", fmt.Errorf("failed to generate random noun: %w", err)
	}
	suffix, err := pick(10000)
	if err != nil {
		return "", fmt.Errorf("failed to generate random suffix: %w", err)
	}

	return fmt.Sprintf("%s_%s_%04d", adjectives[adj], nouns[noun], suffix), nil
}
