package utils

import (
	"regexp"
	"testing"
)

func TestGenerateNickname(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Za-z]+_[A-Za-z]+_\d{4}$`)
	for i := 0; i < 20; i++ {
		nick, err := GenerateNickname()
		if err != nil {
			t.Fatalf("GenerateNickname failed: %v", err)
		}
		if !pattern.MatchString(nick) {
			t.Errorf("unexpected nickname format: %q", nick)
		}
	}
}
